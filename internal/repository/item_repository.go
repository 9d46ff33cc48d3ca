package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/marketplace-chat/internal/model"
	"gorm.io/gorm"
)

var ErrDBNotReady = errors.New("database not initialized")

type ItemRepository interface {
	FindByID(ctx context.Context, id uint64) (*model.Item, error)
	SetDB(db *gorm.DB)
}

type itemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) FindByID(ctx context.Context, id uint64) (*model.Item, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var item model.Item
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *itemRepository) SetDB(db *gorm.DB) {
	r.db = db
}
