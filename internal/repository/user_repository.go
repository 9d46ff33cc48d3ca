package repository

import (
	"context"

	"github.com/shinyyama/marketplace-chat/internal/model"
	"gorm.io/gorm"
)

type UserRepository interface {
	FindByUID(ctx context.Context, uid string) (*model.User, error)
	FindByUIDs(ctx context.Context, uids []string) (map[string]model.User, error)
	SetDB(db *gorm.DB)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByUID(ctx context.Context, uid string) (*model.User, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var u model.User
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByUIDs(ctx context.Context, uids []string) (map[string]model.User, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[string]model.User, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	var list []model.User
	if err := r.db.WithContext(ctx).Where("uid IN ?", uids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, u := range list {
		out[u.UID] = u
	}
	return out, nil
}

func (r *userRepository) SetDB(db *gorm.DB) {
	r.db = db
}
