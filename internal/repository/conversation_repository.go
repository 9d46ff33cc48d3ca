package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/marketplace-chat/internal/model"
	"gorm.io/gorm"
)

type ConversationRepository interface {
	Create(ctx context.Context, cv *model.Conversation) error
	FindByID(ctx context.Context, id uint64) (*model.Conversation, error)
	// FindForItemAndUser returns the conversation on an item where uid is
	// either side, or nil when none exists.
	FindForItemAndUser(ctx context.Context, itemID uint64, uid string) (*model.Conversation, error)
	FindByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, convID uint64) ([]model.Message, error)
	ListMessagesSince(ctx context.Context, convID uint64, since time.Time) ([]model.Message, error)
	LatestMessage(ctx context.Context, convID uint64) (*model.Message, error)
	SetDB(db *gorm.DB)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) SetDB(db *gorm.DB) {
	r.db = db
}

func (r *conversationRepository) Create(ctx context.Context, cv *model.Conversation) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(cv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint64) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).First(&cv, id).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindForItemAndUser(ctx context.Context, itemID uint64, uid string) (*model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var cv model.Conversation
	if err := r.db.WithContext(ctx).
		Where("item_id = ? AND (buyer_uid = ? OR seller_uid = ?)", itemID, uid, uid).
		First(&cv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cv, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Conversation
	if err := r.db.WithContext(ctx).
		Where("seller_uid = ? OR buyer_uid = ?", uid, uid).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *conversationRepository) CreateMessage(ctx context.Context, msg *model.Message) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *conversationRepository) ListMessages(ctx context.Context, convID uint64) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msgs []model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *conversationRepository) ListMessagesSince(ctx context.Context, convID uint64, since time.Time) ([]model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msgs []model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at >= ?", convID, since).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *conversationRepository) LatestMessage(ctx context.Context, convID uint64) (*model.Message, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var msg model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at DESC, id DESC").
		First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}
