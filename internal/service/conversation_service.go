package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shinyyama/marketplace-chat/internal/media"
	"github.com/shinyyama/marketplace-chat/internal/model"
	"github.com/shinyyama/marketplace-chat/internal/repository"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrSelfConversation = errors.New("cannot open a conversation on your own item")
	ErrEmptyBody        = errors.New("message body is required")
)

// ConversationSummary is the per-viewer projection of a conversation used to
// render a conversation list. Derived on demand, never persisted.
type ConversationSummary struct {
	ConversationID uint64    `json:"conversationId"`
	ItemID         uint64    `json:"itemId"`
	ItemTitle      string    `json:"itemTitle"`
	ItemPrice      uint      `json:"itemPrice"`
	ItemImageURL   string    `json:"itemImageUrl,omitempty"`
	OtherUID       string    `json:"otherUid"`
	OtherName      string    `json:"otherName"`
	OtherIconURL   string    `json:"otherIconUrl,omitempty"`
	LastMessage    string    `json:"lastMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	HasMessages    bool      `json:"hasMessages"`
}

type ConversationService interface {
	// CreateOrGet resolves the conversation for (item, caller), creating it
	// with the caller as buyer when none exists. The item's seller may not
	// open a conversation on their own item.
	CreateOrGet(ctx context.Context, itemID uint64, callerUID string) (*model.Conversation, error)
	Find(ctx context.Context, convID uint64) (*model.Conversation, error)
	ConversationsByUser(ctx context.Context, uid string) ([]model.Conversation, error)
	// AppendMessage persists a message after confirming the sender is a
	// participant. Returns the message and its conversation.
	AppendMessage(ctx context.Context, convID uint64, senderUID, body string) (*model.Message, *model.Conversation, error)
	Messages(ctx context.Context, convID uint64) ([]model.Message, error)
	MessagesSince(ctx context.Context, convID uint64, since time.Time) ([]model.Message, error)
	Summaries(ctx context.Context, viewerUID string) ([]ConversationSummary, error)
	// DisplayImages resolves the icon URL for each given uid. Unknown uids
	// map to the empty string.
	DisplayImages(ctx context.Context, uids ...string) (map[string]string, error)
	ItemImage(ctx context.Context, itemID uint64) (string, error)
}

type conversationService struct {
	convRepo repository.ConversationRepository
	itemRepo repository.ItemRepository
	userRepo repository.UserRepository
	images   media.Resolver
}

func NewConversationService(convRepo repository.ConversationRepository, itemRepo repository.ItemRepository, userRepo repository.UserRepository, images media.Resolver) ConversationService {
	if images == nil {
		images = media.Passthrough{}
	}
	return &conversationService{convRepo: convRepo, itemRepo: itemRepo, userRepo: userRepo, images: images}
}

func (s *conversationService) CreateOrGet(ctx context.Context, itemID uint64, callerUID string) (*model.Conversation, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if cv, err := s.convRepo.FindForItemAndUser(ctx, itemID, callerUID); err != nil {
		return nil, err
	} else if cv != nil {
		return cv, nil
	}
	if item.SellerUID == callerUID {
		return nil, ErrSelfConversation
	}
	cv := &model.Conversation{ItemID: itemID, SellerUID: item.SellerUID, BuyerUID: callerUID}
	if err := s.convRepo.Create(ctx, cv); err != nil {
		return nil, err
	}
	return cv, nil
}

func (s *conversationService) Find(ctx context.Context, convID uint64) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cv, nil
}

func (s *conversationService) ConversationsByUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	return s.convRepo.FindByUser(ctx, uid)
}

func (s *conversationService) AppendMessage(ctx context.Context, convID uint64, senderUID, body string) (*model.Message, *model.Conversation, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil, ErrEmptyBody
	}
	cv, err := s.Find(ctx, convID)
	if err != nil {
		return nil, nil, err
	}
	if !cv.HasParticipant(senderUID) {
		return nil, nil, ErrForbidden
	}
	msg := &model.Message{
		ConversationID: convID,
		SenderUID:      senderUID,
		Body:           body,
	}
	if err := s.convRepo.CreateMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	return msg, cv, nil
}

func (s *conversationService) Messages(ctx context.Context, convID uint64) ([]model.Message, error) {
	return s.convRepo.ListMessages(ctx, convID)
}

func (s *conversationService) MessagesSince(ctx context.Context, convID uint64, since time.Time) ([]model.Message, error) {
	return s.convRepo.ListMessagesSince(ctx, convID, since)
}

func (s *conversationService) Summaries(ctx context.Context, viewerUID string) ([]ConversationSummary, error) {
	convs, err := s.convRepo.FindByUser(ctx, viewerUID)
	if err != nil {
		return nil, err
	}
	otherUIDs := make([]string, 0, len(convs))
	for _, cv := range convs {
		otherUIDs = append(otherUIDs, cv.OtherParticipant(viewerUID))
	}
	others, err := s.userRepo.FindByUIDs(ctx, otherUIDs)
	if err != nil {
		return nil, err
	}

	sums := make([]ConversationSummary, 0, len(convs))
	for _, cv := range convs {
		sum := ConversationSummary{
			ConversationID: cv.ID,
			ItemID:         cv.ItemID,
			OtherUID:       cv.OtherParticipant(viewerUID),
			LastMessageAt:  cv.CreatedAt,
		}
		item, err := s.itemRepo.FindByID(ctx, cv.ItemID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if item != nil {
			sum.ItemTitle = item.Title
			sum.ItemPrice = item.Price
			if item.ImageURL != nil {
				sum.ItemImageURL = s.images.ResolveURL(ctx, *item.ImageURL)
			}
		}
		if other, ok := others[sum.OtherUID]; ok {
			sum.OtherName = other.DisplayName
			if other.IconURL != nil {
				sum.OtherIconURL = s.images.ResolveURL(ctx, *other.IconURL)
			}
		}
		last, err := s.convRepo.LatestMessage(ctx, cv.ID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			sum.LastMessage = last.Body
			sum.LastMessageAt = last.CreatedAt
			sum.HasMessages = true
		}
		sums = append(sums, sum)
	}
	sort.SliceStable(sums, func(i, j int) bool {
		return sums[i].LastMessageAt.After(sums[j].LastMessageAt)
	})
	return sums, nil
}

func (s *conversationService) DisplayImages(ctx context.Context, uids ...string) (map[string]string, error) {
	users, err := s.userRepo.FindByUIDs(ctx, uids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(uids))
	for _, uid := range uids {
		out[uid] = ""
		if u, ok := users[uid]; ok && u.IconURL != nil {
			out[uid] = s.images.ResolveURL(ctx, *u.IconURL)
		}
	}
	return out, nil
}

func (s *conversationService) ItemImage(ctx context.Context, itemID uint64) (string, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	if item.ImageURL == nil {
		return "", nil
	}
	return s.images.ResolveURL(ctx, *item.ImageURL), nil
}
