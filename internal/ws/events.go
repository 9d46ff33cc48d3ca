package ws

import (
	"encoding/json"
	"time"

	"github.com/shinyyama/marketplace-chat/internal/service"
)

// Inbound event names.
const (
	EventJoinConversation   = "joinConversation"
	EventCreateConversation = "createConversationAndMessage"
	EventSendMessage        = "sendMessage"
	EventListMessages       = "listMessages"
	EventListConversations  = "listConversations"
)

// Outbound event names.
const (
	EventError               = "error"
	EventMessagesListed      = "messages_listed"
	EventMessageCreated      = "message_created"
	EventConversationsListed = "conversations_listed"
	EventConfirmation        = "event_confirmation"
)

// Envelope is the inbound wire frame. Data is decoded into the request
// struct matching Type before dispatch.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OutEnvelope is the outbound wire frame.
type OutEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type JoinConversationRequest struct {
	ChatID uint64 `json:"chatId"`
}

type CreateConversationRequest struct {
	ProductID uint64 `json:"productId"`
	Content   string `json:"content"`
}

type SendMessageRequest struct {
	ChatID  uint64 `json:"chatId"`
	Content string `json:"content"`
}

type ListMessagesRequest struct {
	ChatID    uint64 `json:"chatId"`
	SinceDate string `json:"sinceDate"`
}

// MessageView is a message as seen by one viewer.
type MessageView struct {
	ID            uint64    `json:"id"`
	ChatID        uint64    `json:"chatId"`
	SenderUID     string    `json:"senderUid"`
	Body          string    `json:"body"`
	IsCurrentUser bool      `json:"isCurrentUser"`
	SenderIconURL string    `json:"senderIconUrl,omitempty"`
	ItemImageURL  string    `json:"itemImageUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ParticipantImages struct {
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`
}

type MessagesListedPayload struct {
	ChatID   uint64            `json:"chatId"`
	Messages []MessageView     `json:"messages"`
	Images   ParticipantImages `json:"images"`
}

type MessageCreatedPayload struct {
	Message MessageView `json:"message"`
}

type ConversationsListedPayload struct {
	Conversations []service.ConversationSummary `json:"conversations"`
}

type ConfirmationPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
