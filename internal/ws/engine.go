package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shinyyama/marketplace-chat/internal/auth"
	"github.com/shinyyama/marketplace-chat/internal/model"
	"github.com/shinyyama/marketplace-chat/internal/service"
)

// Engine dispatches inbound events for authenticated connections. Events
// from one connection are handled serially by its read loop; connections
// run concurrently with each other, so racing sends into the same
// conversation are ordered by whatever order the store assigns at insert
// time.
type Engine struct {
	hub      *Hub
	verifier auth.TokenVerifier
	convs    service.ConversationService
}

func NewEngine(hub *Hub, verifier auth.TokenVerifier, convs service.ConversationService) *Engine {
	return &Engine{hub: hub, verifier: verifier, convs: convs}
}

// ServeConn runs a connection's lifecycle from just after handshake
// verification until disconnect. Blocks until the connection closes.
func (e *Engine) ServeConn(ctx context.Context, conn *websocket.Conn, uid, credential string) {
	c := newClient(uid, credential, conn)
	e.connect(ctx, c)
	go c.writeLoop()
	e.readLoop(ctx, c)
	e.disconnect(c)
}

// connect registers presence and joins the client to a room for every
// conversation it participates in.
func (e *Engine) connect(ctx context.Context, c *Client) {
	e.hub.Register(c)
	convs, err := e.convs.ConversationsByUser(ctx, c.UID)
	if err != nil {
		// Rooms are also joined on demand; a failed warm-up only delays
		// broadcasts until then.
		log.Printf("ws: room warm-up for %s failed: %v", c.UID, err)
		return
	}
	for _, cv := range convs {
		e.hub.JoinRoom(cv.ID, c)
	}
}

func (e *Engine) disconnect(c *Client) {
	c.close()
	e.hub.Unregister(c)
}

func (e *Engine) readLoop(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.trySend(OutEnvelope{Type: EventError, Data: ErrorPayload{Code: CodeValidation, Message: "malformed event"}})
			continue
		}
		if terminate := e.dispatch(ctx, c, env); terminate {
			return
		}
	}
}

// dispatch decodes and handles one event. The returned flag tells the read
// loop to terminate the connection (credential failures only); every other
// failure is reported to the originating connection and the connection
// stays open.
func (e *Engine) dispatch(ctx context.Context, c *Client, env Envelope) bool {
	var err *eventError
	switch env.Type {
	case EventJoinConversation:
		var req JoinConversationRequest
		if err = decode(env.Data, &req); err == nil {
			err = e.handleJoinConversation(ctx, c, req)
		}
	case EventCreateConversation:
		var req CreateConversationRequest
		if err = decode(env.Data, &req); err == nil {
			err = e.handleCreateConversation(ctx, c, req)
		}
	case EventSendMessage:
		var req SendMessageRequest
		if err = decode(env.Data, &req); err == nil {
			err = e.handleSendMessage(ctx, c, req)
		}
	case EventListMessages:
		var req ListMessagesRequest
		if err = decode(env.Data, &req); err == nil {
			err = e.handleListMessages(ctx, c, req)
		}
	case EventListConversations:
		err = e.handleListConversations(ctx, c)
	default:
		err = eventErr(CodeValidation, "unknown event type")
	}
	if err != nil {
		c.trySend(OutEnvelope{Type: EventError, Data: err.payload()})
		return err.Code == CodeUnauthenticated
	}
	return false
}

func decode(raw json.RawMessage, v any) *eventError {
	if len(raw) == 0 {
		return eventErr(CodeValidation, "missing event payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return eventErr(CodeValidation, "malformed event payload")
	}
	return nil
}

// reverify re-validates the connection's stored credential. Tokens expire,
// so a long-lived connection must not outlive its credential on sensitive
// reads and writes.
func (e *Engine) reverify(ctx context.Context, c *Client) *eventError {
	uid, err := e.verifier.Verify(ctx, c.credential)
	if err != nil || uid != c.UID {
		return eventErr(CodeUnauthenticated, "credential no longer valid")
	}
	return nil
}

func (e *Engine) handleJoinConversation(ctx context.Context, c *Client, req JoinConversationRequest) *eventError {
	if req.ChatID == 0 {
		return eventErr(CodeValidation, "chatId is required")
	}
	if err := e.reverify(ctx, c); err != nil {
		return err
	}
	cv, err := e.convs.Find(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return eventErr(CodeNotFound, "conversation not found")
		}
		return internalErr(err)
	}
	if !cv.HasParticipant(c.UID) {
		return eventErr(CodeForbidden, "not a participant")
	}
	e.hub.JoinRoom(cv.ID, c)

	images, err := e.convs.DisplayImages(ctx, cv.BuyerUID, cv.SellerUID)
	if err != nil {
		return internalErr(err)
	}
	msgs, err := e.convs.Messages(ctx, cv.ID)
	if err != nil {
		return internalErr(err)
	}
	if len(msgs) == 0 {
		// Reported condition, not fatal: the client joined the room and
		// will receive broadcasts.
		return eventErr(CodeNoMessages, "no messages in this conversation")
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, MessageView{
			ID:            m.ID,
			ChatID:        m.ConversationID,
			SenderUID:     m.SenderUID,
			Body:          m.Body,
			IsCurrentUser: m.SenderUID == c.UID,
			SenderIconURL: images[m.SenderUID],
			CreatedAt:     m.CreatedAt,
		})
	}
	c.trySend(OutEnvelope{Type: EventMessagesListed, Data: MessagesListedPayload{
		ChatID:   cv.ID,
		Messages: views,
		Images:   ParticipantImages{Buyer: images[cv.BuyerUID], Seller: images[cv.SellerUID]},
	}})
	return nil
}

func (e *Engine) handleCreateConversation(ctx context.Context, c *Client, req CreateConversationRequest) *eventError {
	if req.ProductID == 0 || strings.TrimSpace(req.Content) == "" {
		return eventErr(CodeValidation, "productId and content are required")
	}
	if err := e.reverify(ctx, c); err != nil {
		return err
	}
	cv, err := e.convs.CreateOrGet(ctx, req.ProductID, c.UID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			return eventErr(CodeNotFound, "item not found")
		case errors.Is(err, service.ErrSelfConversation):
			return eventErr(CodeForbidden, "cannot open a conversation on your own item")
		}
		return internalErr(err)
	}
	e.hub.JoinRoom(cv.ID, c)
	// A freshly created room is empty; pull the counterpart's live
	// connections in so they see this first message as a broadcast.
	for _, rc := range e.hub.Lookup(cv.OtherParticipant(c.UID)) {
		e.hub.JoinRoom(cv.ID, rc)
	}
	msg, _, err := e.convs.AppendMessage(ctx, cv.ID, c.UID, req.Content)
	if err != nil {
		return internalErr(err)
	}
	e.deliverMessage(cv, msg, c)
	e.syncConversations(ctx, cv.BuyerUID, cv.SellerUID)
	c.trySend(OutEnvelope{Type: EventConfirmation, Data: ConfirmationPayload{Message: "message sent"}})
	return nil
}

func (e *Engine) handleSendMessage(ctx context.Context, c *Client, req SendMessageRequest) *eventError {
	if req.ChatID == 0 || strings.TrimSpace(req.Content) == "" {
		return eventErr(CodeValidation, "chatId and content are required")
	}
	msg, cv, err := e.convs.AppendMessage(ctx, req.ChatID, c.UID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyBody):
			return eventErr(CodeValidation, "content is required")
		case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrForbidden):
			// One collapsed answer so non-participants cannot probe for
			// conversation existence.
			return eventErr(CodeNotFound, "conversation not found")
		}
		return internalErr(err)
	}
	e.deliverMessage(cv, msg, c)
	e.syncConversations(ctx, cv.BuyerUID, cv.SellerUID)
	c.trySend(OutEnvelope{Type: EventConfirmation, Data: ConfirmationPayload{Message: "message sent"}})
	return nil
}

func (e *Engine) handleListMessages(ctx context.Context, c *Client, req ListMessagesRequest) *eventError {
	if req.ChatID == 0 || req.SinceDate == "" {
		return eventErr(CodeValidation, "chatId and sinceDate are required")
	}
	since, ok := parseSince(req.SinceDate)
	if !ok {
		return eventErr(CodeValidation, "sinceDate is not a valid date")
	}
	if err := e.reverify(ctx, c); err != nil {
		return err
	}
	cv, err := e.convs.Find(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return eventErr(CodeNotFound, "conversation not found")
		}
		return internalErr(err)
	}
	if !cv.HasParticipant(c.UID) {
		return eventErr(CodeForbidden, "not a participant")
	}
	msgs, err := e.convs.MessagesSince(ctx, cv.ID, since)
	if err != nil {
		return internalErr(err)
	}
	images, err := e.convs.DisplayImages(ctx, cv.BuyerUID, cv.SellerUID)
	if err != nil {
		return internalErr(err)
	}
	itemImage, err := e.convs.ItemImage(ctx, cv.ItemID)
	if err != nil {
		return internalErr(err)
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, MessageView{
			ID:            m.ID,
			ChatID:        m.ConversationID,
			SenderUID:     m.SenderUID,
			Body:          m.Body,
			IsCurrentUser: m.SenderUID == c.UID,
			SenderIconURL: images[m.SenderUID],
			ItemImageURL:  itemImage,
			CreatedAt:     m.CreatedAt,
		})
	}
	c.trySend(OutEnvelope{Type: EventMessagesListed, Data: MessagesListedPayload{
		ChatID:   cv.ID,
		Messages: views,
		Images:   ParticipantImages{Buyer: images[cv.BuyerUID], Seller: images[cv.SellerUID]},
	}})
	return nil
}

func (e *Engine) handleListConversations(ctx context.Context, c *Client) *eventError {
	if err := e.reverify(ctx, c); err != nil {
		return err
	}
	sums, err := e.convs.Summaries(ctx, c.UID)
	if err != nil {
		return internalErr(err)
	}
	c.trySend(OutEnvelope{Type: EventConversationsListed, Data: ConversationsListedPayload{Conversations: sums}})
	return nil
}

// deliverMessage broadcasts a created message to the conversation's room
// minus the sender (isCurrentUser=false) and unicasts the sender's copy
// (isCurrentUser=true).
func (e *Engine) deliverMessage(cv *model.Conversation, msg *model.Message, sender *Client) {
	view := MessageView{
		ID:        msg.ID,
		ChatID:    msg.ConversationID,
		SenderUID: msg.SenderUID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	e.hub.Broadcast(cv.ID, OutEnvelope{Type: EventMessageCreated, Data: MessageCreatedPayload{Message: view}}, sender)
	view.IsCurrentUser = true
	sender.trySend(OutEnvelope{Type: EventMessageCreated, Data: MessageCreatedPayload{Message: view}})
}

// syncConversations recomputes each target user's conversation list and
// pushes it to their live connections. Users with no live connection are
// skipped silently; they get fresh data on their next listConversations.
func (e *Engine) syncConversations(ctx context.Context, uids ...string) {
	seen := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		clients := e.hub.Lookup(uid)
		if len(clients) == 0 {
			continue
		}
		sums, err := e.convs.Summaries(ctx, uid)
		if err != nil {
			log.Printf("ws: conversation sync for %s failed: %v", uid, err)
			continue
		}
		env := OutEnvelope{Type: EventConversationsListed, Data: ConversationsListedPayload{Conversations: sums}}
		for _, c := range clients {
			c.trySend(env)
		}
	}
}

func parseSince(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
