package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shinyyama/marketplace-chat/internal/model"
	"gorm.io/gorm"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	users map[string]model.User
	items map[uint64]model.Item
	convs map[uint64]model.Conversation
	msgs  []model.Message
	next  uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]model.User{},
		items: map[uint64]model.Item{},
		convs: map[uint64]model.Conversation{},
	}
}

type fakeItems struct{ s *fakeStore }

func (f *fakeItems) FindByID(_ context.Context, id uint64) (*model.Item, error) {
	item, ok := f.s.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &item, nil
}
func (f *fakeItems) SetDB(*gorm.DB) {}

type fakeUsers struct{ s *fakeStore }

func (f *fakeUsers) FindByUID(_ context.Context, uid string) (*model.User, error) {
	u, ok := f.s.users[uid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (f *fakeUsers) FindByUIDs(_ context.Context, uids []string) (map[string]model.User, error) {
	out := map[string]model.User{}
	for _, uid := range uids {
		if u, ok := f.s.users[uid]; ok {
			out[uid] = u
		}
	}
	return out, nil
}
func (f *fakeUsers) SetDB(*gorm.DB) {}

type fakeConvs struct{ s *fakeStore }

func (f *fakeConvs) Create(_ context.Context, cv *model.Conversation) error {
	f.s.next++
	cv.ID = f.s.next
	if cv.CreatedAt.IsZero() {
		cv.CreatedAt = base
	}
	f.s.convs[cv.ID] = *cv
	return nil
}

func (f *fakeConvs) FindByID(_ context.Context, id uint64) (*model.Conversation, error) {
	cv, ok := f.s.convs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &cv, nil
}

func (f *fakeConvs) FindForItemAndUser(_ context.Context, itemID uint64, uid string) (*model.Conversation, error) {
	for _, cv := range f.s.convs {
		if cv.ItemID == itemID && cv.HasParticipant(uid) {
			out := cv
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeConvs) FindByUser(_ context.Context, uid string) ([]model.Conversation, error) {
	var list []model.Conversation
	for _, cv := range f.s.convs {
		if cv.HasParticipant(uid) {
			list = append(list, cv)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (f *fakeConvs) CreateMessage(_ context.Context, msg *model.Message) error {
	msg.ID = uint64(len(f.s.msgs) + 1)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = base.Add(time.Duration(msg.ID) * time.Minute)
	}
	f.s.msgs = append(f.s.msgs, *msg)
	return nil
}

func (f *fakeConvs) ListMessages(_ context.Context, convID uint64) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.s.msgs {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeConvs) ListMessagesSince(_ context.Context, convID uint64, since time.Time) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.s.msgs {
		if m.ConversationID == convID && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeConvs) LatestMessage(_ context.Context, convID uint64) (*model.Message, error) {
	var last *model.Message
	for i := range f.s.msgs {
		m := f.s.msgs[i]
		if m.ConversationID == convID {
			last = &m
		}
	}
	return last, nil
}
func (f *fakeConvs) SetDB(*gorm.DB) {}

func newTestService(s *fakeStore) ConversationService {
	return NewConversationService(&fakeConvs{s}, &fakeItems{s}, &fakeUsers{s}, nil)
}

func strPtr(s string) *string { return &s }

func TestCreateOrGet(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.items[1] = model.Item{ID: 1, Title: "hoodie", SellerUID: "alice"}

	svc := newTestService(s)

	t.Run("creates with caller as buyer", func(t *testing.T) {
		cv, err := svc.CreateOrGet(ctx, 1, "bob")
		if err != nil {
			t.Fatalf("CreateOrGet: %v", err)
		}
		if cv.BuyerUID != "bob" || cv.SellerUID != "alice" {
			t.Fatalf("sides wrong: %+v", cv)
		}
	})

	t.Run("reuses existing conversation", func(t *testing.T) {
		first, _ := svc.CreateOrGet(ctx, 1, "bob")
		second, err := svc.CreateOrGet(ctx, 1, "bob")
		if err != nil {
			t.Fatalf("CreateOrGet: %v", err)
		}
		if first.ID != second.ID {
			t.Fatalf("conversation duplicated: %d vs %d", first.ID, second.ID)
		}
	})

	t.Run("seller finds the existing conversation", func(t *testing.T) {
		cv, err := svc.CreateOrGet(ctx, 1, "alice")
		if err != nil {
			t.Fatalf("CreateOrGet as seller: %v", err)
		}
		if cv.BuyerUID != "bob" {
			t.Fatalf("seller must recover the original buyer, got %+v", cv)
		}
	})

	t.Run("self conversation forbidden", func(t *testing.T) {
		s2 := newFakeStore()
		s2.items[1] = model.Item{ID: 1, SellerUID: "alice"}
		_, err := newTestService(s2).CreateOrGet(ctx, 1, "alice")
		if !errors.Is(err, ErrSelfConversation) {
			t.Fatalf("err = %v, want ErrSelfConversation", err)
		}
		if len(s2.convs) != 0 {
			t.Fatal("forbidden attempt must not create a conversation")
		}
	})

	t.Run("missing item", func(t *testing.T) {
		_, err := svc.CreateOrGet(ctx, 99, "bob")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestAppendMessage(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.convs[1] = model.Conversation{ID: 1, ItemID: 1, SellerUID: "alice", BuyerUID: "bob", CreatedAt: base}
	svc := newTestService(s)

	tests := []struct {
		name    string
		convID  uint64
		sender  string
		body    string
		wantErr error
	}{
		{"participant ok", 1, "bob", "hi", nil},
		{"other side ok", 1, "alice", "hello", nil},
		{"empty body", 1, "bob", "  ", ErrEmptyBody},
		{"non participant", 1, "dave", "hey", ErrForbidden},
		{"missing conversation", 9, "bob", "hi", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, cv, err := svc.AppendMessage(ctx, tt.convID, tt.sender, tt.body)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AppendMessage: %v", err)
			}
			if msg.SenderUID != tt.sender || cv.ID != tt.convID {
				t.Fatalf("unexpected result: msg=%+v cv=%+v", msg, cv)
			}
		})
	}
	if len(s.msgs) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(s.msgs))
	}
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.users["alice"] = model.User{UID: "alice", DisplayName: "Alice", IconURL: strPtr("icons/alice.png")}
	s.users["bob"] = model.User{UID: "bob", DisplayName: "Bob"}
	s.users["carol"] = model.User{UID: "carol", DisplayName: "Carol"}
	s.items[1] = model.Item{ID: 1, Title: "hoodie", Price: 4200, SellerUID: "alice", ImageURL: strPtr("items/hoodie.jpg")}
	s.items[2] = model.Item{ID: 2, Title: "earbuds", Price: 7600, SellerUID: "alice"}
	// Older conversation with a recent message, newer one with none.
	s.convs[1] = model.Conversation{ID: 1, ItemID: 1, SellerUID: "alice", BuyerUID: "bob", CreatedAt: base}
	s.convs[2] = model.Conversation{ID: 2, ItemID: 2, SellerUID: "alice", BuyerUID: "carol", CreatedAt: base.Add(time.Minute)}
	s.msgs = []model.Message{
		{ID: 1, ConversationID: 1, SenderUID: "bob", Body: "hi", CreatedAt: base.Add(2 * time.Minute)},
		{ID: 2, ConversationID: 1, SenderUID: "alice", Body: "hello", CreatedAt: base.Add(5 * time.Minute)},
	}
	svc := newTestService(s)

	sums, err := svc.Summaries(ctx, "alice")
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}

	// Conversation 1's last message (base+5m) beats conversation 2's
	// creation-time sentinel (base+1m).
	if sums[0].ConversationID != 1 || sums[1].ConversationID != 2 {
		t.Fatalf("ordering wrong: %+v", sums)
	}
	if sums[0].LastMessage != "hello" || !sums[0].LastMessageAt.Equal(base.Add(5*time.Minute)) || !sums[0].HasMessages {
		t.Fatalf("last message wrong: %+v", sums[0])
	}
	if sums[0].OtherUID != "bob" || sums[0].OtherName != "Bob" {
		t.Fatalf("other participant wrong: %+v", sums[0])
	}
	if sums[0].ItemTitle != "hoodie" || sums[0].ItemImageURL != "items/hoodie.jpg" {
		t.Fatalf("item fields wrong: %+v", sums[0])
	}
	if sums[1].HasMessages || sums[1].LastMessage != "" || !sums[1].LastMessageAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("empty conversation sentinel wrong: %+v", sums[1])
	}

	// The buyer's view points back at the seller.
	bobSums, err := svc.Summaries(ctx, "bob")
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(bobSums) != 1 || bobSums[0].OtherUID != "alice" || bobSums[0].OtherIconURL != "icons/alice.png" {
		t.Fatalf("buyer view wrong: %+v", bobSums)
	}
}

func TestDisplayImages(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	s.users["alice"] = model.User{UID: "alice", IconURL: strPtr("icons/alice.png")}
	s.users["bob"] = model.User{UID: "bob"}
	svc := newTestService(s)

	images, err := svc.DisplayImages(ctx, "alice", "bob", "ghost")
	if err != nil {
		t.Fatalf("DisplayImages: %v", err)
	}
	if images["alice"] != "icons/alice.png" {
		t.Fatalf("alice icon = %q", images["alice"])
	}
	if images["bob"] != "" || images["ghost"] != "" {
		t.Fatalf("missing icons must map to empty strings: %+v", images)
	}
}
