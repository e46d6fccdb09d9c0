package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// seedMsg inserts a message from -> to at t0+offset.
func seedMsg(t *testing.T, db *gorm.DB, id, from, to string, at time.Time, typ string) *domain.Message {
	t.Helper()
	m := &domain.Message{ID: id, SenderID: from, RecipientID: to, Content: "c-" + id, MessageType: typ, CreatedAt: at}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	return m
}

func TestCreateAndGetMessage_PopulatesParticipants(t *testing.T) {
	db := newRepoDB(t)
	seedUser(t, db, "a")
	seedUser(t, db, "b")

	m := &domain.Message{SenderID: "a", RecipientID: "b", Content: "hello"}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" || m.MessageType != domain.MessageText || m.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", m)
	}

	got, err := GetMessage(context.Background(), db, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Sender == nil || got.Sender.Username != "a" || got.Recipient == nil || got.Recipient.Username != "b" {
		t.Fatalf("participants not populated: %+v", got)
	}
	if _, err := GetMessage(context.Background(), db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationQueries_BothDirectionsOrdered(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		seedUser(t, db, n)
	}
	t0 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	seedMsg(t, db, "m1", "a", "b", t0, domain.MessageText)
	seedMsg(t, db, "m2", "b", "a", t0.Add(time.Second), domain.MessageImage)
	seedMsg(t, db, "m3", "a", "c", t0.Add(2*time.Second), domain.MessageText)
	seedMsg(t, db, "m4", "a", "b", t0.Add(3*time.Second), domain.MessageVideo)

	n, err := CountConversation(ctx, db, "b", "a")
	if err != nil || n != 3 {
		t.Fatalf("CountConversation: n=%d err=%v", n, err)
	}

	page, err := ListConversationPage(ctx, db, "a", "b", 1, 5)
	if err != nil {
		t.Fatalf("ListConversationPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m4" {
		t.Fatalf("unexpected page: %+v", page)
	}

	recent, err := ListRecentConversation(ctx, db, "a", "b", 2)
	if err != nil || len(recent) != 2 || recent[0].ID != "m2" || recent[1].ID != "m4" {
		t.Fatalf("unexpected recent: %+v err=%v", recent, err)
	}

	media, err := ListMediaMessages(ctx, db, "a", "b", []string{domain.MessageImage, domain.MessageVideo})
	if err != nil || len(media) != 2 || media[0].ID != "m4" {
		t.Fatalf("unexpected media: %+v err=%v", media, err)
	}

	ok, err := HasExchanged(ctx, db, "c", "a")
	if err != nil || !ok {
		t.Fatalf("HasExchanged(c,a) = %v, %v", ok, err)
	}
	ok, err = HasExchanged(ctx, db, "b", "c")
	if err != nil || ok {
		t.Fatalf("HasExchanged(b,c) = %v, %v", ok, err)
	}
}

func TestHasExchanged_CountsDeletedMessages(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedUser(t, db, "a")
	seedUser(t, db, "b")
	seedMsg(t, db, "m1", "a", "b", time.Now().UTC(), domain.MessageText)

	if err := DeleteMessage(ctx, db, "m1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := CountConversation(ctx, db, "a", "b"); n != 0 {
		t.Fatalf("deleted message still listed: %d", n)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, err := HasExchanged(ctx, db, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("HasExchanged(%s,%s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}
}

func TestMarkRead_RecipientOnlyAndOnce(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	seedUser(t, db, "a")
	seedUser(t, db, "b")
	seedMsg(t, db, "m1", "a", "b", time.Now().UTC(), domain.MessageText)

	at := time.Now().UTC()
	if n, err := MarkRead(ctx, db, "m1", "a", at); err != nil || n != 0 {
		t.Fatalf("sender must not mark read: n=%d err=%v", n, err)
	}
	if n, err := MarkRead(ctx, db, "m1", "b", at); err != nil || n != 1 {
		t.Fatalf("recipient mark read: n=%d err=%v", n, err)
	}
	if n, err := MarkRead(ctx, db, "m1", "b", at.Add(time.Minute)); err != nil || n != 0 {
		t.Fatalf("second mark read must be a no-op: n=%d err=%v", n, err)
	}
	got, _ := GetMessage(ctx, db, "m1")
	if !got.IsRead || got.ReadAt == nil || got.ReadAt.After(at.Add(time.Second)) {
		t.Fatalf("read_at should keep first value: %+v", got)
	}
}

func TestUnreadCountsAndConversationRead(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		seedUser(t, db, n)
	}
	now := time.Now().UTC()
	seedMsg(t, db, "m1", "b", "a", now, domain.MessageText)
	seedMsg(t, db, "m2", "b", "a", now.Add(time.Millisecond), domain.MessageText)
	seedMsg(t, db, "m3", "c", "a", now.Add(2*time.Millisecond), domain.MessageText)
	seedMsg(t, db, "m4", "a", "b", now.Add(3*time.Millisecond), domain.MessageText)

	total, err := CountUnread(ctx, db, "a")
	if err != nil || total != 3 {
		t.Fatalf("CountUnread: %d %v", total, err)
	}
	per, err := UnreadBySender(ctx, db, "a")
	if err != nil || per["b"] != 2 || per["c"] != 1 || len(per) != 2 {
		t.Fatalf("UnreadBySender: %v %v", per, err)
	}

	n, err := MarkConversationRead(ctx, db, "a", "b", now)
	if err != nil || n != 2 {
		t.Fatalf("MarkConversationRead: n=%d err=%v", n, err)
	}
	if total, _ := CountUnread(ctx, db, "a"); total != 1 {
		t.Fatalf("expected 1 unread after bulk read, got %d", total)
	}
	// m4 is addressed to b and must remain unread.
	if total, _ := CountUnread(ctx, db, "b"); total != 1 {
		t.Fatalf("expected b to still have 1 unread, got %d", total)
	}
}

func TestPinDeleteAndLatestPerPeer(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c", "x"} {
		seedUser(t, db, n)
	}
	t0 := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	seedMsg(t, db, "m1", "a", "b", t0, domain.MessageText)
	seedMsg(t, db, "m2", "b", "a", t0.Add(time.Minute), domain.MessageText)
	seedMsg(t, db, "m3", "c", "a", t0.Add(2*time.Minute), domain.MessageText)
	seedMsg(t, db, "m4", "a", "c", t0.Add(3*time.Minute), domain.MessageText)

	if err := SetMessagePinned(ctx, db, "m1", "b", true); err != nil {
		t.Fatalf("recipient pin: %v", err)
	}
	if err := SetMessagePinned(ctx, db, "m1", "x", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider pin should be not found, got %v", err)
	}
	pinned, err := ListPinnedMessages(ctx, db, "a", "b")
	if err != nil || len(pinned) != 1 || pinned[0].ID != "m1" {
		t.Fatalf("ListPinnedMessages: %+v %v", pinned, err)
	}

	latest, err := LatestPerPeer(ctx, db, "a")
	if err != nil {
		t.Fatalf("LatestPerPeer: %v", err)
	}
	if len(latest) != 2 || latest[0].ID != "m4" || latest[1].ID != "m2" {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	if err := DeleteMessage(ctx, db, "m4", "c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("only the sender may delete, got %v", err)
	}
	if err := DeleteMessage(ctx, db, "m4", "a"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	latest, _ = LatestPerPeer(ctx, db, "a")
	if len(latest) != 2 || latest[0].ID != "m3" || latest[1].ID != "m2" {
		t.Fatalf("deleted message should drop out of summaries: %+v", latest)
	}
}
