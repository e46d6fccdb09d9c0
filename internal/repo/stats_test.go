package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestConversationStats(t *testing.T) {
	ctx := context.Background()

	t.Run("missing table", func(t *testing.T) {
		if _, _, err := ConversationStats(ctx, newBareDB(t), "a", "b"); err == nil {
			t.Fatal("want error without schema")
		}
	})

	t.Run("empty conversation", func(t *testing.T) {
		n, last, err := ConversationStats(ctx, newRepoDB(t), "a", "b")
		if err != nil || n != 0 || last != nil {
			t.Fatalf("got (%d, %v, %v)", n, last, err)
		}
	})

	t.Run("version moves with changes", func(t *testing.T) {
		db := newRepoDB(t)
		for _, n := range []string{"a", "b", "c"} {
			seedUser(t, db, n)
		}
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedMsg(t, db, "m1", "a", "b", t0, domain.MessageText)
		seedMsg(t, db, "m2", "b", "a", t0.Add(time.Hour), domain.MessageText)
		seedMsg(t, db, "m3", "a", "c", t0.Add(2*time.Hour), domain.MessageText)

		// Either participant sees the same version; other pairs are excluded.
		for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
			n, last, err := ConversationStats(ctx, db, pair[0], pair[1])
			if err != nil || n != 2 || last == nil || !last.Equal(t0.Add(time.Hour)) {
				t.Fatalf("%v: n=%d last=%v err=%v", pair, n, last, err)
			}
		}

		if _, err := MarkRead(ctx, db, "m1", "b", time.Now().UTC()); err != nil {
			t.Fatalf("MarkRead: %v", err)
		}
		n, afterRead, _ := ConversationStats(ctx, db, "a", "b")
		if n != 2 || afterRead == nil || !afterRead.After(t0.Add(time.Hour)) {
			t.Fatalf("read receipt did not advance version: n=%d last=%v", n, afterRead)
		}

		if err := DeleteMessage(ctx, db, "m2", "b"); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}
		if n, _, _ := ConversationStats(ctx, db, "a", "b"); n != 1 {
			t.Fatalf("count after delete = %d", n)
		}
	})
}
