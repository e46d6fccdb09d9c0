package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_models_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		User{}.TableName():           "users",
		Message{}.TableName():        "messages",
		MessageRequest{}.TableName(): "message_requests",
		Block{}.TableName():          "blocks",
		PinnedChat{}.TableName():     "pinned_chats",
		StarredMessage{}.TableName(): "starred_messages",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestValidMessageType(t *testing.T) {
	for _, v := range MessageTypes {
		if !ValidMessageType(v) {
			t.Fatalf("%q should be valid", v)
		}
	}
	for _, v := range []string{"", "TEXT", "location", "poll"} {
		if ValidMessageType(v) {
			t.Fatalf("%q should be invalid", v)
		}
	}
}

func TestUser_PasswordHashNeverSerialized(t *testing.T) {
	u := User{ID: "u1", Username: "alice", Email: "a@x.io", PasswordHash: "$argon2id$secret"}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "argon2id") || strings.Contains(string(b), "password") {
		t.Fatalf("password hash leaked: %s", b)
	}
}

func TestMessage_ViewPopulatesParticipants(t *testing.T) {
	m := Message{
		ID: "m1", SenderID: "a", RecipientID: "b", Content: "hi",
		Sender:    &User{ID: "a", Username: "alice", Avatar: "av"},
		Recipient: &User{ID: "b", Username: "bob"},
	}
	v := m.View()
	if v.SenderInfo == nil || v.SenderInfo.Username != "alice" || v.SenderInfo.Avatar != "av" {
		t.Fatalf("sender not populated: %+v", v.SenderInfo)
	}
	if v.RecipientInfo == nil || v.RecipientInfo.Username != "bob" {
		t.Fatalf("recipient not populated: %+v", v.RecipientInfo)
	}

	bare := Message{ID: "m2"}.View()
	if bare.SenderInfo != nil || bare.RecipientInfo != nil {
		t.Fatalf("expected nil participants when associations not loaded")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Message{}, &MessageRequest{}, &Block{}, &PinnedChat{}, &StarredMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	if !m.HasIndex(&User{}, "ux_users_username_key") {
		t.Fatalf("expected unique index ux_users_username_key on users")
	}
	if !m.HasIndex(&Message{}, "idx_msgs_pair") {
		t.Fatalf("expected index idx_msgs_pair on messages")
	}
	if !m.HasIndex(&MessageRequest{}, "idx_req_inbox") {
		t.Fatalf("expected index idx_req_inbox on message_requests")
	}

	now := time.Now().UTC()
	a := &User{ID: "a", Username: "alice", UsernameKey: "alice", Email: "a@x.io", PasswordHash: "h", Status: StatusOffline, AllowGroupAdd: GroupAddEveryone}
	b := &User{ID: "b", Username: "bob", UsernameKey: "bob", Email: "b@x.io", PasswordHash: "h", Status: StatusOffline, AllowGroupAdd: GroupAddEveryone}
	for _, u := range []*User{a, b} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}

	// Username keys are unique.
	dup := &User{ID: "c", Username: "ALICE", UsernameKey: "alice", Email: "c@x.io", PasswordHash: "h", Status: StatusOffline, AllowGroupAdd: GroupAddEveryone}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on username_key")
	}

	// Status check constraint.
	bad := &User{ID: "d", Username: "dan", UsernameKey: "dan", Email: "d@x.io", PasswordHash: "h", Status: "away", AllowGroupAdd: GroupAddEveryone}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected check violation on status")
	}

	msg := &Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "hi", MessageType: MessageText, CreatedAt: now}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := db.Create(&StarredMessage{UserID: "b", MessageID: "m1", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert star: %v", err)
	}

	// CASCADE: hard-deleting a message removes its stars.
	if err := db.Unscoped().Delete(&Message{}, "id = ?", "m1").Error; err != nil {
		t.Fatalf("delete message: %v", err)
	}
	var cnt int64
	if err := db.Model(&StarredMessage{}).Where("message_id = ?", "m1").Count(&cnt).Error; err != nil {
		t.Fatalf("count stars: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected stars to cascade-delete, got %d", cnt)
	}
}
