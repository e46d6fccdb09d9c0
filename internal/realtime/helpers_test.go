package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// recorder captures pushed events; it serves as both a presence.Conn and a
// session transport.
type recorder struct {
	id, user string

	mu     sync.Mutex
	events []presence.Event
	fail   error
	closed bool
}

func newRecorder(id, user string) *recorder { return &recorder{id: id, user: user} }

func (r *recorder) ID() string     { return r.id }
func (r *recorder) UserID() string { return r.user }

func (r *recorder) Push(ev presence.Event) error { return r.Send(ev) }

func (r *recorder) Send(ev presence.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) all(typ string) []presence.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []presence.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) first(t *testing.T, typ string) presence.Event {
	t.Helper()
	evs := r.all(typ)
	if len(evs) == 0 {
		t.Fatalf("%s: no %q event; got %v", r.id, typ, r.types())
	}
	return evs[0]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rt_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string, private bool) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:            name,
		Username:      name,
		UsernameKey:   name,
		Email:         name + "@example.com",
		PasswordHash:  "x",
		IsPrivate:     private,
		Status:        domain.StatusOffline,
		AllowGroupAdd: domain.GroupAddEveryone,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

type fixture struct {
	db     *gorm.DB
	reg    *presence.Registry
	router *Router
	typing *Typing
	hub    *Hub
	tokens *auth.TokenIssuer
}

func testRealtimeConfig(policy string) config.RealtimeConfig {
	return config.RealtimeConfig{
		PingInterval:    time.Second,
		PongTimeout:     3 * time.Second,
		WriteTimeout:    time.Second,
		SendBuffer:      16,
		MaxFrameBytes:   64 << 10,
		EventRPS:        1000,
		EventBurst:      1000,
		DuplicatePolicy: policy,
	}
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	db := newTestDB(t)
	reg := presence.NewRegistry()
	store := DBStore{DB: db}
	reqs := &services.RequestService{DB: db}
	router := &Router{
		Registry: reg,
		Store:    store,
		Gate:     &services.Gate{DB: db},
		Requests: reqs,
		Log:      zerolog.Nop(),
		MaxRunes: 100,
	}
	typing := &Typing{Registry: reg, Blocks: store, Log: zerolog.Nop()}
	tokens := auth.NewTokenIssuer(testSecret, "test", time.Hour)
	hub := NewHub(HubOptions{
		Registry: reg,
		Router:   router,
		Typing:   typing,
		Tokens:   tokens,
		Users:    store,
		Config:   testRealtimeConfig(policy),
		Log:      zerolog.Nop(),
	})
	reqs.Notifier = hub
	return &fixture{db: db, reg: reg, router: router, typing: typing, hub: hub, tokens: tokens}
}

func loadMessage(t *testing.T, db *gorm.DB, id string) *domain.Message {
	t.Helper()
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		t.Fatalf("load message %s: %v", id, err)
	}
	return &m
}

func loadUser(t *testing.T, db *gorm.DB, id string) *domain.User {
	t.Helper()
	var u domain.User
	if err := db.Where("id = ?", id).First(&u).Error; err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return &u
}
