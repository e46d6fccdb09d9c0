package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

var cheapParams = auth.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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

func seedMsg(t *testing.T, db *gorm.DB, from, to, content string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{SenderID: from, RecipientID: to, Content: content, CreatedAt: at}
	if err := repo.CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

// repoFuncs satisfies UserRepo with the package-level repo functions.
type repoFuncs struct{}

func (repoFuncs) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}
func (repoFuncs) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}
func (repoFuncs) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}
func (repoFuncs) GetUserByUsernameKey(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	return repo.GetUserByUsernameKey(ctx, db, key)
}
func (repoFuncs) ListUsers(ctx context.Context, db *gorm.DB, exceptID string) ([]domain.User, error) {
	return repo.ListUsers(ctx, db, exceptID)
}
func (repoFuncs) SearchUsers(ctx context.Context, db *gorm.DB, exceptID, q string, limit int) ([]domain.User, error) {
	return repo.SearchUsers(ctx, db, exceptID, q, limit)
}
func (repoFuncs) UsersByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	return repo.UsersByIDs(ctx, db, ids)
}
func (repoFuncs) UpdateUser(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdateUser(ctx, db, id, fields)
}
func (repoFuncs) SetPresence(ctx context.Context, db *gorm.DB, id, status string, lastSeen *time.Time) error {
	return repo.SetPresence(ctx, db, id, status, lastSeen)
}

type fakePresence struct {
	online       []string
	disconnected []string
	live         map[string]bool
}

func (p *fakePresence) Online() []string { return p.online }

func (p *fakePresence) Disconnect(userID string) bool {
	p.disconnected = append(p.disconnected, userID)
	return p.live[userID]
}

type fakeNotifier struct {
	mu       sync.Mutex
	received []*domain.MessageRequest
	updated  []*domain.MessageRequest
}

func (n *fakeNotifier) RequestReceived(r *domain.MessageRequest) {
	n.mu.Lock()
	n.received = append(n.received, r)
	n.mu.Unlock()
}

func (n *fakeNotifier) RequestUpdated(r *domain.MessageRequest) {
	n.mu.Lock()
	n.updated = append(n.updated, r)
	n.mu.Unlock()
}
