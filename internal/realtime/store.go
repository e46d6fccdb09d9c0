package realtime

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// DBStore adapts the repository free functions to Store, UserStore and
// BlockChecker.
type DBStore struct {
	DB *gorm.DB
}

// CreateMessage proxies repo.CreateMessage.
func (s DBStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	return repo.CreateMessage(ctx, s.DB, m)
}

// GetMessage proxies repo.GetMessage.
func (s DBStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return repo.GetMessage(ctx, s.DB, id)
}

// MarkRead proxies repo.MarkRead.
func (s DBStore) MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (int64, error) {
	return repo.MarkRead(ctx, s.DB, messageID, recipientID, at)
}

// MarkConversationRead proxies repo.MarkConversationRead.
func (s DBStore) MarkConversationRead(ctx context.Context, readerID, peerID string, at time.Time) (int64, error) {
	return repo.MarkConversationRead(ctx, s.DB, readerID, peerID, at)
}

// GetUser proxies repo.GetUser.
func (s DBStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return repo.GetUser(ctx, s.DB, id)
}

// SetPresence proxies repo.SetPresence.
func (s DBStore) SetPresence(ctx context.Context, id, status string, lastSeen *time.Time) error {
	return repo.SetPresence(ctx, s.DB, id, status, lastSeen)
}

// IsBlocked proxies repo.IsBlocked.
func (s DBStore) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	return repo.IsBlocked(ctx, s.DB, blockerID, blockedID)
}
