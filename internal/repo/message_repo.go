// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
//
// A conversation is the unordered pair {a, b}; queries that take two user ids
// match messages in either direction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// pairScope restricts a query to messages exchanged between a and b.
func pairScope(a, b string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))", a, b, b, a)
	}
}

// withParticipants preloads sender and recipient rows.
func withParticipants(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Sender").Preload("Recipient")
}

// CreateMessage inserts m. A missing ID is generated and CreatedAt defaults
// to now (UTC).
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	if m.MessageType == "" {
		m.MessageType = domain.MessageText
	}
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID with sender and recipient populated.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Scopes(withParticipants).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountConversation returns the number of messages between a and b.
func CountConversation(ctx context.Context, db *gorm.DB, a, b string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Scopes(pairScope(a, b)).Count(&total).Error
	return total, err
}

// ListConversationPage returns messages between a and b ordered
// (CreatedAt ASC, ID ASC), with participants populated.
func ListConversationPage(ctx context.Context, db *gorm.DB, a, b string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	tx := db.WithContext(ctx).
		Scopes(pairScope(a, b), withParticipants).
		Order("created_at ASC, id ASC").
		Offset(offset)
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&out).Error
	return out, err
}

// ListRecentConversation returns the newest limit messages between a and b in
// ascending order.
func ListRecentConversation(ctx context.Context, db *gorm.DB, a, b string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Scopes(pairScope(a, b)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HasExchanged reports whether a and b have ever exchanged a message.
// Soft-deleted messages count.
func HasExchanged(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Unscoped().Model(&domain.Message{}).Scopes(pairScope(a, b)).Limit(1).Count(&n).Error
	return n > 0, err
}

// MarkRead flips is_read for messageID when it is addressed to recipientID and
// still unread. It reports rows affected (0 or 1).
func MarkRead(ctx context.Context, db *gorm.DB, messageID, recipientID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", messageID, recipientID, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

// MarkConversationRead marks every unread message from peerID to readerID as
// read and reports how many changed.
func MarkConversationRead(ctx context.Context, db *gorm.DB, readerID, peerID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", peerID, readerID, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

// SetMessagePinned sets is_pinned on a message that userID sent or received.
// Returns ErrNotFound when no such message exists for userID.
func SetMessagePinned(ctx context.Context, db *gorm.DB, messageID, userID string, pinned bool) error {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND (sender_id = ? OR recipient_id = ?)", messageID, userID, userID).
		Update("is_pinned", pinned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPinnedMessages returns pinned messages between a and b, newest first.
func ListPinnedMessages(ctx context.Context, db *gorm.DB, a, b string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Scopes(pairScope(a, b), withParticipants).
		Where("is_pinned = ?", true).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListMediaMessages returns messages between a and b whose type is one of
// types, newest first.
func ListMediaMessages(ctx context.Context, db *gorm.DB, a, b string, types []string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Scopes(pairScope(a, b), withParticipants).
		Where("message_type IN ?", types).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// CountUnread returns how many messages addressed to userID are unread.
func CountUnread(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// UnreadBySender returns unread counts for userID keyed by sender id.
func UnreadBySender(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	var rows []struct {
		SenderID string
		N        int64
	}
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Select("sender_id, COUNT(*) AS n").
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.SenderID] = r.N
	}
	return out, nil
}

// LatestPerPeer returns, for every user userID has exchanged messages with,
// the most recent message of that conversation. Rows are newest first.
func LatestPerPeer(ctx context.Context, db *gorm.DB, userID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).Raw(`
SELECT * FROM (
	SELECT m.*, ROW_NUMBER() OVER (
		PARTITION BY CASE WHEN m.sender_id = ? THEN m.recipient_id ELSE m.sender_id END
		ORDER BY m.created_at DESC, m.id DESC
	) AS rn
	FROM messages m
	WHERE (m.sender_id = ? OR m.recipient_id = ?) AND m.deleted_at IS NULL
) AS ranked
WHERE rn = 1
ORDER BY created_at DESC, id DESC`, userID, userID, userID).
		Scan(&out).Error
	return out, err
}

// DeleteMessage soft-deletes a message sent by senderID. Returns ErrNotFound
// when senderID did not send it.
func DeleteMessage(ctx context.Context, db *gorm.DB, messageID, senderID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", messageID, senderID).
		Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
