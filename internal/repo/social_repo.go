// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the per-user social graph: blocks,
// pinned chats and starred messages. Inserts are idempotent (ON CONFLICT DO
// NOTHING); deletes report ErrNotFound when nothing matched.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// BlockUser records that blockerID blocks blockedID.
func BlockUser(ctx context.Context, db *gorm.DB, blockerID, blockedID string) error {
	b := &domain.Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b).Error
}

// UnblockUser removes a block.
func UnblockUser(ctx context.Context, db *gorm.DB, blockerID, blockedID string) error {
	res := db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&domain.Block{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsBlocked reports whether blockerID has blocked blockedID.
func IsBlocked(ctx context.Context, db *gorm.DB, blockerID, blockedID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Block{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&n).Error
	return n > 0, err
}

// ListBlocked returns the users blockerID has blocked, most recent first.
func ListBlocked(ctx context.Context, db *gorm.DB, blockerID string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Joins("JOIN blocks ON blocks.blocked_id = users.id").
		Where("blocks.blocker_id = ?", blockerID).
		Order("blocks.created_at DESC").
		Find(&out).Error
	return out, err
}

// PinChat pins the conversation with peerID for userID.
func PinChat(ctx context.Context, db *gorm.DB, userID, peerID string) error {
	p := &domain.PinnedChat{UserID: userID, PeerID: peerID, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error
}

// UnpinChat removes a pinned chat.
func UnpinChat(ctx context.Context, db *gorm.DB, userID, peerID string) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND peer_id = ?", userID, peerID).
		Delete(&domain.PinnedChat{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPinnedChats returns the peer ids userID pinned, most recent first.
func ListPinnedChats(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).Model(&domain.PinnedChat{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Pluck("peer_id", &out).Error
	return out, err
}

// StarMessage bookmarks messageID for userID.
func StarMessage(ctx context.Context, db *gorm.DB, userID, messageID string) error {
	s := &domain.StarredMessage{UserID: userID, MessageID: messageID, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s).Error
}

// UnstarMessage removes a bookmark.
func UnstarMessage(ctx context.Context, db *gorm.DB, userID, messageID string) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Delete(&domain.StarredMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListStarredMessages returns the messages userID starred, most recently
// starred first, with participants populated.
func ListStarredMessages(ctx context.Context, db *gorm.DB, userID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Scopes(withParticipants).
		Joins("JOIN starred_messages ON starred_messages.message_id = messages.id").
		Where("starred_messages.user_id = ?", userID).
		Order("starred_messages.created_at DESC").
		Find(&out).Error
	return out, err
}
