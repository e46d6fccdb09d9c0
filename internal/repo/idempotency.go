package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// GetIdempotency returns the live record for (userID, scope, key), or
// ErrNotFound when there is none or it expired at or before now.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(&domain.Idempotency{UserID: userID, Scope: scope, Key: key}).
		Where("expires_at > ?", now).
		Take(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records that (userID, scope, key) produced messageID with
// status, valid for ttl. An expired row under the same key is overwritten in
// place; a live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Scope:     scope,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "scope"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "message_id", "status", "created_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency.expires_at <= ?", Vars: []any{now}},
		}},
	}).Create(rec)
	switch {
	case isUniqueViolation(res.Error):
		return nil, ErrDuplicate
	case res.Error != nil:
		return nil, res.Error
	case res.RowsAffected == 0:
		return nil, ErrDuplicate
	}
	return rec, nil
}

// PurgeExpiredIdempotency hard-deletes records whose window closed at or
// before now and reports how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
