// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations on insert are reported as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a row with the same unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// glebarez/sqlite reports these as plain-text errors rather than
// gorm.ErrDuplicatedKey unless TranslateError is on.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateUser inserts u. A missing ID is generated; timestamps are set in UTC.
// Returns ErrDuplicate when the username key or email is already taken.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = domain.StatusOffline
	}
	if u.AllowGroupAdd == "" {
		u.AllowGroupAdd = domain.GroupAddEveryone
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by lower-cased email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsernameKey fetches a user by case-folded username.
func GetUserByUsernameKey(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username_key = ?", key).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user except exceptID, ordered by username.
func ListUsers(ctx context.Context, db *gorm.DB, exceptID string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("id <> ?", exceptID).
		Order("username_key ASC").
		Find(&out).Error
	return out, err
}

// SearchUsers returns up to limit users (excluding exceptID) whose username or
// email contains q, case-insensitively. The caller passes q already folded.
func SearchUsers(ctx context.Context, db *gorm.DB, exceptID, q string, limit int) ([]domain.User, error) {
	var out []domain.User
	like := "%" + escapeLike(q) + "%"
	tx := db.WithContext(ctx).
		Where("id <> ?", exceptID).
		Where("(username_key LIKE ? ESCAPE '\\' OR email LIKE ? ESCAPE '\\')", like, like).
		Order("username_key ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&out).Error
	return out, err
}

// UsersByIDs loads the given users keyed by id. Unknown ids are skipped.
func UsersByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.User
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u
	}
	return out, nil
}

// UpdateUser applies the given column updates to user id. Returns ErrNotFound
// when no row matched and ErrDuplicate on a unique violation.
func UpdateUser(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPresence persists a user's presence. lastSeen is written only when non-nil.
func SetPresence(ctx context.Context, db *gorm.DB, id, status string, lastSeen *time.Time) error {
	fields := map[string]any{"status": status}
	if lastSeen != nil {
		fields["last_seen"] = *lastSeen
	}
	return db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields).Error
}

// ResetPresence marks every user offline. Used at startup, since the presence
// table is process-local and starts empty.
func ResetPresence(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.User{}).
		Where("status = ?", domain.StatusOnline).
		Updates(map[string]any{"status": domain.StatusOffline, "last_seen": at})
	return res.RowsAffected, res.Error
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
