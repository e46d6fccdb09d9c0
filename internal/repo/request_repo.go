// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for MessageRequest.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateRequest inserts a pending request from senderID to recipientID.
func CreateRequest(ctx context.Context, db *gorm.DB, senderID, recipientID, note string) (*domain.MessageRequest, error) {
	now := time.Now().UTC()
	r := &domain.MessageRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      domain.RequestPending,
		Note:        note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRequest fetches a request by id with both participants populated.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.MessageRequest, error) {
	var r domain.MessageRequest
	err := db.WithContext(ctx).
		Preload("Sender").Preload("Recipient").
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindPendingRequest returns the pending request from senderID to
// recipientID, or ErrNotFound.
func FindPendingRequest(ctx context.Context, db *gorm.DB, senderID, recipientID string) (*domain.MessageRequest, error) {
	var r domain.MessageRequest
	err := db.WithContext(ctx).
		Where("sender_id = ? AND recipient_id = ? AND status = ?", senderID, recipientID, domain.RequestPending).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// HasAcceptedRequest reports whether an accepted request exists between a
// and b in either direction.
func HasAcceptedRequest(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.MessageRequest{}).
		Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)) AND status = ?",
			a, b, b, a, domain.RequestAccepted).
		Count(&n).Error
	return n > 0, err
}

// ListIncomingRequests returns pending requests addressed to recipientID,
// newest first, with the sender populated.
func ListIncomingRequests(ctx context.Context, db *gorm.DB, recipientID string) ([]domain.MessageRequest, error) {
	var out []domain.MessageRequest
	err := db.WithContext(ctx).
		Preload("Sender").
		Where("recipient_id = ? AND status = ?", recipientID, domain.RequestPending).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ListOutgoingRequests returns every request sent by senderID, newest first,
// with the recipient populated.
func ListOutgoingRequests(ctx context.Context, db *gorm.DB, senderID string) ([]domain.MessageRequest, error) {
	var out []domain.MessageRequest
	err := db.WithContext(ctx).
		Preload("Recipient").
		Where("sender_id = ?", senderID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ResolveRequest moves a pending request addressed to recipientID into status
// to. The update is conditional on status = pending, so a request resolves
// exactly once; it reports rows affected (0 or 1).
func ResolveRequest(ctx context.Context, db *gorm.DB, id, recipientID, to string) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.MessageRequest{}).
		Where("id = ? AND recipient_id = ? AND status = ?", id, recipientID, domain.RequestPending).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// PurgeStaleRequests deletes pending requests created before cutoff.
func PurgeStaleRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.RequestPending, cutoff).
		Delete(&domain.MessageRequest{})
	return res.RowsAffected, res.Error
}
