// Package services – RequestService
//
// Message requests gate first contact with a private user. A request moves
// from pending to accepted or rejected exactly once; the transition is a
// conditional update so concurrent resolutions cannot both succeed.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestNotifier is told about request lifecycle changes so live
// participants can be updated.
type RequestNotifier interface {
	RequestReceived(req *domain.MessageRequest)
	RequestUpdated(req *domain.MessageRequest)
}

// RequestService manages message requests.
type RequestService struct {
	DB       *gorm.DB
	Notifier RequestNotifier
}

// Create opens a pending request from senderID to recipientID carrying note.
//
// Errors: ErrSelf, ErrUserNotFound, ErrNotPrivate, ErrBlocked,
// ErrRequestPending.
func (s *RequestService) Create(ctx context.Context, senderID, recipientID, note string) (*domain.MessageRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	if senderID == recipientID {
		return nil, ErrSelf
	}
	recipient, err := repo.GetUser(ctx, s.DB, recipientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !recipient.IsPrivate {
		return nil, ErrNotPrivate
	}
	blocked, err := repo.IsBlocked(ctx, s.DB, recipientID, senderID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}
	if _, err := repo.FindPendingRequest(ctx, s.DB, senderID, recipientID); err == nil {
		return nil, ErrRequestPending
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	created, err := repo.CreateRequest(ctx, s.DB, senderID, recipientID, strings.TrimSpace(note))
	if err != nil {
		return nil, err
	}
	req, err := repo.GetRequest(ctx, s.DB, created.ID)
	if err != nil {
		return nil, err
	}
	if s.Notifier != nil {
		s.Notifier.RequestReceived(req)
	}
	return req, nil
}

// Pending lists requests awaiting userID's decision.
func (s *RequestService) Pending(ctx context.Context, userID string) ([]domain.MessageRequest, error) {
	return repo.ListIncomingRequests(ctx, s.DB, userID)
}

// Sent lists every request userID has sent.
func (s *RequestService) Sent(ctx context.Context, userID string) ([]domain.MessageRequest, error) {
	return repo.ListOutgoingRequests(ctx, s.DB, userID)
}

// Accept moves a pending request addressed to userID to accepted.
func (s *RequestService) Accept(ctx context.Context, userID, id string) (*domain.MessageRequest, error) {
	return s.resolve(ctx, userID, id, domain.RequestAccepted)
}

// Reject moves a pending request addressed to userID to rejected.
func (s *RequestService) Reject(ctx context.Context, userID, id string) (*domain.MessageRequest, error) {
	return s.resolve(ctx, userID, id, domain.RequestRejected)
}

func (s *RequestService) resolve(ctx context.Context, userID, id, to string) (*domain.MessageRequest, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("request.status", to),
		),
	)
	defer span.End()

	n, err := repo.ResolveRequest(ctx, s.DB, id, userID, to)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRequestNotFound
	}
	req, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if s.Notifier != nil {
		s.Notifier.RequestUpdated(req)
	}
	return req, nil
}
