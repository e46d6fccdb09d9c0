package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gate decides whether a direct message may be persisted.
type Gate struct {
	DB *gorm.DB
}

// Check returns nil when senderID may message recipientID directly.
//
// Errors:
//   - ErrUserNotFound: recipient does not exist.
//   - ErrBlocked: recipient has blocked sender.
//   - ErrRequestRequired: recipient is private and the pair has neither
//     exchanged a message nor an accepted request.
func (g *Gate) Check(ctx context.Context, senderID, recipientID string) error {
	tr := otel.Tracer("services/Gate")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	recipient, err := repo.GetUser(ctx, g.DB, recipientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	blocked, err := repo.IsBlocked(ctx, g.DB, recipientID, senderID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrBlocked
	}

	if !recipient.IsPrivate {
		return nil
	}
	exchanged, err := repo.HasExchanged(ctx, g.DB, senderID, recipientID)
	if err != nil {
		return err
	}
	if exchanged {
		return nil
	}
	accepted, err := repo.HasAcceptedRequest(ctx, g.DB, senderID, recipientID)
	if err != nil {
		return err
	}
	if accepted {
		return nil
	}
	return ErrRequestRequired
}
