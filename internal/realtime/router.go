package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/unicode/norm"
)

// Store is the persistence the router depends on.
type Store interface {
	CreateMessage(ctx context.Context, m *domain.Message) error
	// GetMessage returns the message with sender and recipient populated.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// MarkRead flips an unread message addressed to recipientID; it reports
	// rows affected.
	MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (int64, error)
	MarkConversationRead(ctx context.Context, readerID, peerID string, at time.Time) (int64, error)
}

// SendGate vets a sender/recipient pair before anything is persisted.
type SendGate interface {
	Check(ctx context.Context, senderID, recipientID string) error
}

// RequestOpener creates a pending message request.
type RequestOpener interface {
	Create(ctx context.Context, senderID, recipientID, note string) (*domain.MessageRequest, error)
}

// SendResult describes a completed send. Exactly one of Message or Request
// is set.
type SendResult struct {
	Message   *domain.MessageView
	Request   *domain.MessageRequest
	Delivered bool
}

// Router persists messages and delivers them with receipts.
//
// Send and MarkRead never block on a connection: pushes go into bounded
// per-connection buffers and a failed push only downgrades the recipient to
// offline for that message.
type Router struct {
	Registry *presence.Registry
	Store    Store
	Gate     SendGate
	Requests RequestOpener
	Log      zerolog.Logger

	// MaxRunes caps content length; zero disables the cap.
	MaxRunes int
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Send validates, gates, persists and delivers one message from senderID.
// reply is the sender's live connection (nil when none) and receives the
// ack and receipts.
func (r *Router) Send(ctx context.Context, senderID string, reply presence.Conn, p SendPayload) (*SendResult, error) {
	tr := otel.Tracer("realtime/Router")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("recipient.id", p.RecipientID),
			attribute.String("client.id", p.ClientID),
		),
	)
	defer span.End()

	m, err := r.validate(senderID, p)
	if err != nil {
		deliveriesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := r.Gate.Check(ctx, senderID, m.RecipientID); err != nil {
		switch {
		case errors.Is(err, services.ErrRequestRequired):
			return r.openRequest(ctx, senderID, reply, p.ClientID, m)
		case errors.Is(err, services.ErrBlocked), errors.Is(err, services.ErrUserNotFound):
			deliveriesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		default:
			deliveriesTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%w: gate: %v", ErrPersistence, err)
		}
	}

	target, live := r.Registry.Lookup(m.RecipientID)
	now := r.now()
	m.CreatedAt = now
	if live {
		m.DeliveredAt = &now
	}
	if err := r.Store.CreateMessage(ctx, m); err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		r.Log.Error().Err(err).Str("sender_id", senderID).Str("recipient_id", m.RecipientID).Msg("persist message")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	stored, err := r.Store.GetMessage(ctx, m.ID)
	if err != nil {
		r.Log.Warn().Err(err).Str("message_id", m.ID).Msg("reload message")
		stored = m
	}
	view := stored.View()
	res := &SendResult{Message: &view}

	if live {
		if err := target.Push(event(EventMessageReceived, view)); err != nil {
			r.Log.Warn().Err(err).Str("message_id", m.ID).Str("recipient_id", m.RecipientID).Msg("push to recipient")
			deliveriesTotal.WithLabelValues("push_failed").Inc()
		} else {
			res.Delivered = true
			r.push(reply, event(EventMessageDelivered, DeliveredReceipt{MessageID: m.ID, DeliveredAt: now}))
		}
	}
	switch {
	case res.Delivered:
		deliveriesTotal.WithLabelValues("delivered").Inc()
	case !live:
		deliveriesTotal.WithLabelValues("stored").Inc()
	}

	r.push(reply, event(EventMessageSentAck, SentAck{ClientID: p.ClientID, Message: view}))
	span.SetAttributes(attribute.Bool("delivered", res.Delivered))
	return res, nil
}

// openRequest turns a gated send into a pending message request.
func (r *Router) openRequest(ctx context.Context, senderID string, reply presence.Conn, clientID string, m *domain.Message) (*SendResult, error) {
	req, err := r.Requests.Create(ctx, senderID, m.RecipientID, m.Content)
	if err != nil {
		if errors.Is(err, services.ErrRequestPending) || errors.Is(err, services.ErrBlocked) {
			deliveriesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		deliveriesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: request: %v", ErrPersistence, err)
	}
	deliveriesTotal.WithLabelValues("request").Inc()
	r.push(reply, event(EventMessageRequestCreated, RequestEvent{ClientID: clientID, Request: req}))
	return &SendResult{Request: req}, nil
}

// validate normalizes p into an unsaved message.
func (r *Router) validate(senderID string, p SendPayload) (*domain.Message, error) {
	recipient := strings.TrimSpace(p.RecipientID)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient_id is required", ErrValidation)
	}
	if recipient == senderID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	typ := strings.TrimSpace(p.MessageType)
	if typ == "" {
		typ = domain.MessageText
	}
	if !domain.ValidMessageType(typ) {
		return nil, fmt.Errorf("%w: unknown message_type %q", ErrValidation, typ)
	}
	content := norm.NFC.String(strings.TrimSpace(p.Content))
	fileURL := strings.TrimSpace(p.FileURL)
	if content == "" && fileURL == "" {
		return nil, fmt.Errorf("%w: content or file_url is required", ErrValidation)
	}
	if r.MaxRunes > 0 && utf8.RuneCountInString(content) > r.MaxRunes {
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrValidation, r.MaxRunes)
	}
	if p.FileSize < 0 {
		return nil, fmt.Errorf("%w: file_size must not be negative", ErrValidation)
	}
	var replyTo *string
	if p.ReplyToID != nil && strings.TrimSpace(*p.ReplyToID) != "" {
		v := strings.TrimSpace(*p.ReplyToID)
		replyTo = &v
	}
	return &domain.Message{
		SenderID:    senderID,
		RecipientID: recipient,
		Content:     content,
		MessageType: typ,
		FileURL:     fileURL,
		FileName:    strings.TrimSpace(p.FileName),
		FileSize:    p.FileSize,
		ReplyToID:   replyTo,
	}, nil
}

// MarkRead marks messageID read on behalf of readerID, who must be its
// recipient. Marking an already-read message is a no-op: read_at keeps its
// first value and no second receipt is sent.
func (r *Router) MarkRead(ctx context.Context, readerID, messageID string) (*domain.Message, error) {
	tr := otel.Tracer("realtime/Router")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("reader.id", readerID),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("%w: message_id is required", ErrValidation)
	}
	m, err := r.Store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if m.RecipientID != readerID {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if m.IsRead {
		return m, nil
	}

	now := r.now()
	n, err := r.Store.MarkRead(ctx, messageID, readerID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n == 0 {
		// lost to a concurrent read; that caller sent the receipt
		return m, nil
	}
	m.IsRead = true
	m.ReadAt = &now

	if c, ok := r.Registry.Lookup(m.SenderID); ok {
		r.push(c, event(EventMessageReadUpdate, ReadReceipt{MessageID: m.ID, ReadAt: now}))
	}
	return m, nil
}

// MarkConversationRead marks everything peerID sent to readerID as read and
// sends one conversation-read receipt to the peer when anything changed.
func (r *Router) MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error) {
	tr := otel.Tracer("realtime/Router")
	ctx, span := tr.Start(ctx, "MarkConversationRead",
		trace.WithAttributes(
			attribute.String("reader.id", readerID),
			attribute.String("peer.id", peerID),
		),
	)
	defer span.End()

	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return 0, fmt.Errorf("%w: peer_id is required", ErrValidation)
	}
	now := r.now()
	n, err := r.Store.MarkConversationRead(ctx, readerID, peerID, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n > 0 {
		if c, ok := r.Registry.Lookup(peerID); ok {
			r.push(c, event(EventConversationRead, ConversationReadReceipt{ReaderID: readerID, ReadAt: now, Count: n}))
		}
	}
	return n, nil
}

// push sends ev to c, logging failures. A nil c is ignored.
func (r *Router) push(c presence.Conn, ev presence.Event) {
	if c == nil {
		return
	}
	if err := c.Push(ev); err != nil {
		r.Log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", ev.Type).Msg("push")
	}
}
