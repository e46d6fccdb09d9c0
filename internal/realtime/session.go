package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// transport carries frames for one session.
type transport interface {
	// Send enqueues ev without blocking.
	Send(ev presence.Event) error
	// Close flushes queued frames and shuts the transport down.
	Close()
}

// Session is one authenticated client connection. Sessions are created
// already authenticated (the credential is checked before the transport
// exists) and move to Closed exactly once.
//
// Session implements presence.Conn.
type Session struct {
	id      string
	user    domain.User
	hub     *Hub
	t       transport
	limiter *rate.Limiter
	log     zerolog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ presence.Conn = (*Session)(nil)

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user's id.
func (s *Session) UserID() string { return s.user.ID }

// User returns the authenticated user as loaded at open time.
func (s *Session) User() domain.User { return s.user }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// Push enqueues ev on the session's transport.
func (s *Session) Push(ev presence.Event) error {
	if s.closed.Load() {
		return presence.ErrConnClosed
	}
	return s.t.Send(ev)
}

// Close shuts the session down. Only the first call has any effect: the
// transport is closed, the registry entry is released if this session still
// owns it, and the offline transition is announced.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.t.Close()
		sessionsActive.Dec()
		s.hub.detach(s)
		s.log.Debug().Msg("session closed")
	})
}

// Handle decodes one client frame and dispatches it. The transport calls
// Handle from a single goroutine, so events of one session are processed in
// arrival order.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	if s.closed.Load() {
		return
	}
	var in inbound
	if err := json.Unmarshal(frame, &in); err != nil || in.Type == "" {
		eventsTotal.WithLabelValues("unknown").Inc()
		s.reply(errorEvent(CodeBadEvent, errors.New("frame must be {\"type\":...,\"data\":...}")))
		return
	}
	eventsTotal.WithLabelValues(eventLabel(in.Type)).Inc()

	if !s.limiter.Allow() {
		s.reply(errorEvent(CodeRateLimited, errors.New("too many events")))
		return
	}

	switch in.Type {
	case EventSendMessage:
		var p SendPayload
		if err := decode(in.Data, &p); err != nil {
			s.reply(messageError("", err))
			return
		}
		if _, err := s.hub.router.Send(ctx, s.user.ID, s, p); err != nil {
			s.reply(messageError(p.ClientID, err))
		}

	case EventSetTyping:
		var p typingPayload
		if err := decode(in.Data, &p); err != nil {
			s.reply(errorEvent(CodeValidation, err))
			return
		}
		s.hub.typing.Set(ctx, s.user.ID, s.user.Username, p.RecipientID, p.IsTyping)

	case EventMarkRead:
		var p markReadPayload
		if err := decode(in.Data, &p); err != nil {
			s.reply(errorEvent(CodeValidation, err))
			return
		}
		if _, err := s.hub.router.MarkRead(ctx, s.user.ID, p.MessageID); err != nil {
			s.reply(errorEvent(errorCode(err), err))
		}

	case EventMarkConversationRead:
		var p markConversationReadPayload
		if err := decode(in.Data, &p); err != nil {
			s.reply(errorEvent(CodeValidation, err))
			return
		}
		if _, err := s.hub.router.MarkConversationRead(ctx, s.user.ID, p.PeerID); err != nil {
			s.reply(errorEvent(errorCode(err), err))
		}

	case EventPing:
		s.reply(event(EventPong, nil))

	default:
		s.reply(errorEvent(CodeBadEvent, fmt.Errorf("unknown event type %q", in.Type)))
	}
}

// reply pushes ev back to this session; failures are logged only.
func (s *Session) reply(ev presence.Event) {
	if err := s.Push(ev); err != nil && isTransport(err) {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("reply dropped")
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: data is required", ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
