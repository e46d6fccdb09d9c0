package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// TokenValidator checks bearer credentials.
type TokenValidator interface {
	Validate(raw string) (*auth.Claims, error)
}

// UserStore loads users and persists their presence.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SetPresence(ctx context.Context, id, status string, lastSeen *time.Time) error
}

// HubOptions configures a Hub.
type HubOptions struct {
	Registry *presence.Registry
	Router   *Router
	Typing   *Typing
	Tokens   TokenValidator
	Users    UserStore
	Config   config.RealtimeConfig
	// AllowedOrigins restricts WebSocket upgrades by Origin; empty allows all.
	AllowedOrigins []string
	Log            zerolog.Logger
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Hub owns the session lifecycle: it admits authenticated sessions into the
// presence registry, persists online/offline transitions, and broadcasts
// presence changes to every other live session.
type Hub struct {
	reg    *presence.Registry
	router *Router
	typing *Typing
	tokens TokenValidator
	users  UserStore
	cfg    config.RealtimeConfig
	log    zerolog.Logger
	now    func() time.Time

	upgrader websocket.Upgrader

	// transitions serializes registry changes with their presence writes
	// and broadcasts, so online/offline for one user cannot interleave.
	transitions sync.Mutex
	closing     atomic.Bool

	// ctx scopes event dispatch; it outlives individual sessions so a
	// disconnect never aborts an in-flight write.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a Hub.
func NewHub(o HubOptions) *Hub {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		reg:    o.Registry,
		router: o.Router,
		typing: o.Typing,
		tokens: o.Tokens,
		users:  o.Users,
		cfg:    o.Config,
		log:    o.Log.With().Str("component", "realtime").Logger(),
		now:    now,
		ctx:    ctx,
		cancel: cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{bearerProtocol},
		CheckOrigin:     originChecker(o.AllowedOrigins),
	}
	return h
}

// Authenticate validates a bearer credential and loads its user. Every
// failure, including an unknown user, wraps ErrAuthentication.
func (h *Hub) Authenticate(ctx context.Context, raw string) (*domain.User, error) {
	claims, err := h.tokens.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	u, err := h.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return u, nil
}

// Admit reports ErrDuplicateSession when userID already has a live session
// and the duplicate policy is reject. It is a pre-upgrade check; Attach
// enforces the policy atomically.
func (h *Hub) Admit(userID string) error {
	if h.cfg.DuplicatePolicy != config.SessionPolicyReject {
		return nil
	}
	if _, ok := h.reg.Lookup(userID); ok {
		return ErrDuplicateSession
	}
	return nil
}

// Attach creates a session for user over t and registers it.
//
// Under the evict policy a previous session of the same user receives
// session-replaced and is closed; the user stays online, so no presence
// change is broadcast. Under the reject policy Attach fails with
// ErrDuplicateSession instead.
func (h *Hub) Attach(user *domain.User, t transport) (*Session, error) {
	if h.closing.Load() {
		return nil, fmt.Errorf("%w: shutting down", ErrTransport)
	}
	s := &Session{
		id:      uuid.NewString(),
		user:    *user,
		hub:     h,
		t:       t,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.EventRPS), h.cfg.EventBurst),
	}
	s.log = h.log.With().Str("session_id", s.id).Str("user_id", user.ID).Logger()

	h.transitions.Lock()
	var prev presence.Conn
	if h.cfg.DuplicatePolicy == config.SessionPolicyReject {
		if !h.reg.Claim(user.ID, s) {
			h.transitions.Unlock()
			return nil, ErrDuplicateSession
		}
	} else {
		prev = h.reg.Register(user.ID, s)
	}
	sessionsActive.Inc()
	if prev == nil {
		h.setPresence(user.ID, domain.StatusOnline, nil)
		h.broadcast(user.ID, event(EventPresenceChange, PresenceChange{UserID: user.ID, Status: domain.StatusOnline}))
	}
	h.transitions.Unlock()

	if prev != nil {
		_ = prev.Push(event(EventSessionReplaced, nil))
		prev.Close()
		s.log.Info().Str("replaced", prev.ID()).Msg("session replaced")
	}
	s.log.Info().Msg("session opened")
	return s, nil
}

// detach runs once per session from Session.Close.
func (h *Hub) detach(s *Session) {
	h.transitions.Lock()
	defer h.transitions.Unlock()
	if !h.reg.Unregister(s.user.ID, s) {
		// evicted: the replacement owns the entry and the user is online
		return
	}
	now := h.now().UTC()
	h.setPresence(s.user.ID, domain.StatusOffline, &now)
	h.broadcast(s.user.ID, event(EventPresenceChange, PresenceChange{UserID: s.user.ID, Status: domain.StatusOffline, LastSeen: &now}))
}

func (h *Hub) setPresence(userID, status string, lastSeen *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.users.SetPresence(ctx, userID, status, lastSeen); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("status", status).Msg("persist presence")
	}
}

// broadcast pushes ev to every live session except exceptUserID's.
func (h *Hub) broadcast(exceptUserID string, ev presence.Event) {
	for _, c := range h.reg.Snapshot() {
		if c.UserID() == exceptUserID {
			continue
		}
		if err := c.Push(ev); err != nil {
			h.log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", ev.Type).Msg("broadcast push")
		}
	}
}

// Notify pushes ev to userID's live session and reports whether it did.
func (h *Hub) Notify(userID string, ev presence.Event) bool {
	c, ok := h.reg.Lookup(userID)
	if !ok {
		return false
	}
	return c.Push(ev) == nil
}

// RequestReceived tells the recipient about a new message request.
func (h *Hub) RequestReceived(req *domain.MessageRequest) {
	h.Notify(req.RecipientID, event(EventMessageRequestRecv, RequestEvent{Request: req}))
}

// RequestUpdated tells the original sender their request was resolved.
func (h *Hub) RequestUpdated(req *domain.MessageRequest) {
	h.Notify(req.SenderID, event(EventMessageRequestUpdated, RequestEvent{Request: req}))
}

// Lookup returns userID's live session.
func (h *Hub) Lookup(userID string) (presence.Conn, bool) {
	return h.reg.Lookup(userID)
}

// Online returns the ids of connected users.
func (h *Hub) Online() []string { return h.reg.Online() }

// Disconnect closes userID's live session and reports whether one existed.
func (h *Hub) Disconnect(userID string) bool {
	c, ok := h.reg.Lookup(userID)
	if !ok {
		return false
	}
	c.Close()
	return true
}

// Shutdown refuses new sessions and closes every live one, persisting their
// offline status. It returns ctx.Err() if ctx ends first.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.closing.Store(true)
	done := make(chan struct{})
	go func() {
		for _, c := range h.reg.Snapshot() {
			c.Close()
		}
		close(done)
	}()
	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return ctx.Err()
	}
}
