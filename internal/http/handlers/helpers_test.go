package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// Stubs embed the interface they satisfy; calling a method that is not
// overridden panics, which flags an unexpected call.

type stubUsers struct {
	UserService
	register func(ctx context.Context, username, email, password string) (*services.AuthResult, error)
	login    func(ctx context.Context, email, password string) (*services.AuthResult, error)
	get      func(ctx context.Context, id string) (*domain.User, error)
	list     func(ctx context.Context, viewerID string) ([]domain.User, error)
	search   func(ctx context.Context, viewerID, q string) ([]domain.User, error)
}

func (s stubUsers) Register(ctx context.Context, u, e, p string) (*services.AuthResult, error) {
	return s.register(ctx, u, e, p)
}
func (s stubUsers) Login(ctx context.Context, e, p string) (*services.AuthResult, error) {
	return s.login(ctx, e, p)
}
func (s stubUsers) Get(ctx context.Context, id string) (*domain.User, error) { return s.get(ctx, id) }
func (s stubUsers) List(ctx context.Context, v string) ([]domain.User, error) {
	return s.list(ctx, v)
}
func (s stubUsers) Search(ctx context.Context, v, q string) ([]domain.User, error) {
	return s.search(ctx, v, q)
}

type stubSocial struct {
	SocialService
	block   func(ctx context.Context, blockerID, blockedID string) error
	unblock func(ctx context.Context, blockerID, blockedID string) error
}

func (s stubSocial) Block(ctx context.Context, a, b string) error   { return s.block(ctx, a, b) }
func (s stubSocial) Unblock(ctx context.Context, a, b string) error { return s.unblock(ctx, a, b) }

type stubConvs struct {
	ConversationService
	stats  func(ctx context.Context, userID, peerID string) (int64, *time.Time, error)
	page   func(ctx context.Context, userID, peerID string, page, pageSize int) ([]domain.MessageView, int64, error)
	getMsg func(ctx context.Context, userID, messageID string) (*domain.MessageView, error)
	unread func(ctx context.Context, userID string) (map[string]int64, error)
}

func (s stubConvs) Stats(ctx context.Context, u, p string) (int64, *time.Time, error) {
	return s.stats(ctx, u, p)
}
func (s stubConvs) Page(ctx context.Context, u, p string, page, size int) ([]domain.MessageView, int64, error) {
	return s.page(ctx, u, p, page, size)
}
func (s stubConvs) Get(ctx context.Context, u, id string) (*domain.MessageView, error) {
	return s.getMsg(ctx, u, id)
}
func (s stubConvs) UnreadPerConversation(ctx context.Context, u string) (map[string]int64, error) {
	return s.unread(ctx, u)
}

type stubRequests struct {
	RequestService
	create func(ctx context.Context, senderID, recipientID, note string) (*domain.MessageRequest, error)
	accept func(ctx context.Context, userID, id string) (*domain.MessageRequest, error)
}

func (s stubRequests) Create(ctx context.Context, from, to, note string) (*domain.MessageRequest, error) {
	return s.create(ctx, from, to, note)
}
func (s stubRequests) Accept(ctx context.Context, u, id string) (*domain.MessageRequest, error) {
	return s.accept(ctx, u, id)
}

type stubRouter struct {
	MessageRouter
	mu    sync.Mutex
	calls int
	send  func(ctx context.Context, senderID string, reply presence.Conn, p realtime.SendPayload) (*realtime.SendResult, error)
}

func (s *stubRouter) Send(ctx context.Context, senderID string, reply presence.Conn, p realtime.SendPayload) (*realtime.SendResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.send(ctx, senderID, reply, p)
}

type stubHub struct {
	users  map[string]*domain.User
	busy   map[string]bool
	served []string
}

func (h *stubHub) Authenticate(_ context.Context, raw string) (*domain.User, error) {
	if u, ok := h.users[raw]; ok {
		return u, nil
	}
	return nil, realtime.ErrAuthentication
}

func (h *stubHub) Admit(userID string) error {
	if h.busy[userID] {
		return realtime.ErrDuplicateSession
	}
	return nil
}

func (h *stubHub) Serve(w http.ResponseWriter, _ *http.Request, user *domain.User) error {
	h.served = append(h.served, user.ID)
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func (h *stubHub) Lookup(string) (presence.Conn, bool) { return nil, false }

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]*domain.Idempotency
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]*domain.Idempotency{}} }

func (m *memIdem) Get(_ context.Context, userID, scope, key string, _ time.Time) (*domain.Idempotency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[userID+"|"+scope+"|"+key]; ok {
		return r, nil
	}
	return nil, services.ErrNotFound
}

func (m *memIdem) Put(_ context.Context, userID, scope, key, messageID string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[userID+"|"+scope+"|"+key] = &domain.Idempotency{UserID: userID, Scope: scope, Key: key, MessageID: messageID, Status: status}
	return nil
}

func (m *memIdem) lookup(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	r, err := m.Get(ctx, userID, scope, key, now)
	return r != nil, err
}

// newTestEngine mounts routes behind middleware.Auth. The bearer token is the
// caller's user id ("Bearer alice").
func newTestEngine(t *testing.T, mount func(r *gin.RouterGroup)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	g := r.Group("/", middleware.Auth(func(_ context.Context, tok string) (string, error) { return tok, nil }))
	mount(g)
	return r
}

func do(r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}
