// Package handlers exposes the REST API and the WebSocket entry point.
//
// Handlers are transport-thin: they validate input, call application
// services or the realtime router, and translate results into HTTP
// responses (including conditional responses and idempotent replays).
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService covers accounts and user discovery.
type UserService interface {
	Register(ctx context.Context, username, email, password string) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, in auth.ProfileInput) (*domain.User, error)
	UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error)
	Logout(ctx context.Context, id string) error
	List(ctx context.Context, viewerID string) ([]domain.User, error)
	Search(ctx context.Context, viewerID, q string) ([]domain.User, error)
	Online(ctx context.Context, viewerID string) ([]domain.User, error)
}

// SocialService covers blocks, pinned chats and starred messages.
type SocialService interface {
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	Blocked(ctx context.Context, blockerID string) ([]domain.User, error)
	PinChat(ctx context.Context, userID, peerID string) error
	UnpinChat(ctx context.Context, userID, peerID string) error
	PinnedChats(ctx context.Context, userID string) ([]domain.User, error)
	Star(ctx context.Context, userID, messageID string) error
	Unstar(ctx context.Context, userID, messageID string) error
	Starred(ctx context.Context, userID string) ([]domain.MessageView, error)
}

// ConversationService covers conversation history and per-message actions.
type ConversationService interface {
	Summaries(ctx context.Context, userID string) ([]services.ConversationSummary, error)
	Page(ctx context.Context, userID, peerID string, page, pageSize int) ([]domain.MessageView, int64, error)
	Stats(ctx context.Context, userID, peerID string) (int64, *time.Time, error)
	Get(ctx context.Context, userID, messageID string) (*domain.MessageView, error)
	Pinned(ctx context.Context, userID, peerID string) ([]domain.MessageView, error)
	Media(ctx context.Context, userID, peerID string) ([]domain.MessageView, error)
	Search(ctx context.Context, userID, peerID, q string, k int) ([]services.SearchHit, error)
	SetPinned(ctx context.Context, userID, messageID string, pinned bool) error
	Delete(ctx context.Context, userID, messageID string) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
	UnreadPerConversation(ctx context.Context, userID string) (map[string]int64, error)
}

// RequestService covers the message request workflow.
type RequestService interface {
	Create(ctx context.Context, senderID, recipientID, note string) (*domain.MessageRequest, error)
	Pending(ctx context.Context, userID string) ([]domain.MessageRequest, error)
	Sent(ctx context.Context, userID string) ([]domain.MessageRequest, error)
	Accept(ctx context.Context, userID, id string) (*domain.MessageRequest, error)
	Reject(ctx context.Context, userID, id string) (*domain.MessageRequest, error)
}

// MessageRouter is the realtime delivery path shared with WebSocket sessions.
type MessageRouter interface {
	Send(ctx context.Context, senderID string, reply presence.Conn, p realtime.SendPayload) (*realtime.SendResult, error)
	MarkRead(ctx context.Context, readerID, messageID string) (*domain.Message, error)
	MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error)
}

// Hub admits WebSocket sessions and exposes live connections.
type Hub interface {
	Authenticate(ctx context.Context, raw string) (*domain.User, error)
	Admit(userID string) error
	Serve(w http.ResponseWriter, r *http.Request, user *domain.User) error
	Lookup(userID string) (presence.Conn, bool)
}

// BlobStore persists uploaded files.
type BlobStore interface {
	Save(ctx context.Context, name string, r io.Reader) (*storage.Blob, error)
}

// IdempotencyStore records completed REST sends keyed by
// (user, peer, Idempotency-Key).
type IdempotencyStore interface {
	Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	Put(ctx context.Context, userID, scope, key, messageID string, status int) error
}

//
// Handler wiring
//

// Deps groups everything the handlers call into.
type Deps struct {
	Users         UserService
	Social        SocialService
	Conversations ConversationService
	Requests      RequestService
	Router        MessageRouter
	Hub           Hub
	Blobs         BlobStore
	Idempotency   IdempotencyStore

	// SearchLimit caps conversation search hits; zero means 20.
	SearchLimit int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users    UserService
	social   SocialService
	convs    ConversationService
	requests RequestService
	router   MessageRouter
	hub      Hub
	blobs    BlobStore
	idem     IdempotencyStore

	searchLimit int
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	limit := d.SearchLimit
	if limit <= 0 {
		limit = 20
	}
	return &Handlers{
		users:       d.Users,
		social:      d.Social,
		convs:       d.Conversations,
		requests:    d.Requests,
		router:      d.Router,
		hub:         d.Hub,
		blobs:       d.Blobs,
		idem:        d.Idempotency,
		searchLimit: limit,
	}
}

// userID returns the caller authenticated by middleware.Auth.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses and bounds page and page_size query params,
// returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), 50, 100)
}
