// Package httpapi wires the HTTP transport (Gin) to application services,
// the realtime hub, middleware, and route handlers. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging/redaction,
// panic recovery, metrics, CORS, security headers, authentication,
// idempotency, and rate limiting.
//
// Ordering:
//   - Observability first (OTel + Prometheus)
//   - RequestID → logging → recovery
//   - Auth before idempotency and rate limiting, so both key on the caller
//   - /ws stays outside the REST group (no gzip, no body limit, own auth)
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-dm-backend/docs"
	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/search"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

// userRepoShim adapts the repository free functions to the services.UserRepo
// interface expected by the UserService.
type userRepoShim struct{}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (userRepoShim) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

func (userRepoShim) GetUserByUsernameKey(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	return repo.GetUserByUsernameKey(ctx, db, key)
}

func (userRepoShim) ListUsers(ctx context.Context, db *gorm.DB, exceptID string) ([]domain.User, error) {
	return repo.ListUsers(ctx, db, exceptID)
}

func (userRepoShim) SearchUsers(ctx context.Context, db *gorm.DB, exceptID, q string, limit int) ([]domain.User, error) {
	return repo.SearchUsers(ctx, db, exceptID, q, limit)
}

func (userRepoShim) UsersByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	return repo.UsersByIDs(ctx, db, ids)
}

func (userRepoShim) UpdateUser(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdateUser(ctx, db, id, fields)
}

func (userRepoShim) SetPresence(ctx context.Context, db *gorm.DB, id, status string, lastSeen *time.Time) error {
	return repo.SetPresence(ctx, db, id, status, lastSeen)
}

// idemStore persists REST send outcomes for replay.
type idemStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idemStore) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
}

func (s idemStore) Put(ctx context.Context, userID, scope, key, messageID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, messageID, status, s.ttl)
	return err
}

// lookup adapts Get to middleware.IdempotencyLookup.
func (s idemStore) lookup(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	rec, err := s.Get(ctx, userID, scope, key, now)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Deps carries the process-wide components built in main.
type Deps struct {
	DB       *gorm.DB
	Hub      *realtime.Hub
	Router   *realtime.Router
	Requests *services.RequestService
	Tokens   *auth.TokenIssuer
	Blobs    *storage.Store
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and security headers
//  7. Per group: gzip, body size limit, Auth, rate limiter, idempotency
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       false,
		EnablePolicy:  true,
		SandboxPrefix: cfg.Upload.PublicPath,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Stored uploads
	r.Static(cfg.Upload.PublicPath, cfg.Upload.Dir)

	// Dependency injection: services ← repo/db/hub
	idem := idemStore{db: d.DB, ttl: cfg.IdempotencyTTL}
	h := handlers.New(handlers.Deps{
		Users:  services.NewUserService(d.DB, userRepoShim{}, d.Tokens, d.Hub),
		Social: &services.SocialService{DB: d.DB},
		Conversations: &services.ConversationService{
			DB:              d.DB,
			SearchThreshold: cfg.SearchThreshold,
			SearchOptions: []search.Option{
				search.WithStopwords(cfg.SearchStopwords...),
				search.WithSnippetRunes(cfg.SearchSnippet),
			},
		},
		Requests:    d.Requests,
		Router:      d.Router,
		Hub:         d.Hub,
		Blobs:       d.Blobs,
		Idempotency: idem,
	})

	// WebSocket upgrade authenticates on its own
	r.GET("/ws", h.WebSocket)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	jsonLimit := limitBody(1 << 20)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(gzip.Gzip(gzip.DefaultCompression))

	// Public API
	public := api.Group("/auth", rl.Handler(), jsonLimit)
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
	}

	// Authenticated API
	authed := api.Group("", middleware.Auth(resolveUser(d.Hub)), rl.Handler())
	{
		// Uploads carry their own cap
		authed.POST("/uploads", limitBody(cfg.Upload.MaxBytes+1<<20), h.Upload)
	}

	v := authed.Group("", jsonLimit)
	{
		// Account
		v.GET("/auth/me", h.Me)
		v.PUT("/auth/profile", h.UpdateProfile)
		v.PUT("/auth/avatar", h.UpdateAvatar)
		v.POST("/auth/logout", h.Logout)

		// Users and blocks
		v.GET("/users", h.ListUsers)
		v.GET("/users/search", h.SearchUsers)
		v.GET("/users/online", h.OnlineUsers)
		v.GET("/users/blocked", h.BlockedUsers)
		v.GET("/users/:id", h.GetUser)
		v.POST("/users/:id/block", h.BlockUser)
		v.DELETE("/users/:id/block", h.UnblockUser)

		// Pinned chats
		v.GET("/chats/pinned", h.PinnedChats)
		v.POST("/chats/:peer/pin", h.PinChat)
		v.DELETE("/chats/:peer/pin", h.UnpinChat)

		// Conversations
		v.GET("/messages/conversations", h.Conversations)
		v.GET("/messages/conversation/:peer", h.Conversation)
		v.GET("/messages/conversation/:peer/pinned", h.PinnedMessages)
		v.GET("/messages/conversation/:peer/media", h.Media)
		v.GET("/messages/conversation/:peer/search", h.SearchConversation)
		v.PUT("/messages/conversation/:peer/read", h.MarkConversationRead)
		v.GET("/messages/unread-count", h.UnreadCount)
		v.GET("/messages/unread-per-conversation", h.UnreadPerConversation)
		v.GET("/messages/starred", h.StarredMessages)

		// Messages; :id is the peer on send and the message elsewhere
		v.POST("/messages/:id",
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200, ScopeParam: "id"}, idem.lookup),
			h.SendMessage)
		v.DELETE("/messages/:id", h.DeleteMessage)
		v.PUT("/messages/:id/read", h.MarkRead)
		v.POST("/messages/:id/pin", h.PinMessage)
		v.DELETE("/messages/:id/pin", h.UnpinMessage)
		v.POST("/messages/:id/star", h.StarMessage)
		v.DELETE("/messages/:id/star", h.UnstarMessage)

		// Message requests; :id is the recipient on create
		v.GET("/message-requests/pending", h.PendingRequests)
		v.GET("/message-requests/sent", h.SentRequests)
		v.POST("/message-requests/:id", h.CreateMessageRequest)
		v.POST("/message-requests/:id/accept", h.AcceptRequest)
		v.POST("/message-requests/:id/reject", h.RejectRequest)
	}
}

// resolveUser validates a bearer token and confirms the account exists.
func resolveUser(hub *realtime.Hub) middleware.UserResolver {
	return func(ctx context.Context, token string) (string, error) {
		u, err := hub.Authenticate(ctx, token)
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
}

// corsMiddleware returns the CORS chain: allow-all when no origins are
// configured, otherwise an allowlist echo in front of gin-contrib/cors.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{middleware.HeaderRequestID, "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Requests exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
