// Package services – UserService
//
// This file implements account management: registration, login, profile
// updates, logout, and user discovery. Passwords are stored as argon2id
// hashes and sessions are stateless JWT bearer tokens.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
)

const (
	// searchLimit caps user search results.
	searchLimit = 10
	// avatarBase renders a deterministic default avatar per username.
	avatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
	GetUserByUsernameKey(ctx context.Context, db *gorm.DB, key string) (*domain.User, error)
	ListUsers(ctx context.Context, db *gorm.DB, exceptID string) ([]domain.User, error)
	SearchUsers(ctx context.Context, db *gorm.DB, exceptID, q string, limit int) ([]domain.User, error)
	UsersByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error)
	UpdateUser(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
	SetPresence(ctx context.Context, db *gorm.DB, id, status string, lastSeen *time.Time) error
}

// PresenceView exposes the live connection table to account operations.
type PresenceView interface {
	// Online returns the ids of connected users.
	Online() []string
	// Disconnect closes userID's live session, if any, and reports whether
	// one existed.
	Disconnect(userID string) bool
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// UserService provides account and discovery operations.
type UserService struct {
	DB       *gorm.DB
	Repo     UserRepo
	Tokens   *auth.TokenIssuer
	Presence PresenceView

	// Params overrides the password hashing cost; zero uses auth.DefaultParams.
	Params auth.Params
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, r UserRepo, tokens *auth.TokenIssuer, p PresenceView) *UserService {
	return &UserService{DB: db, Repo: r, Tokens: tokens, Presence: p}
}

// foldUsername returns the case-folded lookup key for a username.
func foldUsername(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// DefaultAvatar returns the generated avatar URL for username.
func DefaultAvatar(username string) string {
	return avatarBase + url.QueryEscape(username)
}

// Register creates an account and returns a signed token for it.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(attribute.String("user.username", username)),
	)
	defer span.End()

	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := auth.ValidateRegister(auth.RegisterInput{Username: username, Email: email, Password: password}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	key := foldUsername(username)
	if _, err := s.Repo.GetUserByEmail(ctx, s.DB, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, err := s.Repo.GetUserByUsernameKey(ctx, s.DB, key); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Username:      username,
		UsernameKey:   key,
		DisplayName:   username,
		Email:         email,
		PasswordHash:  hash,
		Avatar:        DefaultAvatar(username),
		Status:        domain.StatusOffline,
		AllowGroupAdd: domain.GroupAddEveryone,
	}
	if err := s.Repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// lost a race with a concurrent registration
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.issue(u)
}

// Login verifies credentials and returns a signed token.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	u, err := s.Repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := auth.ComparePassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// UpdateProfile applies the non-nil fields of in and returns the fresh user.
func (s *UserService) UpdateProfile(ctx context.Context, id string, in auth.ProfileInput) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "UpdateProfile",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	if in.DisplayName != nil {
		v := strings.TrimSpace(*in.DisplayName)
		in.DisplayName = &v
	}
	if err := auth.ValidateProfile(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := map[string]any{}
	if in.DisplayName != nil {
		fields["display_name"] = *in.DisplayName
	}
	if in.IsPrivate != nil {
		fields["is_private"] = *in.IsPrivate
	}
	if in.AllowGroupAdd != nil {
		fields["allow_group_add"] = *in.AllowGroupAdd
	}
	if err := s.update(ctx, id, fields); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// UpdateAvatar stores a new avatar URL. An empty URL restores the default.
func (s *UserService) UpdateAvatar(ctx context.Context, id, avatar string) (*domain.User, error) {
	avatar = strings.TrimSpace(avatar)
	if avatar == "" {
		u, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		avatar = DefaultAvatar(u.Username)
	}
	if err := s.update(ctx, id, map[string]any{"avatar": avatar}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Logout closes the user's live session, which persists the offline status.
// Without a live session the status is written directly.
func (s *UserService) Logout(ctx context.Context, id string) error {
	if s.Presence != nil && s.Presence.Disconnect(id) {
		return nil
	}
	now := time.Now().UTC()
	return s.Repo.SetPresence(ctx, s.DB, id, domain.StatusOffline, &now)
}

// List returns every user except viewerID.
func (s *UserService) List(ctx context.Context, viewerID string) ([]domain.User, error) {
	return s.Repo.ListUsers(ctx, s.DB, viewerID)
}

// Search finds users whose username or email contains q.
func (s *UserService) Search(ctx context.Context, viewerID, q string) ([]domain.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	return s.Repo.SearchUsers(ctx, s.DB, viewerID, foldUsername(q), searchLimit)
}

// Online returns the connected users other than viewerID.
func (s *UserService) Online(ctx context.Context, viewerID string) ([]domain.User, error) {
	if s.Presence == nil {
		return []domain.User{}, nil
	}
	ids := lo.Filter(s.Presence.Online(), func(id string, _ int) bool { return id != viewerID })
	byID, err := s.Repo.UsersByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(ids, func(id string, _ int) (domain.User, bool) {
		u, ok := byID[id]
		return u, ok
	}), nil
}

func (s *UserService) update(ctx context.Context, id string, fields map[string]any) error {
	if err := s.Repo.UpdateUser(ctx, s.DB, id, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *UserService) hash(password string) (string, error) {
	if s.Params == (auth.Params{}) {
		return auth.HashPassword(password)
	}
	return auth.HashPasswordWith(password, s.Params)
}

func (s *UserService) issue(u *domain.User) (*AuthResult, error) {
	tok, exp, err := s.Tokens.Generate(u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: tok, ExpiresAt: exp, User: u}, nil
}
