package realtime

import (
	"errors"

	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// Error taxonomy of the realtime core. Returned errors wrap one of these
// with %w; callers classify with errors.Is.
var (
	// ErrAuthentication: missing, malformed, expired, or unknown credential.
	ErrAuthentication = errors.New("authentication failed")
	// ErrValidation: malformed or incomplete client input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: referenced message or user does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrPersistence: the store failed.
	ErrPersistence = errors.New("persistence failed")
	// ErrTransport: a push to a live connection failed.
	ErrTransport = errors.New("transport failed")
	// ErrDuplicateSession: the user already has a live session and the
	// duplicate policy is reject.
	ErrDuplicateSession = errors.New("session already active")
)

// Error codes carried by message-error and error events.
const (
	CodeValidation     = "validation_failed"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeRequestPending = "request_pending"
	CodePersistence    = "persistence_failed"
	CodeRateLimited    = "rate_limited"
	CodeBadEvent       = "bad_event"
	CodeInternal       = "internal_error"
)

// errorCode maps err to a stable client-facing code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, services.ErrSelf):
		return CodeValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, services.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, services.ErrBlocked):
		return CodeForbidden
	case errors.Is(err, services.ErrRequestPending):
		return CodeRequestPending
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

// isTransport reports whether err is a push failure.
func isTransport(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, presence.ErrConnClosed) ||
		errors.Is(err, presence.ErrSendBufferFull)
}
