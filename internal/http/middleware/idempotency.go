// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for REST message sends. The
// validator checks the header shape, stashes the key for handlers, and asks
// a lookup whether (user, scope, key) already completed. A hit marks the
// request as a replay so the handler can answer with the stored message and
// the rate limiter lets it through without spending a token.
//
// The scope is a route parameter (the peer id for POST /messages/:peer), so
// the same key reused toward another peer is a distinct operation.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// defaultKeyPattern accepts RFC 7230 token characters plus a few safe extras.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	k := c.GetString(ctxKeyIdemKey)
	return k, k != ""
}

// IsReplay reports whether the lookup found a completed request for this key.
func IsReplay(c *gin.Context) bool { return c.GetBool(ctxKeyIdemReplay) }

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses defaultKeyPattern.
	Pattern *regexp.Regexp
	// ScopeParam names the route parameter used as scope. Empty means "peer".
	ScopeParam string
}

// IdempotencyLookup reports whether a still-valid result exists for
// (userID, scope, key) at now. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present.
//
// Install it after Auth so the caller's id is known. Requests without a key
// pass through untouched; malformed keys get 400 bad_idempotency_key.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scopeParam := opts.ScopeParam
	if scopeParam == "" {
		scopeParam = "peer"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abort(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := UserID(c)
		scope := c.Param(scopeParam)
		if lookup != nil && uid != "" && scope != "" {
			if exists, err := lookup(c.Request.Context(), uid, scope, key, time.Now().UTC()); err == nil && exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
