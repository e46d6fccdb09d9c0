// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication for the REST API. The
// token is resolved to a user id by an injected function, which is stored in
// the Gin context under "userID" for handlers, the rate limiter and the
// idempotency validator.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ctxKeyUserID is the Gin context key holding the authenticated user id.
const ctxKeyUserID = "userID"

// UserResolver maps a raw bearer token to a user id. Any error is reported to
// the client as 401.
type UserResolver func(ctx context.Context, token string) (userID string, err error)

// BearerToken extracts the token from an "Authorization: Bearer <t>" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// UserID returns the authenticated user id, or "" when the request did not
// pass through Auth.
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// Auth rejects requests without a valid bearer token.
//
// On success the user id is stored under "userID" and the request-scoped
// logger gains a user_id field.
func Auth(resolve UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c.Request)
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		uid, err := resolve(c.Request.Context(), raw)
		if err != nil || uid == "" {
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ctxKeyUserID, uid)
		lg := LoggerFrom(c).With().Str("user_id", uid).Logger()
		c.Set(ctxKeyLogger, &lg)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	abort(c, http.StatusUnauthorized, "unauthorized", msg)
}
