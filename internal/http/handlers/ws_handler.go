// WebSocket entry point.
//
// GET /ws authenticates the bearer credential (Authorization header, token
// query parameter, or "bearer, <token>" subprotocol), applies the duplicate
// session policy, and hands the connection to the realtime hub.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/realtime"
)

// WebSocket godoc
// @ID          websocket
// @Summary     Open the realtime session
// @Description Upgrades to a WebSocket carrying {"type","data"} JSON frames.
// @Tags        Realtime
// @Param       token  query  string  false  "Bearer token when headers cannot be set"
// @Success     101
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Session already active (reject policy)"
// @Router      /ws [get]
func (h *Handlers) WebSocket(c *gin.Context) {
	raw := realtime.TokenFromRequest(c.Request)
	if raw == "" {
		c.Header("WWW-Authenticate", `Bearer realm="ws"`)
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
		return
	}
	user, err := h.hub.Authenticate(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, realtime.ErrAuthentication) {
			c.Header("WWW-Authenticate", `Bearer realm="ws"`)
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
			return
		}
		failErr(c, err, ErrCodeInternal)
		return
	}
	if err := h.hub.Admit(user.ID); err != nil {
		failErr(c, err, ErrCodeConflict)
		return
	}
	c.Set("userID", user.ID)

	if err := h.hub.Serve(c.Writer, c.Request, user); err != nil {
		// The upgrader has already answered a failed handshake.
		middleware.LoggerFrom(c).Warn().Err(err).Str("user_id", user.ID).Msg("websocket session")
	}
}
