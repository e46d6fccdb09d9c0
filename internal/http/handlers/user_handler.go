// User discovery and social graph handlers.
//
//   - GET    /users, /users/search?q=, /users/online, /users/:id
//   - GET    /users/blocked, POST|DELETE /users/:id/block
//   - GET    /chats/pinned,  POST|DELETE /chats/:peer/pin
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// UsersResponse wraps a list of users.
type UsersResponse struct {
	Users []domain.User `json:"users"`
}

func usersOK(c *gin.Context, users []domain.User) {
	if users == nil {
		users = []domain.User{}
	}
	ok(c, http.StatusOK, UsersResponse{Users: users})
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List other users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UsersResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	usersOK(c, users)
}

// SearchUsers godoc
// @ID          searchUsers
// @Summary     Search users by username or display name
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       q    query     string  true  "Search text"
// @Success     200  {object}  handlers.UsersResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /users/search [get]
func (h *Handlers) SearchUsers(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	users, err := h.users.Search(c.Request.Context(), userID(c), q)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	usersOK(c, users)
}

// OnlineUsers godoc
// @ID          onlineUsers
// @Summary     Users with a live session
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UsersResponse
// @Router      /users/online [get]
func (h *Handlers) OnlineUsers(c *gin.Context) {
	users, err := h.users.Online(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	usersOK(c, users)
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "User ID"
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// BlockedUsers godoc
// @ID          blockedUsers
// @Summary     Users the caller blocked
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UsersResponse
// @Router      /users/blocked [get]
func (h *Handlers) BlockedUsers(c *gin.Context) {
	users, err := h.social.Blocked(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	usersOK(c, users)
}

// BlockUser godoc
// @ID          blockUser
// @Summary     Block a user
// @Tags        Users
// @Security    BearerAuth
// @Param       id   path  string  true  "User ID"
// @Success     204
// @Failure     400  {object}  handlers.ErrorResponse  "Cannot block yourself"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id}/block [post]
func (h *Handlers) BlockUser(c *gin.Context) {
	if err := h.social.Block(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// UnblockUser godoc
// @ID          unblockUser
// @Summary     Remove a block
// @Tags        Users
// @Security    BearerAuth
// @Param       id   path  string  true  "User ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id}/block [delete]
func (h *Handlers) UnblockUser(c *gin.Context) {
	if err := h.social.Unblock(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// PinnedChats godoc
// @ID          pinnedChats
// @Summary     Peers of pinned conversations
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UsersResponse
// @Router      /chats/pinned [get]
func (h *Handlers) PinnedChats(c *gin.Context) {
	users, err := h.social.PinnedChats(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	usersOK(c, users)
}

// PinChat godoc
// @ID          pinChat
// @Summary     Pin a conversation
// @Tags        Chats
// @Security    BearerAuth
// @Param       peer  path  string  true  "Peer user ID"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chats/{peer}/pin [post]
func (h *Handlers) PinChat(c *gin.Context) {
	if err := h.social.PinChat(c.Request.Context(), userID(c), c.Param("peer")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// UnpinChat godoc
// @ID          unpinChat
// @Summary     Unpin a conversation
// @Tags        Chats
// @Security    BearerAuth
// @Param       peer  path  string  true  "Peer user ID"
// @Success     204
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /chats/{peer}/pin [delete]
func (h *Handlers) UnpinChat(c *gin.Context) {
	if err := h.social.UnpinChat(c.Request.Context(), userID(c), c.Param("peer")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}
