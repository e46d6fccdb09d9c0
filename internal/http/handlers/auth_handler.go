// Account HTTP handlers.
//
//   - POST /auth/register
//   - POST /auth/login
//   - GET  /auth/me
//   - PUT  /auth/profile
//   - PUT  /auth/avatar
//   - POST /auth/logout
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/auth"
)

// RegisterRequest is the account creation payload.
type RegisterRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Email    string `json:"email"    binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required" example:"S3cure!pass"`
}

// LoginRequest is the credential payload.
type LoginRequest struct {
	Email    string `json:"email"    binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required" example:"S3cure!pass"`
}

// UpdateProfileRequest carries optional profile changes; omitted fields are
// left untouched.
type UpdateProfileRequest struct {
	DisplayName   *string `json:"display_name"    example:"Alice"`
	IsPrivate     *bool   `json:"is_private"      example:"true"`
	AllowGroupAdd *string `json:"allow_group_add" example:"contacts" enums:"everyone,contacts,nobody"`
}

// UpdateAvatarRequest sets the avatar URL, usually one returned by POST /uploads.
type UpdateAvatarRequest struct {
	Avatar string `json:"avatar" binding:"required,max=512" example:"/uploads/1700000000000-1a2b3c4d.png"`
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Account"
// @Success     201   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409   {object}  handlers.ErrorResponse  "Email or username taken"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username, email and password are required")
		return
	}
	res, err := h.users.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, res)
}

// Login godoc
// @ID          login
// @Summary     Exchange credentials for a bearer token
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  services.AuthResult
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}
	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update profile settings
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateProfileRequest  true  "Changes"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /auth/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.DisplayName != nil {
		v := strings.TrimSpace(*req.DisplayName)
		req.DisplayName = &v
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), userID(c), auth.ProfileInput{
		DisplayName:   req.DisplayName,
		IsPrivate:     req.IsPrivate,
		AllowGroupAdd: req.AllowGroupAdd,
	})
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateAvatar godoc
// @ID          updateAvatar
// @Summary     Set the avatar URL
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateAvatarRequest  true  "Avatar"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /auth/avatar [put]
func (h *Handlers) UpdateAvatar(c *gin.Context) {
	var req UpdateAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Avatar) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "avatar is required")
		return
	}
	u, err := h.users.UpdateAvatar(c.Request.Context(), userID(c), strings.TrimSpace(req.Avatar))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, u)
}

// Logout godoc
// @ID          logout
// @Summary     Log out and close the live session
// @Tags        Auth
// @Security    BearerAuth
// @Success     204
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), userID(c)); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
