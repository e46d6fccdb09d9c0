// Message request handlers.
//
// A private user can only be reached by a stranger through a request. The
// recipient accepts or rejects it exactly once; both sides are notified over
// their live sessions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateRequestRequest carries the optional note shown to the recipient.
type CreateRequestRequest struct {
	Note string `json:"note" binding:"max=1000" example:"Hi! We met at the meetup."`
}

// RequestsResponse wraps a list of message requests.
type RequestsResponse struct {
	Requests []domain.MessageRequest `json:"requests"`
}

func requestsOK(c *gin.Context, reqs []domain.MessageRequest) {
	if reqs == nil {
		reqs = []domain.MessageRequest{}
	}
	ok(c, http.StatusOK, RequestsResponse{Requests: reqs})
}

// CreateMessageRequest godoc
// @ID          createMessageRequest
// @Summary     Ask a private user for permission to message them
// @Tags        Requests
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       recipient  path      string  true   "Recipient user ID"
// @Param       body       body      handlers.CreateRequestRequest  false  "Note"
// @Success     201        {object}  domain.MessageRequest
// @Failure     403        {object}  handlers.ErrorResponse  "Blocked"
// @Failure     404        {object}  handlers.ErrorResponse  "Recipient not found"
// @Failure     409        {object}  handlers.ErrorResponse  "Already pending, or recipient is public"
// @Router      /message-requests/{recipient} [post]
func (h *Handlers) CreateMessageRequest(c *gin.Context) {
	var req CreateRequestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	mr, err := h.requests.Create(c.Request.Context(), userID(c), c.Param("id"), sanitizeContent(req.Note))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, mr)
}

// PendingRequests godoc
// @ID          pendingRequests
// @Summary     Pending requests addressed to the caller
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.RequestsResponse
// @Router      /message-requests/pending [get]
func (h *Handlers) PendingRequests(c *gin.Context) {
	reqs, err := h.requests.Pending(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	requestsOK(c, reqs)
}

// SentRequests godoc
// @ID          sentRequests
// @Summary     Requests the caller sent
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.RequestsResponse
// @Router      /message-requests/sent [get]
func (h *Handlers) SentRequests(c *gin.Context) {
	reqs, err := h.requests.Sent(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	requestsOK(c, reqs)
}

// AcceptRequest godoc
// @ID          acceptRequest
// @Summary     Accept a pending request
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Request ID"
// @Success     200  {object}  domain.MessageRequest
// @Failure     404  {object}  handlers.ErrorResponse  "Not found, not addressed to caller, or already resolved"
// @Router      /message-requests/{id}/accept [post]
func (h *Handlers) AcceptRequest(c *gin.Context) {
	mr, err := h.requests.Accept(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, mr)
}

// RejectRequest godoc
// @ID          rejectRequest
// @Summary     Reject a pending request
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Request ID"
// @Success     200  {object}  domain.MessageRequest
// @Failure     404  {object}  handlers.ErrorResponse  "Not found, not addressed to caller, or already resolved"
// @Router      /message-requests/{id}/reject [post]
func (h *Handlers) RejectRequest(c *gin.Context) {
	mr, err := h.requests.Reject(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, mr)
}
