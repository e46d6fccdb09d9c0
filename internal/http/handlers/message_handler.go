// Message HTTP handlers.
//
// This file exposes conversation history and per-message actions:
//   - GET    /messages/conversations
//   - GET    /messages/conversation/{peer}            (paginated, ETag support)
//   - GET    /messages/conversation/{peer}/pinned|media|search
//   - PUT    /messages/conversation/{peer}/read
//   - POST   /messages/{peer}                         (send, idempotent)
//   - PUT    /messages/{id}/read
//   - POST   /messages/{id}/pin|star, DELETE likewise
//   - DELETE /messages/{id}
//   - GET    /messages/unread-count, /messages/unread-per-conversation, /messages/starred
//
// Sends go through the same realtime router as WebSocket frames, so the
// recipient gets message-received and the caller's live session (if any)
// gets the ack and receipts.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous send
// exists for (user, peer, key), the handler returns that recorded message
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for a REST send. Either content or
// file_url must be present.
type SendMessageRequest struct {
	Content     string  `json:"content"      example:"see you at 7?"`
	MessageType string  `json:"message_type" example:"text" enums:"text,image,video,audio,file,voice"`
	FileURL     string  `json:"file_url"     example:"/uploads/1700000000000-1a2b3c4d.png"`
	FileName    string  `json:"file_name"    example:"photo.png"`
	FileSize    int64   `json:"file_size"    example:"20480"`
	ReplyToID   *string `json:"reply_to_id"`
	ClientID    string  `json:"client_id"    example:"c-42"`
}

// SendMessageResponse carries the stored message, or the message request
// opened instead when the recipient is private.
type SendMessageResponse struct {
	Message   *domain.MessageView    `json:"message,omitempty"`
	Request   *domain.MessageRequest `json:"request,omitempty"`
	Delivered bool                   `json:"delivered"`
}

// ConversationsResponse lists conversation summaries.
type ConversationsResponse struct {
	Conversations []services.ConversationSummary `json:"conversations"`
}

// ConversationResponse contains a page of a conversation.
type ConversationResponse struct {
	Messages   []domain.MessageView `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// MessagesResponse wraps an unpaginated message list.
type MessagesResponse struct {
	Messages []domain.MessageView `json:"messages"`
}

// SearchResponse wraps conversation search hits, best first.
type SearchResponse struct {
	Hits []services.SearchHit `json:"hits"`
}

// ReadCountResponse reports how many messages a bulk read flipped.
type ReadCountResponse struct {
	Count int64 `json:"count"`
}

// UnreadResponse is the total unread count.
type UnreadResponse struct {
	Unread int64 `json:"unread"`
}

// UnreadPerConversationResponse maps peer id to unread count.
type UnreadPerConversationResponse struct {
	Unread map[string]int64 `json:"unread"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF and collapses runs of blank lines.
// Trimming and Unicode normalization happen in the router.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return nlCollapseRE.ReplaceAllString(s, "\n\n")
}

func messagesOK(c *gin.Context, msgs []domain.MessageView) {
	if msgs == nil {
		msgs = []domain.MessageView{}
	}
	ok(c, http.StatusOK, MessagesResponse{Messages: msgs})
}

// replyConn returns the caller's live session so acks and receipts of a
// REST send reach it.
func (h *Handlers) replyConn(uid string) presence.Conn {
	if h.hub == nil {
		return nil
	}
	if c, live := h.hub.Lookup(uid); live {
		return c
	}
	return nil
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a direct message
// @Description Persists and delivers a message through the realtime router. A send to a private
// @Description stranger opens a message request instead and returns 202.
// @Description Supports idempotency via the Idempotency-Key header (same key and peer → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       peer             path    string  true   "Recipient user ID"
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
// @Success     201  {object}  handlers.SendMessageResponse  "Stored"
// @Success     202  {object}  handlers.SendMessageResponse  "Message request opened"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Blocked"
// @Failure     404  {object}  handlers.ErrorResponse  "Recipient not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Request already pending"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /messages/{peer} [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	peer := c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil {
		if rec, err := h.idem.Get(ctx, uid, peer, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err := h.convs.Get(ctx, uid, rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, SendMessageResponse{Message: prev, Delivered: prev.DeliveredAt != nil})
				return
			}
		}
	}

	res, err := h.router.Send(ctx, uid, h.replyConn(uid), realtime.SendPayload{
		RecipientID: peer,
		Content:     sanitizeContent(req.Content),
		MessageType: req.MessageType,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ReplyToID:   req.ReplyToID,
		ClientID:    req.ClientID,
	})
	if err != nil {
		failErr(c, err, ErrCodeSendFailed)
		return
	}
	if res.Request != nil {
		ok(c, http.StatusAccepted, SendMessageResponse{Request: res.Request})
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Put(ctx, uid, peer, idemKey, res.Message.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("message_id", res.Message.ID).Msg("record idempotency key")
		}
	}
	ok(c, http.StatusCreated, SendMessageResponse{Message: res.Message, Delivered: res.Delivered})
}

// Conversations godoc
// @ID          conversations
// @Summary     Conversation list
// @Description One row per peer with last message and unread count; pinned first, then newest.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ConversationsResponse
// @Router      /messages/conversations [get]
func (h *Handlers) Conversations(c *gin.Context) {
	rows, err := h.convs.Summaries(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if rows == nil {
		rows = []services.ConversationSummary{}
	}
	ok(c, http.StatusOK, ConversationsResponse{Conversations: rows})
}

// Conversation godoc
// @ID          conversation
// @Summary     Conversation history (paginated)
// @Description Oldest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer       path   string  true   "Peer user ID"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(50)
// @Success     200  {object}  handlers.ConversationResponse
// @Success     304  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Peer not found"
// @Router      /messages/conversation/{peer} [get]
func (h *Handlers) Conversation(c *gin.Context) {
	ctx := c.Request.Context()
	uid, peer := userID(c), c.Param("peer")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Read receipts bump updated_at.
	if count, maxTS, err := h.convs.Stats(ctx, uid, peer); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"conversation:%s:%d:%d:%d:%d"`, peer, count, ts, page, pageSize)
		if notModified(c, etag) {
			return
		}
	}

	items, total, err := h.convs.Page(ctx, uid, peer, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// PinnedMessages godoc
// @ID          pinnedMessages
// @Summary     Pinned messages of a conversation
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer  path      string  true  "Peer user ID"
// @Success     200   {object}  handlers.MessagesResponse
// @Router      /messages/conversation/{peer}/pinned [get]
func (h *Handlers) PinnedMessages(c *gin.Context) {
	msgs, err := h.convs.Pinned(c.Request.Context(), userID(c), c.Param("peer"))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	messagesOK(c, msgs)
}

// Media godoc
// @ID          media
// @Summary     Shared media and files of a conversation
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer  path      string  true  "Peer user ID"
// @Success     200   {object}  handlers.MessagesResponse
// @Router      /messages/conversation/{peer}/media [get]
func (h *Handlers) Media(c *gin.Context) {
	msgs, err := h.convs.Media(c.Request.Context(), userID(c), c.Param("peer"))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	messagesOK(c, msgs)
}

// SearchConversation godoc
// @ID          searchConversation
// @Summary     Search a conversation
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer   path      string  true   "Peer user ID"
// @Param       q      query     string  true   "Query"
// @Param       limit  query     int     false  "Max hits"  minimum(1) maximum(50)
// @Success     200    {object}  handlers.SearchResponse
// @Failure     400    {object}  handlers.ErrorResponse
// @Router      /messages/conversation/{peer}/search [get]
func (h *Handlers) SearchConversation(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	k := utils.Clamp(utils.AtoiDefault(c.Query("limit"), h.searchLimit), 1, 50)
	hits, err := h.convs.Search(c.Request.Context(), userID(c), c.Param("peer"), q, k)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if hits == nil {
		hits = []services.SearchHit{}
	}
	ok(c, http.StatusOK, SearchResponse{Hits: hits})
}

// MarkConversationRead godoc
// @ID          markConversationRead
// @Summary     Mark everything the peer sent as read
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer  path      string  true  "Peer user ID"
// @Success     200   {object}  handlers.ReadCountResponse
// @Router      /messages/conversation/{peer}/read [put]
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	n, err := h.router.MarkConversationRead(c.Request.Context(), userID(c), c.Param("peer"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, ReadCountResponse{Count: n})
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark one received message as read
// @Description Idempotent: read_at keeps its first value.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Message ID"
// @Success     200  {object}  domain.Message
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id}/read [put]
func (h *Handlers) MarkRead(c *gin.Context) {
	m, err := h.router.MarkRead(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, m)
}

// PinMessage godoc
// @ID          pinMessage
// @Summary     Pin a message
// @Tags        Messages
// @Security    BearerAuth
// @Param       id   path  string  true  "Message ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id}/pin [post]
func (h *Handlers) PinMessage(c *gin.Context) { h.setPinned(c, true) }

// UnpinMessage godoc
// @ID          unpinMessage
// @Summary     Unpin a message
// @Tags        Messages
// @Security    BearerAuth
// @Param       id   path  string  true  "Message ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id}/pin [delete]
func (h *Handlers) UnpinMessage(c *gin.Context) { h.setPinned(c, false) }

func (h *Handlers) setPinned(c *gin.Context, pinned bool) {
	if err := h.convs.SetPinned(c.Request.Context(), userID(c), c.Param("id"), pinned); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message the caller sent
// @Tags        Messages
// @Security    BearerAuth
// @Param       id   path  string  true  "Message ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	if err := h.convs.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// UnreadCount godoc
// @ID          unreadCount
// @Summary     Total unread messages
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UnreadResponse
// @Router      /messages/unread-count [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	n, err := h.convs.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, UnreadResponse{Unread: n})
}

// UnreadPerConversation godoc
// @ID          unreadPerConversation
// @Summary     Unread messages per peer
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UnreadPerConversationResponse
// @Router      /messages/unread-per-conversation [get]
func (h *Handlers) UnreadPerConversation(c *gin.Context) {
	m, err := h.convs.UnreadPerConversation(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if m == nil {
		m = map[string]int64{}
	}
	ok(c, http.StatusOK, UnreadPerConversationResponse{Unread: m})
}

// StarredMessages godoc
// @ID          starredMessages
// @Summary     Messages the caller starred
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MessagesResponse
// @Router      /messages/starred [get]
func (h *Handlers) StarredMessages(c *gin.Context) {
	msgs, err := h.social.Starred(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	messagesOK(c, msgs)
}

// StarMessage godoc
// @ID          starMessage
// @Summary     Star a message
// @Tags        Messages
// @Security    BearerAuth
// @Param       id   path  string  true  "Message ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id}/star [post]
func (h *Handlers) StarMessage(c *gin.Context) {
	if err := h.social.Star(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// UnstarMessage godoc
// @ID          unstarMessage
// @Summary     Remove a star
// @Tags        Messages
// @Security    BearerAuth
// @Param       id   path  string  true  "Message ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /messages/{id}/star [delete]
func (h *Handlers) UnstarMessage(c *gin.Context) {
	if err := h.social.Unstar(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}
