// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them. Generic
// codes mirror HTTP status semantics; domain codes name the operation that
// failed when the status alone is ambiguous.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "request_required",
//	  "message": "message request required"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/realtime"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/storage"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSendFailed       = "send_failed"
	ErrCodeUploadFailed     = "upload_failed"
	ErrCodeRequestRequired  = "request_required"
	ErrCodeRequestPending   = "request_pending"
	ErrCodeListFailed       = "list_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failErr maps a service, realtime or storage error onto the envelope.
// Unrecognized errors become 500 with fallbackCode.
func failErr(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrSelf),
		errors.Is(err, services.ErrEmptyQuery),
		errors.Is(err, realtime.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, realtime.ErrAuthentication):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrBlocked):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrRequestRequired):
		fail(c, http.StatusForbidden, ErrCodeRequestRequired, err.Error())
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, realtime.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrRequestPending):
		fail(c, http.StatusConflict, ErrCodeRequestPending, err.Error())
	case errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrUsernameTaken),
		errors.Is(err, services.ErrNotPrivate),
		errors.Is(err, realtime.ErrDuplicateSession):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeUploadFailed, err.Error())
	case errors.Is(err, storage.ErrEmpty), errors.Is(err, storage.ErrTypeNotAllowed):
		fail(c, http.StatusBadRequest, ErrCodeUploadFailed, err.Error())
	default:
		failCause(c, http.StatusInternalServerError, fallbackCode, "internal error", err)
	}
}
