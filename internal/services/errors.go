// Package services defines the business logic for accounts, conversations,
// message requests, and the per-user social graph. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Account errors.
var (
	// ErrUserNotFound indicates that the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering with an email already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUsernameTaken is returned when registering with a username already in use.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidInput wraps field validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSelf is returned when a user targets themselves (block, request, pin).
	ErrSelf = errors.New("cannot target yourself")
)

// Messaging errors.
var (
	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")

	// ErrBlocked is returned when the recipient has blocked the sender.
	ErrBlocked = errors.New("recipient has blocked you")

	// ErrRequestRequired is returned by the send gate when the recipient is
	// private and the pair has no prior exchange or accepted request.
	ErrRequestRequired = errors.New("message request required")

	// ErrRequestPending is returned when a pending request already exists for
	// the pair.
	ErrRequestPending = errors.New("message request already pending")

	// ErrRequestNotFound indicates that the request does not exist, is not
	// addressed to the caller, or is no longer pending.
	ErrRequestNotFound = errors.New("message request not found")

	// ErrNotPrivate is returned when opening a request toward a public user,
	// who can be messaged directly.
	ErrNotPrivate = errors.New("user accepts messages directly")

	// ErrEmptyQuery is returned by search endpoints for a blank query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNotFound is returned when un-pinning, un-starring or un-blocking
	// something that was not set.
	ErrNotFound = errors.New("not found")
)
