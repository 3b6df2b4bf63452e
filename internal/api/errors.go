package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(status int, err error) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    lower(http.StatusText(status)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

// NewValidationError is a 400 whose message tells the caller what was wrong.
func NewValidationError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
	}
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewConflictError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    msg,
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    server.RateLimitMessage,
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// toApiError maps an error from the store or the chat server onto the
// response the caller should see.
func toApiError(err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, database.ErrUsernameTaken):
		return NewConflictError(database.ErrUsernameTaken.Error())
	case errors.Is(err, database.ErrRequestNotPending):
		return NewConflictError(database.ErrRequestNotPending.Error())
	case errors.Is(err, database.ErrSelfFriendRequest):
		return NewValidationError(database.ErrSelfFriendRequest.Error())
	case errors.Is(err, database.ErrAlreadyFriends):
		return NewValidationError(database.ErrAlreadyFriends.Error())
	case errors.Is(err, database.ErrDuplicateFriendRequest):
		return NewValidationError(database.ErrDuplicateFriendRequest.Error())
	case errors.Is(err, server.ErrRateLimited):
		return NewTooManyRequestsError()
	case errors.Is(err, server.ErrInvalidMessage), errors.Is(err, server.ErrRejected):
		return NewBadRequestError()
	case errors.Is(err, server.ErrServerStopped):
		return NewServiceUnavailableError(err)
	default:
		return NewInternalServerError(err)
	}
}

func NewMethodNotAllowedError() *ApiError {
	return newApiError(http.StatusMethodNotAllowed, nil)
}

func NewRequestTooLargeError() *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge, nil)
}
