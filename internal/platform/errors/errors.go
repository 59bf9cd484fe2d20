// Package errors maps failures to typed API errors with HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/dixxi1208/GryazBot/internal/domain"
)

type ErrorType string

const (
	TypeValidation ErrorType = "validation"
	TypeNotFound   ErrorType = "not_found"
	TypeConflict   ErrorType = "conflict"
	TypeCooldown   ErrorType = "cooldown"
	TypeStale      ErrorType = "stale"
	TypeInternal   ErrorType = "internal"
	TypeExternal   ErrorType = "external"
)

// Error is a failure that can be rendered to an API client.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeCooldown:
		return http.StatusTooManyRequests
	case TypeStale:
		return http.StatusGone
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error   { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error   { return newError(TypeConflict, message, nil) }
func StaleError(message string) *Error      { return newError(TypeStale, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithContext adds a field to the error response (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// FromDomain classifies poll engine and store errors. Anything it does not
// recognise becomes an internal error.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	var cooldown *domain.CooldownError
	if errors.As(err, &cooldown) {
		e := newError(TypeCooldown, "target is on cooldown", err)
		return e.WithContext("retry_after_seconds", int(math.Ceil(cooldown.Remaining.Seconds())))
	}

	switch {
	case errors.Is(err, domain.ErrNoTarget),
		errors.Is(err, domain.ErrUnknownTarget),
		errors.Is(err, domain.ErrTargetIsBot),
		errors.Is(err, domain.ErrInvalidChoice):
		return newError(TypeValidation, err.Error(), err)
	case errors.Is(err, domain.ErrUnknownPoll),
		errors.Is(err, domain.ErrMemberNotFound):
		return newError(TypeNotFound, err.Error(), err)
	case errors.Is(err, domain.ErrAlreadyOpen),
		errors.Is(err, domain.ErrDuplicateVote):
		return newError(TypeConflict, err.Error(), err)
	case errors.Is(err, domain.ErrPollClosed),
		errors.Is(err, domain.ErrTimedOut):
		return newError(TypeStale, err.Error(), err)
	}

	return InternalError("internal server error", err)
}
