package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for every failure kind the cart core reports.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrEmptyOrder         = errors.New("order has no lines")
	ErrPersistence        = errors.New("persistence failure")
	ErrMalformedPersisted = errors.New("malformed persisted data")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidInput creates a 400 error for malformed caller data.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// EmptyCart is returned when checkout is requested for a cart without lines.
func EmptyCart() *AppError {
	return &AppError{
		Code:    "EMPTY_CART",
		Message: "add some products before checking out",
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrEmptyCart,
	}
}

// EmptyOrder is returned when the ledger is asked to record an order without lines.
func EmptyOrder() *AppError {
	return &AppError{
		Code:    "EMPTY_ORDER",
		Message: "an order must contain at least one line",
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrEmptyOrder,
	}
}

// PersistenceFailure wraps a durable store failure.
func PersistenceFailure(op string, cause error) *AppError {
	return &AppError{
		Code:    "PERSISTENCE_FAILURE",
		Message: op + " failed",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrPersistence, cause),
	}
}

// MalformedPersistedData reports a stored value that does not match the expected shape.
func MalformedPersistedData(key string, cause error) *AppError {
	return &AppError{
		Code:    "MALFORMED_PERSISTED_DATA",
		Message: fmt.Sprintf("value stored under %q is malformed", key),
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrMalformedPersisted, cause),
	}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Conflict creates a 409 error, used for illegal state transitions.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrEmptyOrder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
