package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidInput, ErrEmptyCart, ErrEmptyOrder, ErrPersistence,
		ErrMalformedPersisted, ErrNotFound, ErrConflict, ErrUnauthorized,
		ErrInternal,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("disk full")
	appErr := &AppError{Code: "PERSISTENCE_FAILURE", Message: "save failed", Err: inner}
	assert.Contains(t, appErr.Error(), "PERSISTENCE_FAILURE")
	assert.Contains(t, appErr.Error(), "save failed")
	assert.Contains(t, appErr.Error(), "disk full")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "EMPTY_CART", Message: "nothing here"}
	assert.Equal(t, "EMPTY_CART: nothing here", appErr.Error())
}

func TestAppError_Unwrap_Nil(t *testing.T) {
	appErr := &AppError{Code: "TEST", Message: "test"}
	assert.Nil(t, appErr.Unwrap())
}

// --- Constructor functions ---

func TestConstructors_WrapSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
		status   int
		code     string
	}{
		{"invalid input", InvalidInput("bad price"), ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty cart", EmptyCart(), ErrEmptyCart, http.StatusUnprocessableEntity, "EMPTY_CART"},
		{"empty order", EmptyOrder(), ErrEmptyOrder, http.StatusUnprocessableEntity, "EMPTY_ORDER"},
		{"not found", NotFound("order", "7"), ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"conflict", Conflict("bad transition"), ErrConflict, http.StatusConflict, "CONFLICT"},
		{"unauthorized", Unauthorized("login required"), ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestPersistenceFailure_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := PersistenceFailure("append order", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "append order failed", err.Message)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
}

func TestMalformedPersistedData_KeepsCause(t *testing.T) {
	cause := errors.New("unexpected token")
	err := MalformedPersistedData("@myapp_cart", cause)

	assert.ErrorIs(t, err, ErrMalformedPersisted)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Message, "@myapp_cart")
}

func TestInternal(t *testing.T) {
	inner := errors.New("boom")
	err := Internal(inner)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

// --- HTTPStatus ---

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", EmptyCart(), http.StatusUnprocessableEntity},
		{"wrapped app error", fmt.Errorf("checkout: %w", NotFound("order", "1")), http.StatusNotFound},
		{"bare invalid input", fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest},
		{"bare empty order", ErrEmptyOrder, http.StatusUnprocessableEntity},
		{"bare conflict", ErrConflict, http.StatusConflict},
		{"bare unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"bare persistence", fmt.Errorf("x: %w", ErrPersistence), http.StatusServiceUnavailable},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
