package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_004", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[LED_004] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("LED_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestLedgerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"NotFound", ErrNotFound("account"), CodeNotFound, 404},
		{"Forbidden", ErrForbidden(), CodeForbidden, 403},
		{"BadRequest", ErrBadRequest("from_account_id is required"), CodeBadRequest, 400},
		{"UserHasAccounts", ErrUserHasAccounts(), CodeUserHasAccounts, 409},
		{"InsufficientFunds", ErrInsufficientFunds(), CodeInsufficientFunds, 402},
		{"Immutable", ErrImmutableTransaction(), CodeImmutable, 405},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestNotFound_IncludesEntity(t *testing.T) {
	assert.Equal(t, "account not found", ErrNotFound("account").Message)
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidCredentials", ErrInvalidCredentials(), "AUTH_001", 401},
		{"EmailExists", ErrEmailExists(), "AUTH_002", 409},
		{"InvalidToken", ErrInvalidToken(), "AUTH_003", 401},
		{"UserInactive", ErrUserInactive(), "AUTH_004", 403},
		{"RateLimit", ErrRateLimitExceeded(), "RATE_001", 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestSystemErrors_WrapCause(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		code string
	}{
		{"Store", ErrStore(cause), CodeStore},
		{"Encryption", ErrEncryption(cause), CodeEncryption},
		{"InvalidKeyLength", ErrInvalidKeyLength(cause), CodeInvalidKeyLength},
		{"Internal", InternalError(cause), CodeStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, http.StatusInternalServerError, tt.err.HTTPStatus)
			assert.ErrorIs(t, tt.err, cause)
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeForbidden, Code(ErrForbidden()))
	assert.Equal(t, CodeStore, Code(fmt.Errorf("outer: %w", ErrStore(errors.New("x")))))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.Equal(t, "", Code(nil))
}

func TestValidation(t *testing.T) {
	err := Validation("amount must be positive")
	assert.Equal(t, CodeBadRequest, err.Code)
	assert.Equal(t, "amount must be positive", err.Message)
}
