package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Code returns the AppError code carried by err, or "" if there is none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Ledger (LED) ----

const (
	CodeNotFound          = "LED_001"
	CodeForbidden         = "LED_002"
	CodeBadRequest        = "LED_003"
	CodeInsufficientFunds = "LED_004"
	CodeImmutable         = "LED_005"
	CodeUserHasAccounts   = "LED_006"
)

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Forbidden", http.StatusForbidden)
}

func ErrBadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient funds in account", http.StatusPaymentRequired)
}

func ErrImmutableTransaction() *AppError {
	return New(CodeImmutable, "Transactions cannot be altered or deleted", http.StatusMethodNotAllowed)
}

func ErrUserHasAccounts() *AppError {
	return New(CodeUserHasAccounts, "User still owns accounts", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrEmailExists() *AppError {
	return New("AUTH_002", "Email already registered", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrUserInactive() *AppError {
	return New("AUTH_004", "User is inactive", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

const (
	CodeStore            = "SYS_001"
	CodeEncryption       = "SYS_003"
	CodeInvalidKeyLength = "SYS_004"
)

// ErrStore reports a failed store read, write or commit. The surrounding
// transaction has been rolled back.
func ErrStore(err error) *AppError {
	return Wrap(CodeStore, "Internal store error", http.StatusInternalServerError, err)
}

func ErrEncryption(err error) *AppError {
	return Wrap(CodeEncryption, "Encryption failure", http.StatusInternalServerError, err)
}

func ErrInvalidKeyLength(err error) *AppError {
	return Wrap(CodeInvalidKeyLength, "Invalid key length", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeStore, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a bad-request error for malformed input.
func Validation(message string) *AppError {
	return ErrBadRequest(message)
}
