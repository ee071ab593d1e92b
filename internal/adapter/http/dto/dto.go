package dto

import (
	"time"

	"private-ledger/internal/core/domain"
)

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=128" sanitize:"-"`
}

// UpdateUserRequest changes any of name, email and password. Absent fields
// are left as they are.
type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Email    *string `json:"email,omitempty" binding:"omitempty,email,max=254"`
	Password *string `json:"password,omitempty" binding:"omitempty,min=8,max=128" sanitize:"-"`
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required" sanitize:"-"`
}

// UserResponse is the public view of a user. Keys and hashes never leave the service.
type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Admin     bool   `json:"admin"`
	CreatedAt string `json:"created_at"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateAccountRequest opens an account. OwnerID defaults to the caller;
// only admins may open accounts for someone else.
type CreateAccountRequest struct {
	OwnerID        *string `json:"owner_id,omitempty" binding:"omitempty,uuid"`
	InitialBalance float64 `json:"initial_balance" binding:"gte=0"`
}

// AccountResponse describes an account without its balance.
type AccountResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// BalanceResponse is the decrypted balance of one account.
type BalanceResponse struct {
	AccountID string  `json:"account_id"`
	Balance   float64 `json:"balance"`
}

// ApplyRequest is the request body for POST /transactions.
type ApplyRequest struct {
	Operation     string  `json:"operation" binding:"required,ledger_operation"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	ToAccountID   string  `json:"to_account_id" binding:"required,uuid"`
	FromAccountID *string `json:"from_account_id,omitempty" binding:"omitempty,uuid"`
}

// TransactionResponse is a decrypted transaction.
type TransactionResponse struct {
	ID            string  `json:"id"`
	Operation     string  `json:"operation"`
	FromAccountID *string `json:"from_account_id,omitempty"`
	ToAccountID   string  `json:"to_account_id"`
	Amount        float64 `json:"amount"`
	CreatedAt     string  `json:"created_at"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		Admin:     u.Admin,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// NewAccountResponse maps a domain account.
func NewAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		UserID:    a.UserID.String(),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// NewTransactionResponse maps a decrypted transaction.
func NewTransactionResponse(v *domain.TransactionView) TransactionResponse {
	resp := TransactionResponse{
		ID:          v.ID.String(),
		Operation:   string(v.Operation),
		ToAccountID: v.ToAccountID.String(),
		Amount:      v.Amount,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339Nano),
	}
	if v.FromAccountID != nil {
		from := v.FromAccountID.String()
		resp.FromAccountID = &from
	}
	return resp
}
