package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrUserHasAccounts is returned by user stores when a delete would orphan
// accounts.
var ErrUserHasAccounts = errors.New("user still owns accounts")

// ScopeAdmin grants Fee/Interest postings and read access to every account.
const ScopeAdmin = "admin"

// User owns accounts and the key that protects their balances.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Active       bool       `json:"active"`
	Admin        bool       `json:"admin"`
	PasswordHash string     `json:"-"` // Never expose
	WrappedKey   []byte     `json:"-"` // User key sealed under the master key
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Scopes returns the token scopes granted to the user.
func (u *User) Scopes() []string {
	if u.Admin {
		return []string{ScopeAdmin}
	}
	return []string{}
}

// Actor is the authenticated caller of a ledger operation, as established by
// the transport layer.
type Actor struct {
	UserID uuid.UUID
	Scopes []string
}

// IsAdmin reports whether the actor holds the admin scope.
func (a Actor) IsAdmin() bool {
	return slices.Contains(a.Scopes, ScopeAdmin)
}

// Owns reports whether the actor owns the account.
func (a Actor) Owns(acc *Account) bool {
	return acc != nil && acc.UserID == a.UserID
}

// CanRead reports whether the actor may see the account's balance and history.
func (a Actor) CanRead(acc *Account) bool {
	return a.IsAdmin() || a.Owns(acc)
}
