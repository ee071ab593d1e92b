package domain

import (
	"time"

	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
)

// Account holds a balance encrypted under its owner's user key.
// The decrypted balance is never negative.
type Account struct {
	ID        uuid.UUID                `json:"id"`
	UserID    uuid.UUID                `json:"user_id"`
	Balance   envelope.Field[float64] `json:"-"` // Never expose ciphertext
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt *time.Time               `json:"updated_at,omitempty"`
}

// Clone returns a deep copy, so callers can stage changes without aliasing
// stored byte slices.
func (a *Account) Clone() *Account {
	c := *a
	c.Balance = envelope.Field[float64]{
		Nonce:      append([]byte(nil), a.Balance.Nonce...),
		Ciphertext: append([]byte(nil), a.Balance.Ciphertext...),
	}
	if a.UpdatedAt != nil {
		t := *a.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}
