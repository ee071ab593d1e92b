package domain

import (
	"fmt"
	"strings"
	"time"

	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
)

// OperationKind is the closed set of value-moving operations.
type OperationKind string

const (
	OperationDeposit    OperationKind = "deposit"
	OperationWithdrawal OperationKind = "withdrawal"
	OperationTransfer   OperationKind = "transfer"
	OperationPayment    OperationKind = "payment"
	OperationFee        OperationKind = "fee"
	OperationInterest   OperationKind = "interest"
)

// OperationKinds lists every valid kind.
var OperationKinds = []OperationKind{
	OperationDeposit,
	OperationWithdrawal,
	OperationTransfer,
	OperationPayment,
	OperationFee,
	OperationInterest,
}

// ParseOperationKind parses a case-insensitive operation name.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of OperationKinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationDeposit, OperationWithdrawal, OperationTransfer,
		OperationPayment, OperationFee, OperationInterest:
		return true
	}
	return false
}

// RequiresSource reports whether the operation needs a from_account.
func (k OperationKind) RequiresSource() bool {
	return k == OperationTransfer
}

// RequiresAdmin reports whether only admins may post the operation.
func (k OperationKind) RequiresAdmin() bool {
	return k == OperationFee || k == OperationInterest
}

// RequiresTargetOwner reports whether the actor must own to_account.
// Withdrawal names the debited account as to_account.
func (k OperationKind) RequiresTargetOwner() bool {
	return k == OperationWithdrawal
}

// DebitsTarget reports whether to_account loses the amount.
func (k OperationKind) DebitsTarget() bool {
	return k == OperationWithdrawal || k == OperationFee || k == OperationPayment
}

// Transaction is an immutable ledger record. Its amount is encrypted under
// the owner key of the account returned by AmountKeyAccountID.
type Transaction struct {
	ID            uuid.UUID                `json:"id"`
	Operation     OperationKind            `json:"operation"`
	FromAccountID *uuid.UUID               `json:"from_account_id,omitempty"`
	ToAccountID   uuid.UUID                `json:"to_account_id"`
	Amount        envelope.Field[float64] `json:"-"`
	CreatedAt     time.Time                `json:"created_at"`
}

// AmountKeyAccountID names the account whose owner key protects Amount:
// the debited account when there is one, otherwise the credited one.
// The same rule is used when writing and when reading.
func (t *Transaction) AmountKeyAccountID() uuid.UUID {
	return AmountKeyAccount(t.Operation, t.ToAccountID, t.FromAccountID)
}

// AmountKeyAccount applies the AmountKeyAccountID rule before a record exists.
func AmountKeyAccount(op OperationKind, to uuid.UUID, from *uuid.UUID) uuid.UUID {
	if op == OperationTransfer && from != nil {
		return *from
	}
	return to
}

// Involves reports whether accountID is either side of the transaction.
func (t *Transaction) Involves(accountID uuid.UUID) bool {
	return t.ToAccountID == accountID || (t.FromAccountID != nil && *t.FromAccountID == accountID)
}

// TransactionView is a transaction with its amount decrypted for an
// authorized reader.
type TransactionView struct {
	*Transaction
	Amount float64 `json:"amount"`
}
