package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateIdempotencyKey is returned by idempotency stores when the
// (actor, key) pair was already recorded by a committed transaction.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")

// IdempotencyRecord binds a client key to the transaction it produced.
// RequestHash fingerprints the request so a reused key with a different
// payload can be told apart from a retry.
type IdempotencyRecord struct {
	ActorID       uuid.UUID `json:"actor_id"`
	Key           string    `json:"key"`
	TransactionID uuid.UUID `json:"transaction_id"`
	RequestHash   string    `json:"request_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Matches reports whether hash fingerprints the request that created r.
func (r *IdempotencyRecord) Matches(hash string) bool {
	return r.RequestHash == hash
}

// BuildIdempotencyKey scopes a client-supplied key to the acting user, so two
// users can never replay each other's postings.
func BuildIdempotencyKey(userID uuid.UUID, clientKey string) string {
	return userID.String() + ":" + clientKey
}

// RequestFingerprint hashes the fields that define a ledger operation.
func RequestFingerprint(op OperationKind, amount float64, to uuid.UUID, from *uuid.UUID) string {
	parts := []string{
		string(op),
		strconv.FormatFloat(amount, 'g', -1, 64),
		to.String(),
		"",
	}
	if from != nil {
		parts[3] = from.String()
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
