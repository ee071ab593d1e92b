package postgres

import (
	"context"
	"errors"
	"fmt"

	"private-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository. The primary key on
// (actor_id, key) makes a concurrent duplicate wait for the first writer and
// then fail.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create records key within the ledger transaction that produced the posting.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_keys (actor_id, key, transaction_id, request_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := tx.Exec(ctx, query, rec.ActorID, rec.Key, rec.TransactionID, rec.RequestHash, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// Get fetches the record for an actor's key. Returns nil, nil when absent.
func (r *IdempotencyRepo) Get(ctx context.Context, actorID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT actor_id, key, transaction_id, request_hash, created_at
		FROM idempotency_keys WHERE actor_id = $1 AND key = $2`

	rec := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, actorID, key).
		Scan(&rec.ActorID, &rec.Key, &rec.TransactionID, &rec.RequestHash, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}
