package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, operation::text, from_account_id, to_account_id, amount, created_at`

// TransactionRepo implements ports.TransactionRepository.
// The table is append-only; a trigger rejects UPDATE and DELETE.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, operation, from_account_id, to_account_id, amount, created_at)
		VALUES ($1, $2::ledger_operation, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		t.ID, string(t.Operation), t.FromAccountID, t.ToAccountID, t.Amount.Bytes(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by primary key.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransactionRow(r.pool.QueryRow(ctx, query, id))
}

// List returns transactions touching filter.AccountID on either side,
// newest first, with the total match count.
func (r *TransactionRepo) List(ctx context.Context, filter ports.TransactionFilter) ([]domain.Transaction, int64, error) {
	const where = ` WHERE (to_account_id = $1 OR from_account_id = $1)
		AND ($2::text IS NULL OR operation::text = $2)
		AND ($3::timestamptz IS NULL OR created_at >= $3)
		AND ($4::timestamptz IS NULL OR created_at < $4)`

	var op any
	if filter.Operation != nil {
		op = string(*filter.Operation)
	}
	args := []any{filter.AccountID, op, optionalTime(filter.CreatedFrom), optionalTime(filter.CreatedTo)}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $5 OFFSET $6`

	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	return txns, total, nil
}

// optionalTime turns a nil bound into SQL NULL.
func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var (
		op     string
		amount []byte
	)
	err := row.Scan(&t.ID, &op, &t.FromAccountID, &t.ToAccountID, &amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.Operation = domain.OperationKind(op)
	t.Amount, err = envelope.ParseField[float64](amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
	}
	return t, nil
}
