package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories.go -package=mocks

import (
	"context"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, int64, error)
	Update(ctx context.Context, user *domain.User) error
	// Delete returns domain.ErrUserHasAccounts while the user owns accounts.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Paging bounds shared by every list endpoint.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage applies the default and maximum page size and floors the offset.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// UserFilter selects users by exact name or email, oldest first.
type UserFilter struct {
	Name   *string
	Email  *string
	Limit  int
	Offset int
}

// Normalize clamps the page window.
func (f *UserFilter) Normalize() {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
}

// AccountRepository defines persistence operations for accounts.
// Methods accepting pgx.Tx run inside a ledger transaction; ForUpdate reads
// hold a row lock until the transaction ends.
type AccountRepository interface {
	Create(ctx context.Context, tx pgx.Tx, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance envelope.Field[float64]) error
}

// TransactionRepository defines persistence operations for transactions.
// Transactions are append-only: there is no update or delete.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, int64, error)
}

// TransactionFilter selects transactions touching an account, newest first.
// CreatedFrom is inclusive and CreatedTo exclusive.
type TransactionFilter struct {
	AccountID   uuid.UUID
	Operation   *domain.OperationKind
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// Normalize clamps the page window.
func (f *TransactionFilter) Normalize() {
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
}

// IdempotencyRepository is the durable idempotency store. Create runs inside
// the ledger transaction and returns domain.ErrDuplicateIdempotencyKey when
// the (actor, key) pair is already taken.
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, record *domain.IdempotencyRecord) error
	Get(ctx context.Context, actorID uuid.UUID, key string) (*domain.IdempotencyRecord, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
