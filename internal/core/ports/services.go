package ports

//go:generate mockgen -source=services.go -destination=mocks/services.go -package=mocks

import (
	"context"
	"time"

	"private-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// KeyManager wraps and unwraps per-user keys under the master key.
type KeyManager interface {
	GenerateUserKey() ([]byte, error)
	Wrap(userKey []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, scopes []string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Scopes []string
}

// IdempotencyCache is the Redis fast path in front of IdempotencyRepository.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RateLimitStore counts requests in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// LedgerMetrics records ledger outcomes. Implementations must be safe for
// concurrent use.
type LedgerMetrics interface {
	RecordOperation(operation string, code string, duration time.Duration)
	RecordAccountOpened()
}

// AuditService records audited actions without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// LedgerService applies value-moving operations to encrypted accounts.
type LedgerService interface {
	CreateAccount(ctx context.Context, ownerID uuid.UUID, initialBalance float64, actor domain.Actor) (*domain.Account, error)
	Apply(ctx context.Context, req ApplyRequest) (*domain.TransactionView, error)
	GetAccount(ctx context.Context, accountID uuid.UUID, actor domain.Actor) (*domain.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID, actor domain.Actor) (float64, error)
	GetAccountsByUser(ctx context.Context, userID uuid.UUID, actor domain.Actor) ([]domain.Account, error)
	GetTransaction(ctx context.Context, txID uuid.UUID, actor domain.Actor) (*domain.TransactionView, error)
	ListAccountTransactions(ctx context.Context, filter TransactionFilter, actor domain.Actor) ([]domain.TransactionView, int64, error)
	AmendTransaction(ctx context.Context, txID uuid.UUID, actor domain.Actor) error
	DeleteTransaction(ctx context.Context, txID uuid.UUID, actor domain.Actor) error
}

// ApplyRequest holds validated input for a ledger operation.
type ApplyRequest struct {
	Operation      domain.OperationKind
	Amount         float64
	ToAccountID    uuid.UUID
	FromAccountID  *uuid.UUID
	Actor          domain.Actor
	IdempotencyKey string // optional
}

// UserService defines registration, login and user administration.
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, time.Time, error) // token, expiry, error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	List(ctx context.Context, filter UserFilter, actor domain.Actor) ([]domain.User, int64, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateUserRequest, actor domain.Actor) (*domain.User, error)
	Delete(ctx context.Context, id uuid.UUID, actor domain.Actor) error
}

// RegisterRequest holds input for user registration.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Admin    bool
}

// UpdateUserRequest carries the fields to change; nil leaves a field as is.
type UpdateUserRequest struct {
	Name     *string
	Email    *string
	Password *string
}
