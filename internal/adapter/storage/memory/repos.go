package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrDuplicate mirrors a unique-constraint violation.
var ErrDuplicate = errors.New("memory: duplicate key")

// ---- Users ----

type userRepo struct{ s *Store }

// NewUserRepository creates a memory-backed UserRepository.
func NewUserRepository(s *Store) ports.UserRepository { return &userRepo{s: s} }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicate)
	}
	if _, ok := r.s.emails[user.Email]; ok {
		return fmt.Errorf("email %s: %w", user.Email, ErrDuplicate)
	}
	u := *user
	u.WrappedKey = append([]byte(nil), user.WrappedKey...)
	r.s.users[u.ID] = &u
	r.s.emails[u.Email] = u.ID
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	id, ok := r.s.emails[email]
	r.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// List returns users matching the exact name and email filters, oldest first.
func (r *userRepo) List(ctx context.Context, filter ports.UserFilter) ([]domain.User, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	var matched []domain.User
	for _, u := range r.s.users {
		if filter.Name != nil && u.Name != *filter.Name {
			continue
		}
		if filter.Email != nil && u.Email != *filter.Email {
			continue
		}
		matched = append(matched, *u)
	}
	r.s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

// Update replaces name, email, password hash and active flag.
func (r *userRepo) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s not found", user.ID)
	}
	if owner, taken := r.s.emails[user.Email]; taken && owner != user.ID {
		return fmt.Errorf("email %s: %w", user.Email, ErrDuplicate)
	}
	next := *cur
	next.Name = user.Name
	next.Email = user.Email
	next.PasswordHash = user.PasswordHash
	next.Active = user.Active
	next.UpdatedAt = user.UpdatedAt
	delete(r.s.emails, cur.Email)
	r.s.emails[next.Email] = next.ID
	r.s.users[next.ID] = &next
	return nil
}

// Delete removes a user that owns no accounts. It takes the writer slot so
// no open transaction can stage an account for the user meanwhile.
func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	select {
	case r.s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.s.writer }()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	for _, acc := range r.s.accounts {
		if acc.UserID == id {
			return domain.ErrUserHasAccounts
		}
	}
	for key, rec := range r.s.idempotency {
		if rec.ActorID == id {
			delete(r.s.idempotency, key)
		}
	}
	delete(r.s.emails, u.Email)
	delete(r.s.users, id)
	return nil
}

// ---- Accounts ----

type accountRepo struct{ s *Store }

// NewAccountRepository creates a memory-backed AccountRepository.
func NewAccountRepository(s *Store) ports.AccountRepository { return &accountRepo{s: s} }

func (r *accountRepo) Create(ctx context.Context, tx pgx.Tx, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := asTx(r.s, tx)
	if err != nil {
		return err
	}
	if _, staged := t.accounts[account.ID]; staged || r.committed(account.ID) != nil {
		return fmt.Errorf("account %s: %w", account.ID, ErrDuplicate)
	}
	t.stageAccount(account.Clone())
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.committed(id), nil
}

// GetByIDForUpdate reads through the transaction's staged writes. The
// store's single writer slot is the lock.
func (r *accountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := asTx(r.s, tx)
	if err != nil {
		return nil, err
	}
	if acc, ok := t.accounts[id]; ok {
		return acc.Clone(), nil
	}
	return r.committed(id), nil
}

func (r *accountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Account
	for _, acc := range r.s.accounts {
		if acc.UserID == userID {
			out = append(out, *acc.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (r *accountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance envelope.Field[float64]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := asTx(r.s, tx)
	if err != nil {
		return err
	}
	acc, ok := t.accounts[id]
	if !ok {
		acc = r.committed(id)
	}
	if acc == nil {
		return fmt.Errorf("account %s not found", id)
	}
	next := acc.Clone()
	next.Balance = envelope.Field[float64]{
		Nonce:      append([]byte(nil), balance.Nonce...),
		Ciphertext: append([]byte(nil), balance.Ciphertext...),
	}
	now := time.Now().UTC()
	next.UpdatedAt = &now
	t.stageAccount(next)
	return nil
}

func (r *accountRepo) committed(id uuid.UUID) *domain.Account {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	acc, ok := r.s.accounts[id]
	if !ok {
		return nil
	}
	return acc.Clone()
}

// ---- Transactions ----

type transactionRepo struct{ s *Store }

// NewTransactionRepository creates a memory-backed TransactionRepository.
// Records are append-only.
func NewTransactionRepository(s *Store) ports.TransactionRepository {
	return &transactionRepo{s: s}
}

func (r *transactionRepo) Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := asTx(r.s, tx)
	if err != nil {
		return err
	}
	r.s.mu.RLock()
	_, exists := r.s.txIndex[transaction.ID]
	r.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("transaction %s: %w", transaction.ID, ErrDuplicate)
	}
	t.txns = append(t.txns, cloneTransaction(transaction))
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	i, ok := r.s.txIndex[id]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(r.s.transactions[i]), nil
}

// List returns matching transactions newest first, plus the total match count.
func (r *transactionRepo) List(ctx context.Context, filter ports.TransactionFilter) ([]domain.Transaction, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.Transaction
	for i := len(r.s.transactions) - 1; i >= 0; i-- {
		txn := r.s.transactions[i]
		if !txn.Involves(filter.AccountID) {
			continue
		}
		if filter.Operation != nil && txn.Operation != *filter.Operation {
			continue
		}
		if filter.CreatedFrom != nil && txn.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !txn.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		matched = append(matched, *cloneTransaction(txn))
	}
	// Commit order can disagree with created_at; ties keep commit order.
	slices.SortStableFunc(matched, func(a, b domain.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

// page slices one window out of matched. A non-positive limit returns the
// rest of the slice.
func page[T any](matched []T, limit, offset int) []T {
	start := min(max(offset, 0), len(matched))
	end := len(matched)
	if limit > 0 {
		end = min(start+limit, len(matched))
	}
	return slices.Clone(matched[start:end])
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.FromAccountID != nil {
		from := *t.FromAccountID
		c.FromAccountID = &from
	}
	c.Amount = envelope.Field[float64]{
		Nonce:      append([]byte(nil), t.Amount.Nonce...),
		Ciphertext: append([]byte(nil), t.Amount.Ciphertext...),
	}
	return &c
}

// ---- Idempotency ----

type idempotencyRepo struct{ s *Store }

// NewIdempotencyRepository creates a memory-backed IdempotencyRepository.
// Records become visible on commit, like a unique index.
func NewIdempotencyRepository(s *Store) ports.IdempotencyRepository {
	return &idempotencyRepo{s: s}
}

func (r *idempotencyRepo) Create(ctx context.Context, tx pgx.Tx, record *domain.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := asTx(r.s, tx)
	if err != nil {
		return err
	}
	key := domain.BuildIdempotencyKey(record.ActorID, record.Key)
	r.s.mu.RLock()
	_, exists := r.s.idempotency[key]
	r.s.mu.RUnlock()
	if exists {
		return domain.ErrDuplicateIdempotencyKey
	}
	for _, staged := range t.idem {
		if staged.ActorID == record.ActorID && staged.Key == record.Key {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	c := *record
	t.idem = append(t.idem, &c)
	return nil
}

func (r *idempotencyRepo) Get(ctx context.Context, actorID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.idempotency[domain.BuildIdempotencyKey(actorID, key)]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

// ---- Audit ----

type auditRepo struct{ s *Store }

// NewAuditRepository creates a memory-backed AuditRepository.
func NewAuditRepository(s *Store) ports.AuditRepository { return &auditRepo{s: s} }

func (r *auditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *entry)
	return nil
}

// AuditLogs returns a copy of every persisted audit entry.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}
