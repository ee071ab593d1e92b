// Package memory is a transactional in-process store implementing the ledger
// ports. It backs local runs and tests with the same commit and rollback
// semantics as the postgres adapter.
package memory

import (
	"context"
	"errors"
	"sync"

	"private-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrForeignTx is returned when a repository receives a pgx.Tx that was not
// opened by its Store.
var ErrForeignTx = errors.New("memory: transaction not opened by this store")

// Store holds committed state. Only one write transaction runs at a time,
// which makes every transaction serializable and stands in for row locks.
type Store struct {
	writer chan struct{}

	mu           sync.RWMutex
	users        map[uuid.UUID]*domain.User
	emails       map[string]uuid.UUID
	accounts     map[uuid.UUID]*domain.Account
	transactions []*domain.Transaction
	txIndex      map[uuid.UUID]int
	idempotency  map[string]*domain.IdempotencyRecord
	audit        []domain.AuditLog
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		writer:   make(chan struct{}, 1),
		users:    make(map[uuid.UUID]*domain.User),
		emails:   make(map[string]uuid.UUID),
		accounts: make(map[uuid.UUID]*domain.Account),
		txIndex:  make(map[uuid.UUID]int),

		idempotency: make(map[string]*domain.IdempotencyRecord),
	}
}

// Begin implements ports.DBTransactor. It waits for the running write
// transaction, if any, or for ctx.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Tx{
		store:    s,
		accounts: make(map[uuid.UUID]*domain.Account),
	}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(context.Context) error { return nil }

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }

// Tx stages writes until Commit. Only Commit and Rollback are implemented;
// the embedded pgx.Tx is nil.
type Tx struct {
	pgx.Tx

	store    *Store
	accounts map[uuid.UUID]*domain.Account
	order    []uuid.UUID // account ids in first-write order
	txns     []*domain.Transaction
	idem     []*domain.IdempotencyRecord
	done     bool
}

// Commit publishes staged writes. A cancelled ctx rolls back instead.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		t.finish()
		return err
	}

	s := t.store
	s.mu.Lock()
	for _, id := range t.order {
		s.accounts[id] = t.accounts[id]
	}
	for _, txn := range t.txns {
		s.txIndex[txn.ID] = len(s.transactions)
		s.transactions = append(s.transactions, txn)
	}
	for _, rec := range t.idem {
		s.idempotency[domain.BuildIdempotencyKey(rec.ActorID, rec.Key)] = rec
	}
	s.mu.Unlock()

	t.finish()
	return nil
}

// Rollback drops staged writes. It returns pgx.ErrTxClosed after Commit,
// as pgx does, so it is safe to defer.
func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	t.accounts = nil
	t.txns = nil
	t.idem = nil
	<-t.store.writer
}

func (t *Tx) stageAccount(acc *domain.Account) {
	if _, ok := t.accounts[acc.ID]; !ok {
		t.order = append(t.order, acc.ID)
	}
	t.accounts[acc.ID] = acc
}

func asTx(s *Store, tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, ErrForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}
