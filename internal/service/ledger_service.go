package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/apperror"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL = 24 * time.Hour

	// metricsOutcomeOK labels successful operations.
	metricsOutcomeOK = "OK"
	// operationOpenAccount labels CreateAccount in metrics.
	operationOpenAccount = "open_account"
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	userRepo    ports.UserRepository
	accountRepo ports.AccountRepository
	txRepo      ports.TransactionRepository
	idempRepo   ports.IdempotencyRepository
	keys        ports.KeyManager
	transactor  ports.DBTransactor
	idempCache  ports.IdempotencyCache
	metrics     ports.LedgerMetrics
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
// idempCache and metrics may be nil. Without idempRepo, idempotency keys are
// only honoured while the Redis entry lives.
func NewLedgerService(
	userRepo ports.UserRepository,
	accountRepo ports.AccountRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	keys ports.KeyManager,
	transactor ports.DBTransactor,
	idempCache ports.IdempotencyCache,
	metrics ports.LedgerMetrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &LedgerServiceImpl{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		txRepo:      txRepo,
		idempRepo:   idempRepo,
		keys:        keys,
		transactor:  transactor,
		idempCache:  idempCache,
		metrics:     metrics,
		log:         log,
	}
}

// ==================== Writes ====================

// CreateAccount opens an account for ownerID. The initial balance is booked
// as a Deposit with no source account, so every balance is explained by the
// transaction log.
func (s *LedgerServiceImpl) CreateAccount(ctx context.Context, ownerID uuid.UUID, initialBalance float64, actor domain.Actor) (acc *domain.Account, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(operationOpenAccount, outcome(err), time.Since(start)) }()

	if !isFinite(initialBalance) || initialBalance < 0 {
		return nil, apperror.ErrBadRequest("initial balance must be a finite number >= 0")
	}
	if actor.UserID != ownerID && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}

	owner, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("find owner: %w", err))
	}
	if owner == nil {
		return nil, apperror.ErrNotFound("user")
	}

	key, err := s.keys.Unwrap(owner.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(key)

	zero, err := envelope.EncryptFloat(0, key)
	if err != nil {
		return nil, cryptoError("encrypt opening balance", err)
	}
	opening, err := envelope.EncryptFloat(initialBalance, key)
	if err != nil {
		return nil, cryptoError("encrypt initial balance", err)
	}
	amount, err := envelope.EncryptFloat(initialBalance, key)
	if err != nil {
		return nil, cryptoError("encrypt amount", err)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	acc = &domain.Account{
		ID:        newID(),
		UserID:    owner.ID,
		Balance:   zero,
		CreatedAt: now,
	}
	if err := s.accountRepo.Create(ctx, dbTx, acc); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("create account: %w", err))
	}
	if err := s.accountRepo.UpdateBalance(ctx, dbTx, acc.ID, opening); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("book opening balance: %w", err))
	}

	txn := &domain.Transaction{
		ID:          newID(),
		Operation:   domain.OperationDeposit,
		ToAccountID: acc.ID,
		Amount:      amount,
		CreatedAt:   now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("create transaction: %w", err))
	}

	if err := commit(ctx, dbTx); err != nil {
		return nil, err
	}

	acc.Balance = opening
	acc.UpdatedAt = &now
	s.metrics.RecordAccountOpened()

	s.log.Info().
		Str("account_id", acc.ID.String()).
		Str("user_id", owner.ID.String()).
		Str("tx_id", txn.ID.String()).
		Msg("account opened")

	return acc, nil
}

// Apply runs one ledger operation inside a single store transaction.
func (s *LedgerServiceImpl) Apply(ctx context.Context, req ports.ApplyRequest) (view *domain.TransactionView, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(string(req.Operation), outcome(err), time.Since(start)) }()

	view, err = s.apply(ctx, req)
	if err != nil {
		ev := s.log.Warn()
		if isInfrastructure(err) {
			ev = s.log.Error()
		}
		ev.Err(err).
			Str("operation", string(req.Operation)).
			Str("to_account_id", req.ToAccountID.String()).
			Str("actor_id", req.Actor.UserID.String()).
			Msg("ledger operation rejected")
	}
	return view, err
}

// posting is one balance mutation computed before any write.
type posting struct {
	account *domain.Account
	delta   decimal.Decimal
	balance envelope.Field[float64]
}

func (s *LedgerServiceImpl) apply(ctx context.Context, req ports.ApplyRequest) (*domain.TransactionView, error) {
	if err := validateApply(req); err != nil {
		return nil, err
	}
	if req.Operation.RequiresAdmin() && !req.Actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}

	var fingerprint string
	if req.IdempotencyKey != "" {
		fingerprint = domain.RequestFingerprint(req.Operation, req.Amount, req.ToAccountID, req.FromAccountID)
		view, err := s.findIdempotent(ctx, req, fingerprint)
		if err != nil || view != nil {
			return view, err
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.lockAccounts(ctx, dbTx, req.ToAccountID, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	to := locked[req.ToAccountID]
	var from *domain.Account
	if req.FromAccountID != nil {
		from = locked[*req.FromAccountID]
	}

	if req.Operation.RequiresTargetOwner() && !req.Actor.Owns(to) {
		return nil, apperror.ErrForbidden()
	}
	if req.Operation.RequiresSource() && !req.Actor.Owns(from) {
		return nil, apperror.ErrForbidden()
	}

	ring := s.newKeyRing()
	defer ring.wipe()

	amount := decimal.NewFromFloat(req.Amount)
	var postings []*posting
	switch {
	case req.Operation == domain.OperationTransfer:
		// Debit first so a failed credit write exercises rollback of the debit.
		postings = []*posting{
			{account: from, delta: amount.Neg()},
			{account: to, delta: amount},
		}
	case req.Operation.DebitsTarget():
		postings = []*posting{{account: to, delta: amount.Neg()}}
	default:
		postings = []*posting{{account: to, delta: amount}}
	}

	// Every new balance is computed and checked before the first write.
	for _, p := range postings {
		key, err := ring.forUser(ctx, p.account.UserID)
		if err != nil {
			return nil, err
		}
		current, err := envelope.DecryptFloat(p.account.Balance, key)
		if err != nil {
			return nil, cryptoError("decrypt balance", err)
		}
		next := decimal.NewFromFloat(current).Add(p.delta)
		if next.IsNegative() {
			return nil, apperror.ErrInsufficientFunds()
		}
		p.balance, err = envelope.EncryptFloat(next.InexactFloat64(), key)
		if err != nil {
			return nil, cryptoError("encrypt balance", err)
		}
	}

	amountOwner := locked[domain.AmountKeyAccount(req.Operation, req.ToAccountID, req.FromAccountID)].UserID
	amountKey, err := ring.forUser(ctx, amountOwner)
	if err != nil {
		return nil, err
	}
	encAmount, err := envelope.EncryptFloat(req.Amount, amountKey)
	if err != nil {
		return nil, cryptoError("encrypt amount", err)
	}

	for _, p := range postings {
		if err := s.accountRepo.UpdateBalance(ctx, dbTx, p.account.ID, p.balance); err != nil {
			return nil, apperror.ErrStore(fmt.Errorf("update balance: %w", err))
		}
	}

	txn := &domain.Transaction{
		ID:            newID(),
		Operation:     req.Operation,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        encAmount,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("create transaction: %w", err))
	}

	var record *domain.IdempotencyRecord
	if req.IdempotencyKey != "" {
		record = &domain.IdempotencyRecord{
			ActorID:       req.Actor.UserID,
			Key:           req.IdempotencyKey,
			TransactionID: txn.ID,
			RequestHash:   fingerprint,
			CreatedAt:     txn.CreatedAt,
		}
		if s.idempRepo != nil {
			if err := s.idempRepo.Create(ctx, dbTx, record); err != nil {
				if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
					return nil, apperror.ErrStore(fmt.Errorf("record idempotency key: %w", err))
				}
				// Another request with this key committed first; undo ours
				// and answer with theirs.
				dbTx.Rollback(ctx) //nolint:errcheck
				return s.replayCommitted(ctx, req, fingerprint)
			}
		}
	}

	if err := commit(ctx, dbTx); err != nil {
		return nil, err
	}

	if record != nil {
		s.cacheRecord(ctx, record)
	}

	ev := s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("operation", string(txn.Operation)).
		Str("to_account_id", txn.ToAccountID.String())
	if txn.FromAccountID != nil {
		ev = ev.Str("from_account_id", txn.FromAccountID.String())
	}
	ev.Msg("ledger operation committed")

	return &domain.TransactionView{Transaction: txn, Amount: req.Amount}, nil
}

// findIdempotent returns the posting already recorded under the request's
// key, or nil when the key is new. Redis is consulted first; its failures
// fall through to the durable store.
func (s *LedgerServiceImpl) findIdempotent(ctx context.Context, req ports.ApplyRequest, fingerprint string) (*domain.TransactionView, error) {
	if rec := s.cachedRecord(ctx, req.Actor.UserID, req.IdempotencyKey); rec != nil {
		view, err := s.replay(ctx, rec, fingerprint)
		if err != nil || view != nil {
			return view, err
		}
	}
	if s.idempRepo == nil {
		return nil, nil
	}

	rec, err := s.idempRepo.Get(ctx, req.Actor.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("check idempotency key: %w", err))
	}
	if rec == nil {
		return nil, nil
	}
	view, err := s.replay(ctx, rec, fingerprint)
	if err == nil && view != nil {
		s.cacheRecord(ctx, rec)
	}
	return view, err
}

// replayCommitted answers a request that lost the race for its key.
func (s *LedgerServiceImpl) replayCommitted(ctx context.Context, req ports.ApplyRequest, fingerprint string) (*domain.TransactionView, error) {
	rec, err := s.idempRepo.Get(ctx, req.Actor.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("load idempotency key: %w", err))
	}
	if rec == nil {
		return nil, apperror.ErrStore(fmt.Errorf("idempotency key %q conflicted but has no record", req.IdempotencyKey))
	}
	view, err := s.replay(ctx, rec, fingerprint)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, apperror.ErrStore(fmt.Errorf("transaction %s for idempotency key %q not found", rec.TransactionID, req.IdempotencyKey))
	}
	return view, nil
}

// replay returns the transaction rec points at, or nil if it is gone. A key
// reused for a different request is rejected.
func (s *LedgerServiceImpl) replay(ctx context.Context, rec *domain.IdempotencyRecord, fingerprint string) (*domain.TransactionView, error) {
	if !rec.Matches(fingerprint) {
		return nil, apperror.ErrBadRequest("Idempotency-Key was already used for a different request")
	}

	txn, err := s.txRepo.GetByID(ctx, rec.TransactionID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("load idempotent transaction: %w", err))
	}
	if txn == nil {
		return nil, nil
	}

	ring := s.newKeyRing()
	defer ring.wipe()
	view, err := s.decryptTransaction(ctx, ring, txn)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("tx_id", txn.ID.String()).Str("key", rec.Key).Msg("idempotent replay")
	return view, nil
}

// cachedRecord reads the Redis copy of a record. Misses, errors and corrupt
// entries all return nil.
func (s *LedgerServiceImpl) cachedRecord(ctx context.Context, actorID uuid.UUID, key string) *domain.IdempotencyRecord {
	if s.idempCache == nil {
		return nil
	}
	cacheKey := domain.BuildIdempotencyKey(actorID, key)
	cached, err := s.idempCache.Get(ctx, cacheKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("redis idempotency check failed")
		return nil
	}
	if cached == nil {
		return nil
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(cached, &rec); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("corrupt idempotency entry ignored")
		return nil
	}
	return &rec
}

// cacheRecord stores rec in Redis. Best-effort.
func (s *LedgerServiceImpl) cacheRecord(ctx context.Context, rec *domain.IdempotencyRecord) {
	if s.idempCache == nil {
		return
	}
	cacheKey := domain.BuildIdempotencyKey(rec.ActorID, rec.Key)
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to encode idempotency record")
		return
	}
	if err := s.idempCache.Set(ctx, cacheKey, data, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache idempotency in redis")
	}
}

// lockAccounts locks every referenced account in ascending id order, so two
// opposite transfers cannot deadlock.
func (s *LedgerServiceImpl) lockAccounts(ctx context.Context, tx pgx.Tx, to uuid.UUID, from *uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	ids := []uuid.UUID{to}
	if from != nil {
		ids = append(ids, *from)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	locked := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		acc, err := s.accountRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, apperror.ErrStore(fmt.Errorf("lock account: %w", err))
		}
		if acc == nil {
			return nil, apperror.ErrNotFound("account")
		}
		locked[id] = acc
	}
	return locked, nil
}

// AmendTransaction always fails: the ledger is append-only.
func (s *LedgerServiceImpl) AmendTransaction(_ context.Context, txID uuid.UUID, actor domain.Actor) error {
	s.log.Warn().Str("tx_id", txID.String()).Str("actor_id", actor.UserID.String()).Msg("transaction amendment refused")
	return apperror.ErrImmutableTransaction()
}

// DeleteTransaction always fails: the ledger is append-only.
func (s *LedgerServiceImpl) DeleteTransaction(_ context.Context, txID uuid.UUID, actor domain.Actor) error {
	s.log.Warn().Str("tx_id", txID.String()).Str("actor_id", actor.UserID.String()).Msg("transaction deletion refused")
	return apperror.ErrImmutableTransaction()
}

// ==================== Reads ====================

// GetAccount returns account metadata to its owner or an admin. The balance
// stays sealed.
func (s *LedgerServiceImpl) GetAccount(ctx context.Context, accountID uuid.UUID, actor domain.Actor) (*domain.Account, error) {
	return s.readableAccount(ctx, accountID, actor)
}

// GetBalance decrypts an account balance for its owner or an admin.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, accountID uuid.UUID, actor domain.Actor) (float64, error) {
	acc, err := s.readableAccount(ctx, accountID, actor)
	if err != nil {
		return 0, err
	}

	ring := s.newKeyRing()
	defer ring.wipe()

	key, err := ring.forUser(ctx, acc.UserID)
	if err != nil {
		return 0, err
	}
	balance, err := envelope.DecryptFloat(acc.Balance, key)
	if err != nil {
		return 0, cryptoError("decrypt balance", err)
	}
	return balance, nil
}

// GetAccountsByUser lists a user's accounts for that user or an admin.
func (s *LedgerServiceImpl) GetAccountsByUser(ctx context.Context, userID uuid.UUID, actor domain.Actor) ([]domain.Account, error) {
	if actor.UserID != userID && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	accounts, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("list accounts: %w", err))
	}
	return accounts, nil
}

// GetTransaction returns a decrypted transaction to an owner of either side
// or an admin.
func (s *LedgerServiceImpl) GetTransaction(ctx context.Context, txID uuid.UUID, actor domain.Actor) (*domain.TransactionView, error) {
	txn, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("find transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	if !actor.IsAdmin() {
		allowed := false
		for _, id := range involvedAccounts(txn) {
			acc, err := s.accountRepo.GetByID(ctx, id)
			if err != nil {
				return nil, apperror.ErrStore(fmt.Errorf("find account: %w", err))
			}
			if actor.Owns(acc) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, apperror.ErrForbidden()
		}
	}

	ring := s.newKeyRing()
	defer ring.wipe()
	return s.decryptTransaction(ctx, ring, txn)
}

// ListAccountTransactions pages through an account's transactions, newest
// first, with amounts decrypted.
func (s *LedgerServiceImpl) ListAccountTransactions(ctx context.Context, filter ports.TransactionFilter, actor domain.Actor) ([]domain.TransactionView, int64, error) {
	if filter.Operation != nil && !filter.Operation.Valid() {
		return nil, 0, apperror.ErrBadRequest("unknown operation filter")
	}
	if _, err := s.readableAccount(ctx, filter.AccountID, actor); err != nil {
		return nil, 0, err
	}

	if filter.CreatedFrom != nil && filter.CreatedTo != nil && !filter.CreatedFrom.Before(*filter.CreatedTo) {
		return nil, 0, apperror.ErrBadRequest("from must be before to")
	}
	filter.Normalize()

	txns, total, err := s.txRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.ErrStore(fmt.Errorf("list transactions: %w", err))
	}

	ring := s.newKeyRing()
	defer ring.wipe()

	views := make([]domain.TransactionView, 0, len(txns))
	for i := range txns {
		view, err := s.decryptTransaction(ctx, ring, &txns[i])
		if err != nil {
			return nil, 0, err
		}
		views = append(views, *view)
	}
	return views, total, nil
}

func (s *LedgerServiceImpl) readableAccount(ctx context.Context, accountID uuid.UUID, actor domain.Actor) (*domain.Account, error) {
	acc, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("find account: %w", err))
	}
	if acc == nil {
		return nil, apperror.ErrNotFound("account")
	}
	if !actor.CanRead(acc) {
		return nil, apperror.ErrForbidden()
	}
	return acc, nil
}

// decryptTransaction opens the amount with the key chosen by
// Transaction.AmountKeyAccountID. There is no fallback key.
func (s *LedgerServiceImpl) decryptTransaction(ctx context.Context, ring *keyRing, txn *domain.Transaction) (*domain.TransactionView, error) {
	ownerID, err := ring.ownerOf(ctx, txn.AmountKeyAccountID())
	if err != nil {
		return nil, err
	}
	key, err := ring.forUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	amount, err := envelope.DecryptFloat(txn.Amount, key)
	if err != nil {
		return nil, cryptoError("decrypt amount", err)
	}
	return &domain.TransactionView{Transaction: txn, Amount: amount}, nil
}

// ==================== Helpers ====================

// keyRing caches unwrapped user keys for the lifetime of one request.
type keyRing struct {
	svc    *LedgerServiceImpl
	keys   map[uuid.UUID][]byte
	owners map[uuid.UUID]uuid.UUID
}

func (s *LedgerServiceImpl) newKeyRing() *keyRing {
	return &keyRing{
		svc:    s,
		keys:   make(map[uuid.UUID][]byte),
		owners: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *keyRing) forUser(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	if key, ok := r.keys[userID]; ok {
		return key, nil
	}
	user, err := r.svc.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("find account owner: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("account owner")
	}
	key, err := r.svc.keys.Unwrap(user.WrappedKey)
	if err != nil {
		return nil, err
	}
	r.keys[userID] = key
	return key, nil
}

func (r *keyRing) ownerOf(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	if owner, ok := r.owners[accountID]; ok {
		return owner, nil
	}
	acc, err := r.svc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return uuid.Nil, apperror.ErrStore(fmt.Errorf("find account: %w", err))
	}
	if acc == nil {
		return uuid.Nil, apperror.ErrNotFound("account")
	}
	r.owners[accountID] = acc.UserID
	return acc.UserID, nil
}

func (r *keyRing) wipe() {
	for id, key := range r.keys {
		envelope.Zero(key)
		delete(r.keys, id)
	}
}

func validateApply(req ports.ApplyRequest) error {
	if !req.Operation.Valid() {
		return apperror.ErrBadRequest(fmt.Sprintf("unknown operation %q", req.Operation))
	}
	if !isFinite(req.Amount) || req.Amount <= 0 {
		return apperror.ErrBadRequest("amount must be a finite number > 0")
	}
	if req.Operation.RequiresSource() {
		if req.FromAccountID == nil {
			return apperror.ErrBadRequest("transfer requires from_account_id")
		}
		if *req.FromAccountID == req.ToAccountID {
			return apperror.ErrBadRequest("cannot transfer to the same account")
		}
	} else if req.FromAccountID != nil {
		return apperror.ErrBadRequest(fmt.Sprintf("from_account_id is not allowed for %s", req.Operation))
	}
	return nil
}

// commit refuses to commit a cancelled request and maps commit failures to
// StoreError. The deferred Rollback undoes everything in both cases.
func commit(ctx context.Context, tx pgx.Tx) error {
	if err := ctx.Err(); err != nil {
		return apperror.ErrStore(fmt.Errorf("request cancelled: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.ErrStore(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func involvedAccounts(txn *domain.Transaction) []uuid.UUID {
	ids := []uuid.UUID{txn.ToAccountID}
	if txn.FromAccountID != nil {
		ids = append(ids, *txn.FromAccountID)
	}
	return ids
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isInfrastructure(err error) bool {
	switch apperror.Code(err) {
	case apperror.CodeStore, apperror.CodeEncryption, apperror.CodeInvalidKeyLength, "":
		return true
	}
	return false
}

func outcome(err error) string {
	if err == nil {
		return metricsOutcomeOK
	}
	if code := apperror.Code(err); code != "" {
		return code
	}
	return apperror.CodeStore
}

// newID returns a time-ordered UUIDv7.
func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, string, time.Duration) {}
func (nopMetrics) RecordAccountOpened()                          {}
