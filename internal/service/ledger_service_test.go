package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/internal/core/ports/mocks"
	"private-ledger/pkg/apperror"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc         *LedgerServiceImpl
	userRepo    *mocks.MockUserRepository
	accountRepo *mocks.MockAccountRepository
	txRepo      *mocks.MockTransactionRepository
	idempRepo   *mocks.MockIdempotencyRepository
	transactor  *mocks.MockDBTransactor
	idempCache  *mocks.MockIdempotencyCache
	metrics     *mocks.MockLedgerMetrics
	keys        *KeyService
	ctrl        *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		userRepo:    mocks.NewMockUserRepository(ctrl),
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		idempRepo:   mocks.NewMockIdempotencyRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		idempCache:  mocks.NewMockIdempotencyCache(ctrl),
		metrics:     mocks.NewMockLedgerMetrics(ctrl),
		keys:        newTestKeyService(t),
		ctrl:        ctrl,
	}
	d.metrics.EXPECT().RecordOperation(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.metrics.EXPECT().RecordAccountOpened().AnyTimes()
	d.svc = NewLedgerService(
		d.userRepo, d.accountRepo, d.txRepo, d.idempRepo, d.keys,
		d.transactor, d.idempCache, d.metrics, newTestLogger(),
	)
	return d
}

// recordingTx implements pgx.Tx for testing
type recordingTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (m *recordingTx) Rollback(_ context.Context) error {
	if m.committed {
		return pgx.ErrTxClosed
	}
	m.rolledBack = true
	return nil
}

func (m *recordingTx) Commit(_ context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

// newUser registers a user in the mock repo and returns its plaintext key.
func (d *ledgerTestDeps) newUser(t *testing.T) (*domain.User, []byte) {
	t.Helper()
	key, err := d.keys.GenerateUserKey()
	require.NoError(t, err)
	wrapped, err := d.keys.Wrap(key)
	require.NoError(t, err)
	u := &domain.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Active: true, WrappedKey: wrapped}
	d.userRepo.EXPECT().GetByID(gomock.Any(), u.ID).Return(u, nil).AnyTimes()
	return u, key
}

func newAccount(t *testing.T, owner *domain.User, key []byte, balance float64) *domain.Account {
	t.Helper()
	f, err := envelope.EncryptFloat(balance, key)
	require.NoError(t, err)
	return &domain.Account{ID: uuid.New(), UserID: owner.ID, Balance: f}
}

func (d *ledgerTestDeps) expectBegin() *recordingTx {
	tx := &recordingTx{}
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	return tx
}

func (d *ledgerTestDeps) expectLock(tx pgx.Tx, accounts ...*domain.Account) {
	for _, acc := range accounts {
		d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, acc.ID).Return(acc, nil)
	}
}

// expectBalanceWrite asserts the balance written for acc decrypts to want.
func (d *ledgerTestDeps) expectBalanceWrite(t *testing.T, tx pgx.Tx, acc *domain.Account, key []byte, want float64) {
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, acc.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, _ uuid.UUID, f envelope.Field[float64]) error {
			got, err := envelope.DecryptFloat(f, key)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			return nil
		},
	)
}

func (d *ledgerTestDeps) expectRecord(tx pgx.Tx) *domain.Transaction {
	rec := &domain.Transaction{}
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			*rec = *txn
			return nil
		},
	)
	return rec
}

// ==================== Apply Tests ====================

func TestLedgerService_Apply_WithdrawalSuccess(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 1000)

	tx := d.expectBegin()
	d.expectLock(tx, acc)
	d.expectBalanceWrite(t, tx, acc, key, 750)
	rec := d.expectRecord(tx)

	view, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation:   domain.OperationWithdrawal,
		Amount:      250,
		ToAccountID: acc.ID,
		Actor:       domain.Actor{UserID: user.ID},
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, 250.0, view.Amount)
	assert.Equal(t, domain.OperationWithdrawal, rec.Operation)
	assert.Nil(t, rec.FromAccountID)
	assert.Equal(t, acc.ID, rec.ToAccountID)

	amount, err := envelope.DecryptFloat(rec.Amount, key)
	require.NoError(t, err)
	assert.Equal(t, 250.0, amount)
}

func TestLedgerService_Apply_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 750)

	tx := d.expectBegin()
	d.expectLock(tx, acc)

	_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation:   domain.OperationWithdrawal,
		Amount:      1000,
		ToAccountID: acc.ID,
		Actor:       domain.Actor{UserID: user.ID},
	})
	assertAppError(t, err, apperror.CodeInsufficientFunds)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestLedgerService_Apply_Authorization(t *testing.T) {
	tests := []struct {
		name      string
		operation domain.OperationKind
		ownsTo    bool
		admin     bool
		wantCode  string
	}{
		{"withdrawal by stranger", domain.OperationWithdrawal, false, false, apperror.CodeForbidden},
		{"withdrawal by admin who does not own", domain.OperationWithdrawal, false, true, apperror.CodeForbidden},
		{"fee without admin", domain.OperationFee, true, false, apperror.CodeForbidden},
		{"interest without admin", domain.OperationInterest, true, false, apperror.CodeForbidden},
		{"fee by admin", domain.OperationFee, false, true, ""},
		{"interest by admin", domain.OperationInterest, false, true, ""},
		{"deposit by stranger", domain.OperationDeposit, false, false, ""},
		{"payment by stranger", domain.OperationPayment, false, false, ""},
		{"withdrawal by owner", domain.OperationWithdrawal, true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupLedgerService(t)
			defer d.ctrl.Finish()

			owner, key := d.newUser(t)
			acc := newAccount(t, owner, key, 100)

			actor := domain.Actor{UserID: uuid.New()}
			if tt.ownsTo {
				actor.UserID = owner.ID
			}
			if tt.admin {
				actor.Scopes = []string{domain.ScopeAdmin}
			}

			// Admin checks run before any store access.
			if !tt.operation.RequiresAdmin() || tt.admin {
				tx := d.expectBegin()
				d.expectLock(tx, acc)
				if tt.wantCode == "" {
					want := 110.0
					if tt.operation.DebitsTarget() {
						want = 90.0
					}
					d.expectBalanceWrite(t, tx, acc, key, want)
					d.expectRecord(tx)
				}
			}

			_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
				Operation:   tt.operation,
				Amount:      10,
				ToAccountID: acc.ID,
				Actor:       actor,
			})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			assertAppError(t, err, tt.wantCode)
		})
	}
}

func TestLedgerService_Apply_TransferSuccess(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	alice, aliceKey := d.newUser(t)
	bob, bobKey := d.newUser(t)
	from := newAccount(t, alice, aliceKey, 750)
	to := newAccount(t, bob, bobKey, 0)

	tx := d.expectBegin()
	d.expectLock(tx, from, to)
	d.expectBalanceWrite(t, tx, from, aliceKey, 650)
	d.expectBalanceWrite(t, tx, to, bobKey, 100)
	rec := d.expectRecord(tx)

	view, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation:     domain.OperationTransfer,
		Amount:        100,
		ToAccountID:   to.ID,
		FromAccountID: &from.ID,
		Actor:         domain.Actor{UserID: alice.ID},
	})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, 100.0, view.Amount)
	require.NotNil(t, rec.FromAccountID)
	assert.Equal(t, from.ID, *rec.FromAccountID)

	// The amount is sealed under the debited account's owner key.
	amount, err := envelope.DecryptFloat(rec.Amount, aliceKey)
	require.NoError(t, err)
	assert.Equal(t, 100.0, amount)
	_, err = envelope.DecryptFloat(rec.Amount, bobKey)
	assert.ErrorIs(t, err, envelope.ErrAuthentication)
}

func TestLedgerService_Apply_TransferValidation(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	other := uuid.New()
	actor := domain.Actor{UserID: uuid.New()}

	_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationTransfer, Amount: 1, ToAccountID: id, Actor: actor,
	})
	assertAppError(t, err, apperror.CodeBadRequest)

	_, err = d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationTransfer, Amount: 1, ToAccountID: id, FromAccountID: &id, Actor: actor,
	})
	assertAppError(t, err, apperror.CodeBadRequest)

	_, err = d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationDeposit, Amount: 1, ToAccountID: id, FromAccountID: &other, Actor: actor,
	})
	assertAppError(t, err, apperror.CodeBadRequest)
}

func TestLedgerService_Apply_TransferNotOwnerOfSource(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	alice, aliceKey := d.newUser(t)
	bob, bobKey := d.newUser(t)
	from := newAccount(t, alice, aliceKey, 750)
	to := newAccount(t, bob, bobKey, 0)

	tx := d.expectBegin()
	d.expectLock(tx, from, to)

	_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation:     domain.OperationTransfer,
		Amount:        100,
		ToAccountID:   to.ID,
		FromAccountID: &from.ID,
		Actor:         domain.Actor{UserID: bob.ID},
	})
	assertAppError(t, err, apperror.CodeForbidden)
	assert.False(t, tx.committed)
}

func TestLedgerService_Apply_InvalidInput(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	for _, amount := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
			Operation: domain.OperationDeposit, Amount: amount, ToAccountID: uuid.New(),
		})
		assertAppError(t, err, apperror.CodeBadRequest)
	}

	_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: "refund", Amount: 1, ToAccountID: uuid.New(),
	})
	assertAppError(t, err, apperror.CodeBadRequest)
}

func TestLedgerService_Apply_AccountNotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	tx := d.expectBegin()
	id := uuid.New()
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, id).Return(nil, nil)

	_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationDeposit, Amount: 1, ToAccountID: id,
	})
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestLedgerService_Apply_StoreErrors(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		d := setupLedgerService(t)
		defer d.ctrl.Finish()
		d.transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("pool exhausted"))

		_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
			Operation: domain.OperationDeposit, Amount: 1, ToAccountID: uuid.New(),
		})
		assertAppError(t, err, apperror.CodeStore)
	})

	t.Run("update balance", func(t *testing.T) {
		d := setupLedgerService(t)
		defer d.ctrl.Finish()
		user, key := d.newUser(t)
		acc := newAccount(t, user, key, 10)

		tx := d.expectBegin()
		d.expectLock(tx, acc)
		d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, acc.ID, gomock.Any()).Return(errors.New("disk full"))

		_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
			Operation: domain.OperationDeposit, Amount: 1, ToAccountID: acc.ID,
		})
		assertAppError(t, err, apperror.CodeStore)
		assert.True(t, tx.rolledBack)
	})

	t.Run("commit", func(t *testing.T) {
		d := setupLedgerService(t)
		defer d.ctrl.Finish()
		user, key := d.newUser(t)
		acc := newAccount(t, user, key, 10)

		tx := &recordingTx{commitErr: errors.New("serialization failure")}
		d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		d.expectLock(tx, acc)
		d.expectBalanceWrite(t, tx, acc, key, 11)
		d.expectRecord(tx)

		_, err := d.svc.Apply(context.Background(), ports.ApplyRequest{
			Operation: domain.OperationDeposit, Amount: 1, ToAccountID: acc.ID,
		})
		assertAppError(t, err, apperror.CodeStore)
		assert.True(t, tx.rolledBack)
	})
}

func TestLedgerService_Apply_CancelledBeforeCommit(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	ctx, cancel := context.WithCancel(context.Background())

	tx := d.expectBegin()
	d.expectLock(tx, acc)
	d.expectBalanceWrite(t, tx, acc, key, 11)
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(context.Context, pgx.Tx, *domain.Transaction) error {
			cancel()
			return nil
		},
	)

	_, err := d.svc.Apply(ctx, ports.ApplyRequest{
		Operation: domain.OperationDeposit, Amount: 1, ToAccountID: acc.ID,
	})
	assertAppError(t, err, apperror.CodeStore)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestLedgerService_Apply_BalanceUnderWrongKey(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, _ := d.newUser(t)
	otherKey, err := envelope.GenerateKey()
	require.NoError(t, err)
	acc := newAccount(t, user, otherKey, 10)

	tx := d.expectBegin()
	d.expectLock(tx, acc)

	_, err = d.svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationDeposit, Amount: 1, ToAccountID: acc.ID,
	})
	assertAppError(t, err, apperror.CodeEncryption)
}

func TestLedgerService_Apply_MetricsOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	metrics := mocks.NewMockLedgerMetrics(ctrl)
	svc := NewLedgerService(nil, nil, nil, nil, newTestKeyService(t), nil, nil, metrics, newTestLogger())

	metrics.EXPECT().RecordOperation("fee", apperror.CodeForbidden, gomock.Any())

	_, err := svc.Apply(context.Background(), ports.ApplyRequest{
		Operation: domain.OperationFee, Amount: 1, ToAccountID: uuid.New(),
	})
	assertAppError(t, err, apperror.CodeForbidden)
}

// ==================== Idempotency Tests ====================

func depositRequest(user *domain.User, acc *domain.Account, amount float64, key string) ports.ApplyRequest {
	return ports.ApplyRequest{
		Operation:      domain.OperationDeposit,
		Amount:         amount,
		ToAccountID:    acc.ID,
		Actor:          domain.Actor{UserID: user.ID},
		IdempotencyKey: key,
	}
}

func recordFor(req ports.ApplyRequest, txID uuid.UUID) *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		ActorID:       req.Actor.UserID,
		Key:           req.IdempotencyKey,
		TransactionID: txID,
		RequestHash:   domain.RequestFingerprint(req.Operation, req.Amount, req.ToAccountID, req.FromAccountID),
	}
}

func encodeRecord(t *testing.T, rec *domain.IdempotencyRecord) []byte {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return data
}

func TestLedgerService_Apply_IdempotentRedisHit(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	amount, err := envelope.EncryptFloat(5, key)
	require.NoError(t, err)
	prev := &domain.Transaction{ID: uuid.New(), Operation: domain.OperationDeposit, ToAccountID: acc.ID, Amount: amount}
	req := depositRequest(user, acc, 5, "req-1")

	idempKey := domain.BuildIdempotencyKey(user.ID, "req-1")
	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(encodeRecord(t, recordFor(req, prev.ID)), nil)
	d.txRepo.EXPECT().GetByID(gomock.Any(), prev.ID).Return(prev, nil)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil)
	// No durable lookup and no Begin: nothing is re-applied.

	view, err := d.svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, prev.ID, view.ID)
	assert.Equal(t, 5.0, view.Amount)
}

func TestLedgerService_Apply_KeyReusedForDifferentRequest(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	first := depositRequest(user, acc, 5, "req-1")
	second := depositRequest(user, acc, 6, "req-1")
	idempKey := domain.BuildIdempotencyKey(user.ID, "req-1")

	// Redis copy.
	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(encodeRecord(t, recordFor(first, uuid.New())), nil)
	_, err := d.svc.Apply(context.Background(), second)
	assertAppError(t, err, apperror.CodeBadRequest)

	// Durable copy.
	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-1").Return(recordFor(first, uuid.New()), nil)
	_, err = d.svc.Apply(context.Background(), second)
	assertAppError(t, err, apperror.CodeBadRequest)
}

func TestLedgerService_Apply_IdempotentDurableHit(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	amount, err := envelope.EncryptFloat(5, key)
	require.NoError(t, err)
	prev := &domain.Transaction{ID: uuid.New(), Operation: domain.OperationDeposit, ToAccountID: acc.ID, Amount: amount}
	req := depositRequest(user, acc, 5, "req-2")
	rec := recordFor(req, prev.ID)
	idempKey := domain.BuildIdempotencyKey(user.ID, "req-2")

	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-2").Return(rec, nil)
	d.txRepo.EXPECT().GetByID(gomock.Any(), prev.ID).Return(prev, nil)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil)
	// The Redis copy is refreshed from the durable one.
	d.idempCache.EXPECT().Set(gomock.Any(), idempKey, encodeRecord(t, rec), idempotencyTTL).Return(nil)

	view, err := d.svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, prev.ID, view.ID)
}

func TestLedgerService_Apply_IdempotentMissRecordsKey(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	req := depositRequest(user, acc, 5, "req-3")
	idempKey := domain.BuildIdempotencyKey(user.ID, "req-3")

	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-3").Return(nil, nil)
	tx := d.expectBegin()
	d.expectLock(tx, acc)
	d.expectBalanceWrite(t, tx, acc, key, 15)
	txn := d.expectRecord(tx)

	var stored domain.IdempotencyRecord
	d.idempRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, rec *domain.IdempotencyRecord) error {
			assert.False(t, tx.committed, "key must be recorded before commit")
			stored = *rec
			return nil
		},
	)
	d.idempCache.EXPECT().Set(gomock.Any(), idempKey, gomock.Any(), idempotencyTTL).DoAndReturn(
		func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			var cached domain.IdempotencyRecord
			require.NoError(t, json.Unmarshal(value, &cached))
			assert.Equal(t, txn.ID, cached.TransactionID)
			assert.Equal(t, stored.RequestHash, cached.RequestHash)
			return nil
		},
	)

	_, err := d.svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, txn.ID, stored.TransactionID)
	assert.Equal(t, user.ID, stored.ActorID)
	assert.Equal(t, "req-3", stored.Key)
	assert.True(t, stored.Matches(recordFor(req, txn.ID).RequestHash))
}

func TestLedgerService_Apply_IdempotencyCacheDown(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	idempKey := domain.BuildIdempotencyKey(user.ID, "req-4")

	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(nil, errors.New("connection refused"))
	d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-4").Return(nil, nil)
	tx := d.expectBegin()
	d.expectLock(tx, acc)
	d.expectBalanceWrite(t, tx, acc, key, 15)
	d.expectRecord(tx)
	d.idempRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(gomock.Any(), idempKey, gomock.Any(), idempotencyTTL).Return(errors.New("connection refused"))

	_, err := d.svc.Apply(context.Background(), depositRequest(user, acc, 5, "req-4"))
	require.NoError(t, err)
	assert.True(t, tx.committed)
}

func TestLedgerService_Apply_LostKeyRaceReplaysWinner(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)
	amount, err := envelope.EncryptFloat(5, key)
	require.NoError(t, err)
	winner := &domain.Transaction{ID: uuid.New(), Operation: domain.OperationDeposit, ToAccountID: acc.ID, Amount: amount}
	req := depositRequest(user, acc, 5, "req-5")
	idempKey := domain.BuildIdempotencyKey(user.ID, "req-5")

	d.idempCache.EXPECT().Get(gomock.Any(), idempKey).Return(nil, nil)
	gomock.InOrder(
		d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-5").Return(nil, nil),
		d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-5").Return(recordFor(req, winner.ID), nil),
	)
	tx := d.expectBegin()
	d.expectLock(tx, acc)
	d.expectBalanceWrite(t, tx, acc, key, 15)
	d.expectRecord(tx)
	d.idempRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(domain.ErrDuplicateIdempotencyKey)
	d.txRepo.EXPECT().GetByID(gomock.Any(), winner.ID).Return(winner, nil)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil)

	view, err := d.svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, view.ID)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestLedgerService_Apply_IdempotencyStoreError(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 10)

	d.idempCache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)
	d.idempRepo.EXPECT().Get(gomock.Any(), user.ID, "req-6").Return(nil, errors.New("connection reset"))

	_, err := d.svc.Apply(context.Background(), depositRequest(user, acc, 5, "req-6"))
	assertAppError(t, err, apperror.CodeStore)
}

// ==================== CreateAccount Tests ====================

func TestLedgerService_CreateAccount_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	tx := d.expectBegin()

	var created *domain.Account
	d.accountRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, acc *domain.Account) error {
			created = acc
			bal, err := envelope.DecryptFloat(acc.Balance, key)
			require.NoError(t, err)
			assert.Zero(t, bal)
			return nil
		},
	)
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, id uuid.UUID, f envelope.Field[float64]) error {
			assert.Equal(t, created.ID, id)
			bal, err := envelope.DecryptFloat(f, key)
			require.NoError(t, err)
			assert.Equal(t, 1000.0, bal)
			return nil
		},
	)
	rec := d.expectRecord(tx)

	acc, err := d.svc.CreateAccount(context.Background(), user.ID, 1000, domain.Actor{UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, user.ID, acc.UserID)

	bal, err := envelope.DecryptFloat(acc.Balance, key)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal)

	assert.Equal(t, domain.OperationDeposit, rec.Operation)
	assert.Nil(t, rec.FromAccountID)
	assert.Equal(t, acc.ID, rec.ToAccountID)
	amount, err := envelope.DecryptFloat(rec.Amount, key)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, amount)
}

func TestLedgerService_CreateAccount_Rejections(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	owner := uuid.New()

	_, err := d.svc.CreateAccount(context.Background(), owner, -1, domain.Actor{UserID: owner})
	assertAppError(t, err, apperror.CodeBadRequest)

	_, err = d.svc.CreateAccount(context.Background(), owner, math.NaN(), domain.Actor{UserID: owner})
	assertAppError(t, err, apperror.CodeBadRequest)

	_, err = d.svc.CreateAccount(context.Background(), owner, 1, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)

	d.userRepo.EXPECT().GetByID(gomock.Any(), owner).Return(nil, nil)
	_, err = d.svc.CreateAccount(context.Background(), owner, 1, domain.Actor{UserID: uuid.New(), Scopes: []string{domain.ScopeAdmin}})
	assertAppError(t, err, apperror.CodeNotFound)
}

// ==================== Read Tests ====================

func TestLedgerService_GetBalance(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 42.5)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil).AnyTimes()

	bal, err := d.svc.GetBalance(context.Background(), acc.ID, domain.Actor{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, 42.5, bal)

	bal, err = d.svc.GetBalance(context.Background(), acc.ID, domain.Actor{UserID: uuid.New(), Scopes: []string{domain.ScopeAdmin}})
	require.NoError(t, err)
	assert.Equal(t, 42.5, bal)

	_, err = d.svc.GetBalance(context.Background(), acc.ID, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)

	missing := uuid.New()
	d.accountRepo.EXPECT().GetByID(gomock.Any(), missing).Return(nil, nil)
	_, err = d.svc.GetBalance(context.Background(), missing, domain.Actor{UserID: user.ID})
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestLedgerService_GetTransaction(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	alice, aliceKey := d.newUser(t)
	bob, bobKey := d.newUser(t)
	from := newAccount(t, alice, aliceKey, 0)
	to := newAccount(t, bob, bobKey, 0)
	amount, err := envelope.EncryptFloat(100, aliceKey)
	require.NoError(t, err)
	txn := &domain.Transaction{ID: uuid.New(), Operation: domain.OperationTransfer, FromAccountID: &from.ID, ToAccountID: to.ID, Amount: amount}

	d.txRepo.EXPECT().GetByID(gomock.Any(), txn.ID).Return(txn, nil).AnyTimes()
	d.accountRepo.EXPECT().GetByID(gomock.Any(), from.ID).Return(from, nil).AnyTimes()
	d.accountRepo.EXPECT().GetByID(gomock.Any(), to.ID).Return(to, nil).AnyTimes()

	// Both sides can read it, with the same amount.
	for _, reader := range []uuid.UUID{alice.ID, bob.ID} {
		view, err := d.svc.GetTransaction(context.Background(), txn.ID, domain.Actor{UserID: reader})
		require.NoError(t, err)
		assert.Equal(t, 100.0, view.Amount)
	}

	_, err = d.svc.GetTransaction(context.Background(), txn.ID, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)

	missing := uuid.New()
	d.txRepo.EXPECT().GetByID(gomock.Any(), missing).Return(nil, nil)
	_, err = d.svc.GetTransaction(context.Background(), missing, domain.Actor{UserID: alice.ID})
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestLedgerService_ListAccountTransactions_Paging(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 0)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil).AnyTimes()

	amount, err := envelope.EncryptFloat(7, key)
	require.NoError(t, err)
	rows := []domain.Transaction{{ID: uuid.New(), Operation: domain.OperationDeposit, ToAccountID: acc.ID, Amount: amount}}

	d.txRepo.EXPECT().List(gomock.Any(), ports.TransactionFilter{AccountID: acc.ID, Limit: ports.DefaultPageSize}).Return(rows, int64(1), nil)
	views, total, err := d.svc.ListAccountTransactions(context.Background(), ports.TransactionFilter{AccountID: acc.ID}, domain.Actor{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, views, 1)
	assert.Equal(t, 7.0, views[0].Amount)

	d.txRepo.EXPECT().List(gomock.Any(), ports.TransactionFilter{AccountID: acc.ID, Limit: ports.MaxPageSize}).Return(nil, int64(0), nil)
	_, _, err = d.svc.ListAccountTransactions(context.Background(), ports.TransactionFilter{AccountID: acc.ID, Limit: 5000, Offset: -3}, domain.Actor{UserID: user.ID})
	require.NoError(t, err)

	_, _, err = d.svc.ListAccountTransactions(context.Background(), ports.TransactionFilter{AccountID: acc.ID}, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)

	bad := domain.OperationKind("refund")
	_, _, err = d.svc.ListAccountTransactions(context.Background(), ports.TransactionFilter{AccountID: acc.ID, Operation: &bad}, domain.Actor{UserID: user.ID})
	assertAppError(t, err, apperror.CodeBadRequest)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = d.svc.ListAccountTransactions(context.Background(), ports.TransactionFilter{AccountID: acc.ID, CreatedFrom: &from, CreatedTo: &to}, domain.Actor{UserID: user.ID})
	assertAppError(t, err, apperror.CodeBadRequest)
}

func TestLedgerService_GetAccount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	user, key := d.newUser(t)
	acc := newAccount(t, user, key, 3)
	d.accountRepo.EXPECT().GetByID(gomock.Any(), acc.ID).Return(acc, nil).Times(3)

	got, err := d.svc.GetAccount(context.Background(), acc.ID, domain.Actor{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = d.svc.GetAccount(context.Background(), acc.ID, domain.Actor{UserID: uuid.New(), Scopes: []string{domain.ScopeAdmin}})
	require.NoError(t, err)

	_, err = d.svc.GetAccount(context.Background(), acc.ID, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)

	missing := uuid.New()
	d.accountRepo.EXPECT().GetByID(gomock.Any(), missing).Return(nil, nil)
	_, err = d.svc.GetAccount(context.Background(), missing, domain.Actor{UserID: user.ID})
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestLedgerService_GetAccountsByUser(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	owner := uuid.New()
	d.accountRepo.EXPECT().GetByUserID(gomock.Any(), owner).Return([]domain.Account{{ID: uuid.New(), UserID: owner}}, nil)

	accounts, err := d.svc.GetAccountsByUser(context.Background(), owner, domain.Actor{UserID: owner})
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	_, err = d.svc.GetAccountsByUser(context.Background(), owner, domain.Actor{UserID: uuid.New()})
	assertAppError(t, err, apperror.CodeForbidden)
}

func TestLedgerService_TransactionsAreImmutable(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	admin := domain.Actor{UserID: uuid.New(), Scopes: []string{domain.ScopeAdmin}}
	assertAppError(t, d.svc.AmendTransaction(context.Background(), uuid.New(), admin), apperror.CodeImmutable)
	assertAppError(t, d.svc.DeleteTransaction(context.Background(), uuid.New(), admin), apperror.CodeImmutable)
}

// ==================== Helper ====================

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
