package finance

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/audit"
	"github.com/fanvault/finguard/internal/balance"
	"github.com/fanvault/finguard/internal/database"
	"github.com/fanvault/finguard/internal/idempotency"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/ledger"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/pkg/models"
)

type memAuditStore struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (m *memAuditStore) Append(ctx context.Context, records []*audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewSQLiteDB()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	gate := policy.NewGate(zap.NewNop(), ledger.NewValidator(), idempotency.NewRegistry(0),
		balance.NewLockManager(0), nil, 100_000_00)
	sink := audit.NewSink(zap.NewNop(), &memAuditStore{})
	sink.Start()
	t.Cleanup(sink.Stop)

	return NewService(zap.NewNop(), db, gate, sink, nil)
}

func operator(scopes ...string) *identity.Principal {
	return &identity.Principal{
		UserID:          uuid.New(),
		SessionID:       "sess-1",
		Role:            "operator",
		Scopes:          scopes,
		TwoFactorPassed: true,
	}
}

func seedAccounts(t *testing.T, svc *Service, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		_, err := svc.CreateAccount(ctx, id, uuid.New(), "USD")
		require.NoError(t, err)
	}
}

func fund(t *testing.T, svc *Service, accountID string, amount int64) {
	t.Helper()
	err := svc.db.Model(&models.Account{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{"balance": amount, "available": amount}).Error
	require.NoError(t, err)
}

func transferInput(externalID string, amount int64) *TransactionInput {
	return &TransactionInput{
		AccountID:   "acct-a",
		ExternalID:  externalID,
		Description: "subscription settlement",
		Entries: []EntryInput{
			{AccountID: "acct-a", Amount: amount, Currency: "USD", Type: models.EntryTypeDebit},
			{AccountID: "acct-b", Amount: amount, Currency: "USD", Type: models.EntryTypeCredit},
		},
	}
}

func TestCreateTransactionPostsAndMovesBalances(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a", "acct-b")
	fund(t, svc, "acct-a", 500_00)
	ctx := context.Background()

	result, err := svc.CreateTransaction(ctx, operator(policy.ScopeTransactionCreate), transferInput("ext-1", 200_00))
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, models.TransactionStatusPosted, result.Transaction.Status)
	require.NotNil(t, result.Transaction.PostedAt)

	from, err := svc.GetAccount(ctx, "acct-a")
	require.NoError(t, err)
	to, err := svc.GetAccount(ctx, "acct-b")
	require.NoError(t, err)
	assert.Equal(t, int64(300_00), from.Balance)
	assert.Equal(t, int64(200_00), to.Balance)

	loaded, err := svc.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 2)
}

func TestCreateTransactionReplayIsDuplicate(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a", "acct-b")
	ctx := context.Background()
	principal := operator(policy.ScopeTransactionCreate)

	first, err := svc.CreateTransaction(ctx, principal, transferInput("ext-2", 100_00))
	require.NoError(t, err)

	replay, err := svc.CreateTransaction(ctx, principal, transferInput("ext-2", 100_00))
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	require.NotNil(t, replay.TransactionID)
	assert.Equal(t, first.Transaction.ID, *replay.TransactionID)

	// the replay moved no money
	from, err := svc.GetAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(-100_00), from.Balance)
}

func TestCreateTransactionRejectsUnbalanced(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a", "acct-b")
	ctx := context.Background()
	principal := operator(policy.ScopeTransactionCreate)

	in := transferInput("ext-3", 100_00)
	in.Entries[1].Amount = 99_00
	_, err := svc.CreateTransaction(ctx, principal, in)
	var rejection *policy.Error
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, policy.CodeLedgerValidation, rejection.Code)

	// the rejected attempt did not consume the idempotency key
	corrected, err := svc.CreateTransaction(ctx, principal, transferInput("ext-3", 100_00))
	require.NoError(t, err)
	assert.False(t, corrected.Duplicate)
}

func TestCreateTransactionUnknownAccountFreesKey(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a")
	ctx := context.Background()
	principal := operator(policy.ScopeTransactionCreate)

	_, err := svc.CreateTransaction(ctx, principal, transferInput("ext-4", 100_00))
	require.ErrorIs(t, err, ErrNotFound)

	seedAccounts(t, svc, "acct-b")
	retry, err := svc.CreateTransaction(ctx, principal, transferInput("ext-4", 100_00))
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
}

func TestCreateTransactionRequiresScope(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateTransaction(context.Background(), operator(policy.ScopeBalanceRead), transferInput("ext-5", 1_00))
	var rejection *policy.Error
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, policy.CodeInsufficientScope, rejection.Code)
}

func TestCancelTransactionReversesBalances(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a", "acct-b")
	fund(t, svc, "acct-a", 500_00)
	ctx := context.Background()
	principal := operator(policy.ScopeTransactionCreate, policy.ScopeTransactionCancel)

	result, err := svc.CreateTransaction(ctx, principal, transferInput("ext-6", 200_00))
	require.NoError(t, err)

	cancelled, err := svc.CancelTransaction(ctx, principal, result.Transaction.ID, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCancelled, cancelled.Status)

	from, err := svc.GetAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(500_00), from.Balance)

	// cancelling twice is refused
	_, err = svc.CancelTransaction(ctx, principal, result.Transaction.ID, "acct-a")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPayoutLifecycle(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a")
	fund(t, svc, "acct-a", 1_000_00)
	ctx := context.Background()
	maker := operator(policy.ScopePayoutCreate, policy.ScopePayoutExecute)
	checker := operator(policy.ScopePayoutApprove)

	payout, duplicate, err := svc.CreatePayout(ctx, maker, &PayoutInput{
		AccountID: "acct-a", ExternalID: "po-1", Amount: 400_00, Currency: "USD",
	})
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)

	account, err := svc.GetAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(600_00), account.Available)
	assert.Equal(t, int64(400_00), account.Locked)

	// executing before approval is deferred
	_, err = svc.ExecutePayout(ctx, maker, payout.ID, "")
	var rejection *policy.Error
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, policy.CodePendingMakerChecker, rejection.Code)
	assert.Equal(t, 202, rejection.Status)

	// the requester cannot be their own checker
	_, err = svc.ApprovePayout(ctx, maker, payout.ID, "")
	assert.ErrorIs(t, err, ErrSelfApproval)

	approved, err := svc.ApprovePayout(ctx, checker, payout.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, checker.UserID, *approved.ApprovedBy)

	executed, err := svc.ExecutePayout(ctx, maker, payout.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusExecuted, executed.Status)

	account, err = svc.GetAccount(ctx, "acct-a")
	require.NoError(t, err)
	assert.Equal(t, int64(600_00), account.Balance)
	assert.Equal(t, int64(0), account.Locked)

	// executing an executed payout is refused
	_, err = svc.ExecutePayout(ctx, maker, payout.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreatePayoutInsufficientFunds(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a")
	fund(t, svc, "acct-a", 50_00)
	ctx := context.Background()
	maker := operator(policy.ScopePayoutCreate)

	_, _, err := svc.CreatePayout(ctx, maker, &PayoutInput{
		AccountID: "acct-a", ExternalID: "po-2", Amount: 100_00, Currency: "USD",
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// the failed attempt freed its idempotency key
	fund(t, svc, "acct-a", 200_00)
	_, duplicate, err := svc.CreatePayout(ctx, maker, &PayoutInput{
		AccountID: "acct-a", ExternalID: "po-2", Amount: 100_00, Currency: "USD",
	})
	require.NoError(t, err)
	assert.False(t, duplicate)
}

func TestApprovePayoutRequiresSecondFactor(t *testing.T) {
	svc := newTestService(t)
	seedAccounts(t, svc, "acct-a")
	fund(t, svc, "acct-a", 500_00)
	ctx := context.Background()
	maker := operator(policy.ScopePayoutCreate)
	checker := operator(policy.ScopePayoutApprove)
	checker.TwoFactorPassed = false

	payout, _, err := svc.CreatePayout(ctx, maker, &PayoutInput{
		AccountID: "acct-a", ExternalID: "po-3", Amount: 100_00, Currency: "USD",
	})
	require.NoError(t, err)

	_, err = svc.ApprovePayout(ctx, checker, payout.ID, "")
	var rejection *policy.Error
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, policy.CodeRequire2FA, rejection.Code)
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFromError(ErrNotFound))
	assert.Equal(t, http.StatusConflict, StatusFromError(ErrInvalidState))
	assert.Equal(t, http.StatusConflict, StatusFromError(ErrSelfApproval))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFromError(ErrInsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, StatusFromError(context.DeadlineExceeded))
}
