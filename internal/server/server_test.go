package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/audit"
	"github.com/fanvault/finguard/internal/balance"
	"github.com/fanvault/finguard/internal/database"
	"github.com/fanvault/finguard/internal/finance"
	"github.com/fanvault/finguard/internal/idempotency"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/ledger"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
	"github.com/fanvault/finguard/pkg/models"
)

type nullAuditStore struct{}

func (nullAuditStore) Append(ctx context.Context, records []*audit.Record) error { return nil }

type fixture struct {
	server  *Server
	finance *finance.Service
	tokens  map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.NewSQLiteDB()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	gate := policy.NewGate(logger, ledger.NewValidator(), idempotency.NewRegistry(0),
		balance.NewLockManager(0), nil, 100_000_00)
	sink := audit.NewSink(logger, &nullAuditStore{})
	sink.Start()
	t.Cleanup(sink.Stop)
	svc := finance.NewService(logger, db, gate, sink, nil)

	rules := security.NewRuleSet(security.DefaultRules()...)
	responder := security.NewResponder(logger, nil, 0, 0)
	recorder := security.NewRecorder(logger, rules, responder, security.NewThreatIntel(logger, ""), 0)

	operator := &identity.Principal{
		UserID:    uuid.New(),
		SessionID: "sess-op",
		Role:      "operator",
		Scopes: []string{
			policy.ScopeTransactionCreate, policy.ScopeTransactionRead, policy.ScopeTransactionCancel,
			policy.ScopePayoutCreate, policy.ScopePayoutExecute,
			policy.ScopeBalanceRead, policy.ScopeBalanceLock, policy.ScopeBalanceUnlock,
		},
		TwoFactorPassed: true,
	}
	admin := &identity.Principal{
		UserID:          uuid.New(),
		SessionID:       "sess-admin",
		Role:            "admin",
		Scopes:          []string{policy.ScopeReportAdmin, policy.ScopeLedgerAdmin},
		TwoFactorPassed: true,
	}
	viewer := &identity.Principal{
		UserID:    uuid.New(),
		SessionID: "sess-view",
		Role:      "viewer",
		Scopes:    []string{policy.ScopeBalanceRead},
	}
	sessions := &identity.StaticProvider{Principals: map[string]*identity.Principal{
		"token-operator": operator,
		"token-admin":    admin,
		"token-viewer":   viewer,
	}}

	srv := New(":0", Deps{
		Logger:    logger,
		Finance:   svc,
		Gate:      gate,
		Sessions:  sessions,
		Recorder:  recorder,
		Responder: responder,
		Rules:     rules,
	})

	// seed the accounts most tests move money between
	ctx := context.Background()
	for _, id := range []string{"acct-a", "acct-b"} {
		_, err := svc.CreateAccount(ctx, id, uuid.New(), "USD")
		require.NoError(t, err)
	}

	return &fixture{
		server:  srv,
		finance: svc,
		tokens: map[string]string{
			"operator": "token-operator",
			"admin":    "token-admin",
			"viewer":   "token-viewer",
		},
	}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func transferBody(externalID string, amount int64) map[string]interface{} {
	return map[string]interface{}{
		"accountId":   "acct-a",
		"externalId":  externalID,
		"description": "subscription settlement",
		"entries": []map[string]interface{}{
			{"accountId": "acct-a", "amount": amount, "currency": "USD", "type": models.EntryTypeDebit},
			{"accountId": "acct-b", "amount": amount, "currency": "USD", "type": models.EntryTypeCredit},
		},
	}
}

func TestHealthAndMetricsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestMissingTokenRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/balances/acct-a", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rec)["error"])
}

func TestCreateTransactionAndReplay(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/transactions", f.tokens["operator"], transferBody("ext-1", 150_00))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, models.TransactionStatusPosted, created["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/transactions", f.tokens["operator"], transferBody("ext-1", 150_00))
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode(t, rec)
	assert.Equal(t, "duplicate", replay["status"])
	assert.Equal(t, created["id"], replay["transactionId"])
}

func TestUnbalancedTransactionRejected(t *testing.T) {
	f := newFixture(t)
	body := transferBody("ext-2", 100_00)
	body["entries"].([]map[string]interface{})[1]["amount"] = int64(90_00)

	rec := f.do(t, http.MethodPost, "/api/v1/transactions", f.tokens["operator"], body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, policy.CodeLedgerValidation, decode(t, rec)["error"])
}

func TestScopeDenialRecordsSecurityEvent(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/transactions", f.tokens["viewer"], transferBody("ext-3", 1_00))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, policy.CodeInsufficientScope, decode(t, rec)["error"])

	// httptest requests originate from 192.0.2.1
	events := f.server.deps.Recorder.EventsForSource("192.0.2.1")
	require.NotEmpty(t, events)
	assert.Equal(t, security.EventPermissionDenied, events[len(events)-1].Type)
}

func TestRepeatedAuthFailuresThrottleIP(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodGet, "/api/v1/balances/acct-a", "bogus-token", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/balances/acct-a", f.tokens["operator"], nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, security.CodeIPThrottled, decode(t, rec)["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestBlockedIPShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.server.deps.Responder.BlockIP("192.0.2.1")

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is outside the gated surface")

	rec = f.do(t, http.MethodGet, "/api/v1/balances/acct-a", f.tokens["operator"], nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, security.CodeIPBlocked, decode(t, rec)["error"])
}

func TestBalanceLockEndpoints(t *testing.T) {
	f := newFixture(t)
	op := f.tokens["operator"]

	rec := f.do(t, http.MethodPost, "/api/v1/balances/acct-a/lock", op,
		map[string]interface{}{"amount": 50_00, "reason": "chargeback review"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lockID, _ := decode(t, rec)["lock_id"].(string)
	require.NotEmpty(t, lockID)

	rec = f.do(t, http.MethodPost, "/api/v1/balances/acct-a/lock", op,
		map[string]interface{}{"amount": 10_00, "reason": "second attempt"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, policy.CodeBalanceLocked, decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/v1/balances/acct-a/unlock", op,
		map[string]interface{}{"lockId": "stale-id"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/balances/acct-a/unlock", op,
		map[string]interface{}{"lockId": lockID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPayoutExecuteDeferredUntilApproved(t *testing.T) {
	f := newFixture(t)
	op := f.tokens["operator"]
	rec := f.do(t, http.MethodPost, "/api/v1/transactions", op, transferBody("fund-1", 500_00))
	require.Equal(t, http.StatusCreated, rec.Code)

	// acct-b now holds 500_00 available
	rec = f.do(t, http.MethodPost, "/api/v1/payouts", op, map[string]interface{}{
		"accountId": "acct-b", "externalId": "po-1", "amount": 200_00, "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payoutID, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, payoutID)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/payouts/%s/execute", payoutID), op, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, policy.CodePendingMakerChecker, decode(t, rec)["error"])
}

func TestAdminRuleManagement(t *testing.T) {
	f := newFixture(t)
	admin := f.tokens["admin"]

	rec := f.do(t, http.MethodGet, "/api/v1/admin/security/rules", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/admin/security/rules", admin, map[string]interface{}{
		"id": "custom-probe", "eventType": "suspicious_request",
		"threshold": 3, "windowSeconds": 120, "severity": "medium",
		"response": "throttle_ip", "enabled": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/admin/security/rules", admin, map[string]interface{}{
		"id": "bad-rule", "eventType": "auth_failure", "threshold": 3, "windowSeconds": -5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/security/rules/custom-probe", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/admin/security/rules/custom-probe", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// non-admin callers are refused
	rec = f.do(t, http.MethodGet, "/api/v1/admin/security/rules", f.tokens["operator"], nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminUnblock(t *testing.T) {
	f := newFixture(t)
	admin := f.tokens["admin"]
	f.server.deps.Responder.BlockIP("203.0.113.9")

	rec := f.do(t, http.MethodPost, "/api/v1/admin/security/unblock", admin,
		map[string]interface{}{"ip": "203.0.113.9"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/security/unblock", admin,
		map[string]interface{}{"ip": "203.0.113.9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEventsRequireIP(t *testing.T) {
	f := newFixture(t)
	admin := f.tokens["admin"]

	rec := f.do(t, http.MethodGet, "/api/v1/admin/security/events", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/security/events?ip=192.0.2.1", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
