// Package policy composes scope checks, second-factor requirements, amount
// limits, idempotency, ledger validation, balance locking and maker-checker
// approval into one ordered pipeline for money-moving operations.
package policy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/balance"
	"github.com/fanvault/finguard/internal/idempotency"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/ledger"
	"github.com/fanvault/finguard/pkg/metrics"
	"github.com/fanvault/finguard/pkg/models"
)

// Stable rejection codes surfaced at the request boundary
const (
	CodeInsufficientScope      = "INSUFFICIENT_FINANCE_SCOPE"
	CodeRequire2FA             = "REQUIRE_2FA"
	CodeAmountLimitExceeded    = "AMOUNT_LIMIT_EXCEEDED"
	CodeMissingIdempotencyData = "MISSING_IDEMPOTENCY_DATA"
	CodeLedgerValidation       = "LEDGER_VALIDATION_ERROR"
	CodeBalanceLocked          = "BALANCE_LOCKED"
	CodePendingMakerChecker    = "PENDING_MAKER_CHECKER"
)

// Error is a pipeline rejection carrying the HTTP status and stable code the
// caller relies on. A 202 PENDING_MAKER_CHECKER is a deferral, not a denial.
type Error struct {
	Status  int         `json:"-"`
	Code    string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request describes one financial operation awaiting authorization
type Request struct {
	Operation  Operation
	Principal  *identity.Principal
	AccountID  string
	ExternalID string
	// Amount is the operation amount in minor units for non-ledger ops
	// (payouts, balance locks). Ledger ops take the ceiling per entry.
	Amount      int64
	Transaction *models.Transaction
	// TOTPCode satisfies the second-factor requirement when the session
	// carries no standing 2FA flag.
	TOTPCode string
	// Approved marks a prior maker-checker approval for high-risk ops.
	Approved   bool
	LockReason string
}

// Result is what a passing request may carry out of the pipeline
type Result struct {
	// Duplicate is set when the idempotency step matched a prior
	// operation; TransactionID then holds the original outcome.
	Duplicate     bool
	TransactionID *uuid.UUID
	Lock          *balance.Lock
}

// Hook observes every gate decision, wired to audit/monitoring
type Hook func(ctx context.Context, req *Request, rejection *Error)

// Gate runs the fixed-order policy pipeline
type Gate struct {
	logger    *zap.Logger
	validator *ledger.Validator
	registry  *idempotency.Registry
	locks     *balance.LockManager
	totp      *identity.TOTPVerifier
	maxAmount int64
	hook      Hook
}

// NewGate wires the pipeline. totp and hook may be nil.
func NewGate(logger *zap.Logger, validator *ledger.Validator, registry *idempotency.Registry, locks *balance.LockManager, totp *identity.TOTPVerifier, maxAmount int64) *Gate {
	return &Gate{
		logger:    logger,
		validator: validator,
		registry:  registry,
		locks:     locks,
		totp:      totp,
		maxAmount: maxAmount,
	}
}

// SetHook installs the audit/monitoring hook invoked on every decision
func (g *Gate) SetHook(hook Hook) {
	g.hook = hook
}

// Registry exposes the idempotency registry so callers can roll back keys
// for operations that fail after authorization
func (g *Gate) Registry() *idempotency.Registry {
	return g.registry
}

// Locks exposes the lock manager so callers can release on every exit path
func (g *Gate) Locks() *balance.LockManager {
	return g.locks
}

// Authorize runs the pipeline. Steps fail fast: any rejection short-circuits
// and no mutation survives it (a key created at the idempotency step is
// rolled back when a later step rejects, so a corrected retry is not
// misreported as a duplicate).
func (g *Gate) Authorize(ctx context.Context, req *Request) (*Result, *Error) {
	result, rejection := g.run(ctx, req)
	if rejection != nil {
		metrics.PolicyRejections.WithLabelValues(rejection.Code).Inc()
		g.logger.Info("policy pipeline rejected operation",
			zap.String("operation", string(req.Operation)),
			zap.String("code", rejection.Code))
	}
	if g.hook != nil {
		g.hook(ctx, req, rejection)
	}
	return result, rejection
}

func (g *Gate) run(ctx context.Context, req *Request) (*Result, *Error) {
	tr := traits[req.Operation]

	// 1. scope authorization
	scope, ok := requiredScope[req.Operation]
	if !ok {
		return nil, &Error{
			Status:  http.StatusForbidden,
			Code:    CodeInsufficientScope,
			Message: fmt.Sprintf("unknown operation %q", req.Operation),
		}
	}
	if req.Principal == nil || !req.Principal.HasScope(scope) {
		return nil, &Error{
			Status:  http.StatusForbidden,
			Code:    CodeInsufficientScope,
			Message: fmt.Sprintf("operation requires scope %s", scope),
			Details: map[string]string{"required_scope": scope},
		}
	}

	// 2. second factor for sensitive operations
	if sensitiveOps[req.Operation] && !req.Principal.TwoFactorPassed {
		verified := false
		if req.TOTPCode != "" && g.totp != nil {
			verified = g.totp.Verify(req.Principal.UserID.String(), req.TOTPCode)
		}
		if !verified {
			return nil, &Error{
				Status:  http.StatusForbidden,
				Code:    CodeRequire2FA,
				Message: "a verified second factor is required for this operation",
			}
		}
	}

	// 3. amount ceiling
	if rejection := g.checkAmounts(req); rejection != nil {
		return nil, rejection
	}

	// 4. idempotency check / creation
	result := &Result{}
	keyCreated := false
	if tr.idempotent {
		if req.AccountID == "" || req.ExternalID == "" {
			return nil, &Error{
				Status:  http.StatusBadRequest,
				Code:    CodeMissingIdempotencyData,
				Message: "accountId and externalId are required for financial operations",
			}
		}
		// The outcome id is bound at key creation, not after the caller
		// commits, so a racing replay always carries it.
		var txID *uuid.UUID
		if req.Transaction != nil {
			txID = &req.Transaction.ID
		}
		key, duplicate := g.registry.CheckOrCreate(req.AccountID, req.ExternalID, txID)
		if duplicate {
			result.Duplicate = true
			result.TransactionID = key.TransactionID
			return result, nil
		}
		keyCreated = true
	}

	// 5. ledger validation
	if tr.validateLedger {
		if violations := g.validator.ValidateTransaction(req.Transaction); len(violations) > 0 {
			if keyCreated {
				g.registry.Delete(req.AccountID, req.ExternalID)
			}
			return nil, &Error{
				Status:  http.StatusBadRequest,
				Code:    CodeLedgerValidation,
				Message: "transaction violates ledger invariants",
				Details: violations,
			}
		}
	}

	// 6. balance lock acquisition
	if tr.balanceLock {
		reason := req.LockReason
		if reason == "" {
			reason = string(req.Operation)
		}
		lock := g.locks.Acquire(req.AccountID, req.Amount, reason)
		if lock == nil {
			if keyCreated {
				g.registry.Delete(req.AccountID, req.ExternalID)
			}
			return nil, &Error{
				Status:  http.StatusConflict,
				Code:    CodeBalanceLocked,
				Message: fmt.Sprintf("account %s already holds an active balance lock", req.AccountID),
			}
		}
		result.Lock = lock
	}

	// 7. maker-checker approval gate
	if makerCheckerOps[req.Operation] && !req.Approved {
		if result.Lock != nil {
			g.locks.Release(req.AccountID, result.Lock.LockID)
		}
		if keyCreated {
			g.registry.Delete(req.AccountID, req.ExternalID)
		}
		return nil, &Error{
			Status:  http.StatusAccepted,
			Code:    CodePendingMakerChecker,
			Message: "operation deferred pending maker-checker approval",
		}
	}

	return result, nil
}

// checkAmounts enforces the configured per-amount ceiling in minor units
func (g *Gate) checkAmounts(req *Request) *Error {
	over := func(amount int64) *Error {
		return &Error{
			Status:  http.StatusBadRequest,
			Code:    CodeAmountLimitExceeded,
			Message: fmt.Sprintf("amount %d exceeds the configured maximum", amount),
			Details: map[string]int64{"max_amount": g.maxAmount},
		}
	}
	if req.Amount > g.maxAmount {
		return over(req.Amount)
	}
	if req.Transaction != nil {
		for _, e := range req.Transaction.Entries {
			if e.Amount > g.maxAmount {
				return over(e.Amount)
			}
		}
	}
	return nil
}

// ReleaseAfter releases the lock granted by Authorize. Call it with defer so
// the lock is freed on every exit path of the guarded operation.
func (g *Gate) ReleaseAfter(accountID string, lock *balance.Lock) {
	if lock == nil {
		return
	}
	if !g.locks.Release(accountID, lock.LockID) {
		g.logger.Warn("balance lock already released or expired",
			zap.String("account_id", accountID),
			zap.String("lock_id", lock.LockID),
			zap.Duration("ttl", balance.DefaultTTL),
			zap.Time("observed_at", time.Now()))
	}
}
