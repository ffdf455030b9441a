// Package finance orchestrates account, transaction and payout state
// changes. Every money-moving operation passes through the policy gate
// before any persistence, and every committed change emits an audit record.
package finance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fanvault/finguard/internal/audit"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
	"github.com/fanvault/finguard/pkg/metrics"
	"github.com/fanvault/finguard/pkg/models"
)

var (
	// ErrNotFound is returned when the referenced entity does not exist
	ErrNotFound = errors.New("entity not found")
	// ErrInvalidState is returned when an operation does not apply to the
	// entity's current status
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrSelfApproval is returned when the payout requester tries to act as
	// their own checker
	ErrSelfApproval = errors.New("payout requester cannot approve their own payout")
	// ErrInsufficientFunds is returned when an account cannot cover a payout
	ErrInsufficientFunds = errors.New("insufficient available balance")
)

// EntryInput is one ledger entry of a transaction request
type EntryInput struct {
	AccountID  string `json:"accountId" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
	Type       string `json:"type" binding:"required"`
	Suspicious bool   `json:"suspicious"`
}

// TransactionInput is a transaction creation request
type TransactionInput struct {
	AccountID   string       `json:"accountId" binding:"required"`
	ExternalID  string       `json:"externalId" binding:"required"`
	Description string       `json:"description" binding:"required"`
	Entries     []EntryInput `json:"entries" binding:"required"`
}

// PayoutInput is a payout creation request
type PayoutInput struct {
	AccountID  string `json:"accountId" binding:"required"`
	ExternalID string `json:"externalId" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
}

// TransactionResult carries the outcome of a transaction create. On a
// duplicate replay Transaction is nil and TransactionID holds the original
// outcome, if one was attached.
type TransactionResult struct {
	Transaction   *models.Transaction
	Duplicate     bool
	TransactionID *uuid.UUID
}

// Service is the financial orchestration layer
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	gate     *policy.Gate
	audit    *audit.Sink
	recorder *security.Recorder
	now      func() time.Time
}

// NewService wires the service. recorder may be nil.
func NewService(logger *zap.Logger, db *gorm.DB, gate *policy.Gate, sink *audit.Sink, recorder *security.Recorder) *Service {
	return &Service{
		logger:   logger,
		db:       db,
		gate:     gate,
		audit:    sink,
		recorder: recorder,
		now:      time.Now,
	}
}

// CreateAccount registers a balance account
func (s *Service) CreateAccount(ctx context.Context, id string, ownerID uuid.UUID, currency string) (*models.Account, error) {
	account := &models.Account{
		ID:        id,
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", id, err)
	}
	return account, nil
}

// GetAccount loads an account by id
func (s *Service) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return &account, nil
}

// GetTransaction loads a transaction with its entries
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Preload("Entries").First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
	}
	return &tx, nil
}

// CreateTransaction posts a double-entry transaction. The policy gate runs
// the full pipeline first; on a duplicate replay nothing is persisted and
// the original transaction id is returned.
func (s *Service) CreateTransaction(ctx context.Context, principal *identity.Principal, in *TransactionInput) (*TransactionResult, error) {
	tx := s.buildTransaction(in)

	res, rejection := s.gate.Authorize(ctx, &policy.Request{
		Operation:   policy.OpTransactionCreate,
		Principal:   principal,
		AccountID:   in.AccountID,
		ExternalID:  in.ExternalID,
		Transaction: tx,
	})
	if rejection != nil {
		return nil, rejection
	}
	if res.Duplicate {
		return &TransactionResult{Duplicate: true, TransactionID: res.TransactionID}, nil
	}
	defer s.gate.ReleaseAfter(in.AccountID, res.Lock)

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Create(tx).Error; err != nil {
			return fmt.Errorf("failed to persist transaction: %w", err)
		}
		for _, entry := range tx.Entries {
			if err := s.applyEntry(dbtx, &entry); err != nil {
				return err
			}
		}
		now := s.now()
		tx.Status = models.TransactionStatusPosted
		tx.PostedAt = &now
		return dbtx.Model(tx).Updates(map[string]interface{}{
			"status":    tx.Status,
			"posted_at": tx.PostedAt,
		}).Error
	})
	if err != nil {
		s.failTransaction(ctx, tx, in)
		return nil, err
	}

	metrics.TransactionsProcessed.WithLabelValues(tx.Status).Inc()
	record := s.audit.RecordTransaction(principal.UserID.String(), tx)
	s.flagAbnormalPayment(principal, record, in.AccountID)

	s.logger.Info("transaction posted",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("external_id", tx.ExternalID),
		zap.Int("entries", len(tx.Entries)))
	return &TransactionResult{Transaction: tx, TransactionID: &tx.ID}, nil
}

func (s *Service) buildTransaction(in *TransactionInput) *models.Transaction {
	now := s.now()
	tx := &models.Transaction{
		ID:          uuid.New(),
		ExternalID:  in.ExternalID,
		Description: in.Description,
		Status:      models.TransactionStatusPending,
		CreatedAt:   now,
	}
	for _, e := range in.Entries {
		tx.Entries = append(tx.Entries, models.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			AccountID:     e.AccountID,
			Amount:        e.Amount,
			Currency:      e.Currency,
			Type:          e.Type,
			Suspicious:    e.Suspicious,
			CreatedAt:     now,
		})
	}
	return tx
}

// applyEntry moves an account balance by one entry. Credits add, debits
// subtract, on both the balance and the available portion.
func (s *Service) applyEntry(dbtx *gorm.DB, entry *models.LedgerEntry) error {
	delta := entry.Amount
	if entry.Type == models.EntryTypeDebit {
		delta = -delta
	}
	result := dbtx.Model(&models.Account{}).
		Where("id = ? AND currency = ?", entry.AccountID, entry.Currency).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"available":  gorm.Expr("available + ?", delta),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to apply entry to account %s: %w", entry.AccountID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s (%s): %w", entry.AccountID, entry.Currency, ErrNotFound)
	}
	return nil
}

// failTransaction records the failed outcome and frees the idempotency key
// so a corrected retry is possible.
func (s *Service) failTransaction(ctx context.Context, tx *models.Transaction, in *TransactionInput) {
	tx.Status = models.TransactionStatusFailed
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		s.logger.Error("failed to persist failed transaction",
			zap.String("external_id", tx.ExternalID), zap.Error(err))
	}
	s.gate.Registry().Delete(in.AccountID, in.ExternalID)
	metrics.TransactionsProcessed.WithLabelValues(models.TransactionStatusFailed).Inc()
}

// CancelTransaction voids a posted transaction by applying the inverse of
// every entry and marking it cancelled.
func (s *Service) CancelTransaction(ctx context.Context, principal *identity.Principal, id uuid.UUID, accountID string) (*models.Transaction, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusPosted {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrInvalidState)
	}

	res, rejection := s.gate.Authorize(ctx, &policy.Request{
		Operation: policy.OpTransactionCancel,
		Principal: principal,
		AccountID: accountID,
	})
	if rejection != nil {
		return nil, rejection
	}
	defer s.gate.ReleaseAfter(accountID, res.Lock)

	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		for _, entry := range tx.Entries {
			inverse := entry
			if entry.Type == models.EntryTypeCredit {
				inverse.Type = models.EntryTypeDebit
			} else {
				inverse.Type = models.EntryTypeCredit
			}
			if err := s.applyEntry(dbtx, &inverse); err != nil {
				return err
			}
		}
		tx.Status = models.TransactionStatusCancelled
		return dbtx.Model(tx).Update("status", tx.Status).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionsProcessed.WithLabelValues(tx.Status).Inc()
	s.audit.RecordTransaction(principal.UserID.String(), tx)
	s.logger.Info("transaction cancelled", zap.String("transaction_id", tx.ID.String()))
	return tx, nil
}

// CreatePayout reserves funds for a payout pending maker-checker approval
func (s *Service) CreatePayout(ctx context.Context, principal *identity.Principal, in *PayoutInput) (*models.Payout, bool, error) {
	res, rejection := s.gate.Authorize(ctx, &policy.Request{
		Operation:  policy.OpPayoutCreate,
		Principal:  principal,
		AccountID:  in.AccountID,
		ExternalID: in.ExternalID,
		Amount:     in.Amount,
	})
	if rejection != nil {
		return nil, false, rejection
	}
	if res.Duplicate {
		return nil, true, nil
	}

	payout := &models.Payout{
		ID:          uuid.New(),
		AccountID:   in.AccountID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Status:      models.PayoutStatusPending,
		RequestedBy: principal.UserID,
		CreatedAt:   s.now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := s.reserve(dbtx, in.AccountID, in.Currency, in.Amount); err != nil {
			return err
		}
		return dbtx.Create(payout).Error
	})
	if err != nil {
		s.gate.Registry().Delete(in.AccountID, in.ExternalID)
		return nil, false, err
	}

	s.audit.RecordPayout(principal.UserID.String(), payout, payout.Status)
	s.logger.Info("payout created",
		zap.String("payout_id", payout.ID.String()),
		zap.String("account_id", payout.AccountID),
		zap.Int64("amount", payout.Amount))
	return payout, false, nil
}

// reserve moves amount from available to locked, refusing overdrafts
func (s *Service) reserve(dbtx *gorm.DB, accountID, currency string, amount int64) error {
	result := dbtx.Model(&models.Account{}).
		Where("id = ? AND currency = ? AND available >= ?", accountID, currency, amount).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available - ?", amount),
			"locked":     gorm.Expr("locked + ?", amount),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reserve funds on account %s: %w", accountID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrInsufficientFunds)
	}
	return nil
}

// ApprovePayout is the checker step. The approver must be distinct from the
// requester, hold the approval scope, and pass the second factor.
func (s *Service) ApprovePayout(ctx context.Context, principal *identity.Principal, id uuid.UUID, totpCode string) (*models.Payout, error) {
	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutStatusPending {
		return nil, fmt.Errorf("payout %s is %s: %w", id, payout.Status, ErrInvalidState)
	}
	if payout.RequestedBy == principal.UserID {
		return nil, ErrSelfApproval
	}

	// a distinct checker acting on a pending payout is the approval itself
	_, rejection := s.gate.Authorize(ctx, &policy.Request{
		Operation: policy.OpPayoutApprove,
		Principal: principal,
		AccountID: payout.AccountID,
		Amount:    payout.Amount,
		TOTPCode:  totpCode,
		Approved:  true,
	})
	if rejection != nil {
		return nil, rejection
	}

	now := s.now()
	payout.Status = models.PayoutStatusApproved
	payout.ApprovedBy = &principal.UserID
	payout.ApprovedAt = &now
	err = s.db.WithContext(ctx).Model(payout).Updates(map[string]interface{}{
		"status":      payout.Status,
		"approved_by": payout.ApprovedBy,
		"approved_at": payout.ApprovedAt,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to approve payout %s: %w", id, err)
	}

	s.audit.RecordPayout(principal.UserID.String(), payout, payout.Status)
	s.logger.Info("payout approved",
		zap.String("payout_id", payout.ID.String()),
		zap.String("approved_by", principal.UserID.String()))
	return payout, nil
}

// ExecutePayout settles an approved payout: locked funds leave the account.
// Executing an unapproved payout is deferred by the gate.
func (s *Service) ExecutePayout(ctx context.Context, principal *identity.Principal, id uuid.UUID, totpCode string) (*models.Payout, error) {
	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status == models.PayoutStatusExecuted {
		return nil, fmt.Errorf("payout %s already executed: %w", id, ErrInvalidState)
	}

	res, rejection := s.gate.Authorize(ctx, &policy.Request{
		Operation:  policy.OpPayoutExecute,
		Principal:  principal,
		AccountID:  payout.AccountID,
		ExternalID: "payout-execute-" + payout.ID.String(),
		Amount:     payout.Amount,
		TOTPCode:   totpCode,
		Approved:   payout.Status == models.PayoutStatusApproved,
	})
	if rejection != nil {
		return nil, rejection
	}
	if res.Duplicate {
		return payout, nil
	}
	defer s.gate.ReleaseAfter(payout.AccountID, res.Lock)

	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.Model(&models.Account{}).
			Where("id = ? AND locked >= ?", payout.AccountID, payout.Amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", payout.Amount),
				"locked":     gorm.Expr("locked - ?", payout.Amount),
				"updated_at": s.now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to settle payout %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("account %s: %w", payout.AccountID, ErrInsufficientFunds)
		}
		now := s.now()
		payout.Status = models.PayoutStatusExecuted
		payout.ExecutedAt = &now
		return dbtx.Model(payout).Updates(map[string]interface{}{
			"status":      payout.Status,
			"executed_at": payout.ExecutedAt,
		}).Error
	})
	if err != nil {
		s.gate.Registry().Delete(payout.AccountID, "payout-execute-"+payout.ID.String())
		return nil, err
	}

	record := s.audit.RecordPayout(principal.UserID.String(), payout, payout.Status)
	s.flagAbnormalPayment(principal, record, payout.AccountID)
	if account, loadErr := s.GetAccount(ctx, payout.AccountID); loadErr == nil {
		s.audit.RecordBalanceChange(principal.UserID.String(), payout.AccountID,
			account.Balance+payout.Amount, account.Balance)
	}
	s.logger.Info("payout executed",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount", payout.Amount))
	return payout, nil
}

func (s *Service) getPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := s.db.WithContext(ctx).First(&payout, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payout %s: %w", id, err)
	}
	return &payout, nil
}

// flagAbnormalPayment raises a security event for critical-risk movements so
// the detection rules can escalate them
func (s *Service) flagAbnormalPayment(principal *identity.Principal, record *audit.Record, accountID string) {
	if s.recorder == nil || record.RiskLevel != audit.RiskCritical {
		return
	}
	s.recorder.Record(security.EventAbnormalPayment, security.Source{
		UserID:    principal.UserID.String(),
		SessionID: principal.SessionID,
	}, map[string]string{
		"account_id": accountID,
		"reference":  record.ReferenceID,
		"risk_level": string(record.RiskLevel),
	})
}

// StatusFromError maps service errors onto HTTP statuses for handlers
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSelfApproval):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
