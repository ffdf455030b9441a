// Package audit emits immutable audit records for every financial state
// change, with computed risk classification. Records are never edited or
// deleted; store failures alert observability but never roll back the
// underlying financial operation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/pkg/metrics"
	"github.com/fanvault/finguard/pkg/models"
)

// RiskLevel classifies a financial state change by monetary exposure
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Monetary tiers in minor units, applied uniformly across the service
const (
	tierMedium = int64(1_000_00)
	tierHigh   = int64(10_000_00)
	tierCrit   = int64(50_000_00)

	// reviewEntryCount flags transactions with an unusually large entry set
	reviewEntryCount = 20
)

// Record kinds
const (
	KindTransaction   = "transaction"
	KindBalanceChange = "balance_change"
	KindPayout        = "payout"
)

// Record is one immutable audit entry
type Record struct {
	ID                   uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Kind                 string    `json:"kind" gorm:"type:varchar(32);index;not null"`
	ActorID              string    `json:"actor_id" gorm:"type:varchar(64);index"`
	AccountID            string    `json:"account_id" gorm:"type:varchar(64);index"`
	ReferenceID          string    `json:"reference_id" gorm:"type:varchar(64);index"`
	RiskLevel            RiskLevel `json:"risk_level" gorm:"type:varchar(16);index"`
	RequiresManualReview bool      `json:"requires_manual_review" gorm:"index"`
	Details              string    `json:"details" gorm:"type:text"`
	CreatedAt            time.Time `json:"created_at" gorm:"index"`
}

// Store persists batches of audit records (append-only)
type Store interface {
	Append(ctx context.Context, records []*Record) error
}

// Sink batches audit records to one or more stores on a background flusher.
type Sink struct {
	logger    *zap.Logger
	stores    []Store
	queue     chan *Record
	done      chan struct{}
	wg        sync.WaitGroup
	batchSize int
	interval  time.Duration
	onFailure func(err error)
}

// NewSink creates a sink writing to the given stores
func NewSink(logger *zap.Logger, stores ...Store) *Sink {
	return &Sink{
		logger:    logger,
		stores:    stores,
		queue:     make(chan *Record, 1024),
		done:      make(chan struct{}),
		batchSize: 64,
		interval:  time.Second,
	}
}

// SetFailureHandler installs the observability alert raised when a store
// rejects a batch
func (s *Sink) SetFailureHandler(fn func(err error)) {
	s.onFailure = fn
}

// Start launches the background flusher
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.flushLoop()
	s.logger.Info("audit sink started")
}

// Stop drains the queue and stops the flusher
func (s *Sink) Stop() {
	close(s.done)
	s.wg.Wait()
	s.logger.Info("audit sink stopped")
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := make([]*Record, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case record := <-s.queue:
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case record := <-s.queue:
					batch = append(batch, record)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) write(batch []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, store := range s.stores {
		if err := store.Append(ctx, batch); err != nil {
			metrics.AuditWriteFailures.Inc()
			s.logger.Error("audit store append failed", zap.Int("batch", len(batch)), zap.Error(err))
			if s.onFailure != nil {
				s.onFailure(err)
			}
		}
	}
}

// enqueue hands a record to the flusher. The record is considered produced
// once enqueued; a full queue falls back to a direct write rather than drop.
func (s *Sink) enqueue(record *Record) {
	select {
	case s.queue <- record:
	default:
		s.write([]*Record{record})
	}
}

func marshalDetails(details map[string]interface{}) string {
	b, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RecordTransaction audits a transaction creation: per-currency totals,
// risk classification and the manual-review flag.
func (s *Sink) RecordTransaction(actorID string, tx *models.Transaction) *Record {
	totals := make(map[string]int64)
	suspicious := false
	for _, e := range tx.Entries {
		if e.Type == models.EntryTypeCredit {
			totals[e.Currency] += e.Amount
		}
		if e.Suspicious {
			suspicious = true
		}
	}
	var largest int64
	for _, total := range totals {
		if total > largest {
			largest = total
		}
	}

	risk := classifyRisk(largest)
	review := largest >= tierHigh || len(tx.Entries) > reviewEntryCount || suspicious

	record := &Record{
		ID:                   uuid.New(),
		Kind:                 KindTransaction,
		ActorID:              actorID,
		ReferenceID:          tx.ID.String(),
		RiskLevel:            risk,
		RequiresManualReview: review,
		Details: marshalDetails(map[string]interface{}{
			"external_id": tx.ExternalID,
			"status":      tx.Status,
			"entry_count": len(tx.Entries),
			"totals":      totals,
			"suspicious":  suspicious,
		}),
		CreatedAt: time.Now(),
	}
	s.enqueue(record)
	return record
}

// RecordBalanceChange audits an account balance mutation with the signed delta
func (s *Sink) RecordBalanceChange(actorID, accountID string, oldBalance, newBalance int64) *Record {
	delta := newBalance - oldBalance
	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	record := &Record{
		ID:        uuid.New(),
		Kind:      KindBalanceChange,
		ActorID:   actorID,
		AccountID: accountID,
		RiskLevel: classifyRisk(magnitude),
		Details: marshalDetails(map[string]interface{}{
			"old_balance": oldBalance,
			"new_balance": newBalance,
			"delta":       delta,
		}),
		CreatedAt: time.Now(),
	}
	s.enqueue(record)
	return record
}

// RecordPayout audits a payout operation with its outcome status
func (s *Sink) RecordPayout(actorID string, payout *models.Payout, status string) *Record {
	record := &Record{
		ID:                   uuid.New(),
		Kind:                 KindPayout,
		ActorID:              actorID,
		AccountID:            payout.AccountID,
		ReferenceID:          payout.ID.String(),
		RiskLevel:            classifyRisk(payout.Amount),
		RequiresManualReview: payout.Amount >= tierHigh,
		Details: marshalDetails(map[string]interface{}{
			"amount":   payout.Amount,
			"currency": payout.Currency,
			"status":   status,
		}),
		CreatedAt: time.Now(),
	}
	s.enqueue(record)
	return record
}

// classifyRisk maps a minor-unit amount onto the fixed monetary tiers
func classifyRisk(amount int64) RiskLevel {
	switch {
	case amount >= tierCrit:
		return RiskCritical
	case amount >= tierHigh:
		return RiskHigh
	case amount >= tierMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
