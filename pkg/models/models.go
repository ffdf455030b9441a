package models

import (
	"time"

	"github.com/google/uuid"
)

// Entry types for the double-entry ledger
const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusPosted    = "posted"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// Payout statuses
const (
	PayoutStatusPending  = "pending"
	PayoutStatusApproved = "approved"
	PayoutStatusExecuted = "executed"
	PayoutStatusFailed   = "failed"
)

// Money is an amount in minor currency units (e.g. cents).
// Minor units are used uniformly for every monetary constant in the system.
type Money struct {
	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"type:varchar(8);not null"`
}

// LedgerEntry represents a single debit or credit within a transaction
type LedgerEntry struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	TransactionID uuid.UUID `json:"transaction_id" gorm:"type:uuid;index"`
	AccountID     string    `json:"account_id" gorm:"type:varchar(64);index;not null"`
	Amount        int64     `json:"amount" gorm:"not null"`
	Currency      string    `json:"currency" gorm:"type:varchar(8);not null"`
	Type          string    `json:"type" gorm:"type:varchar(8);not null"` // debit, credit
	Suspicious    bool      `json:"suspicious" gorm:"default:false"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction represents a double-entry financial transaction.
// Entries must balance to zero per currency before the transaction posts.
type Transaction struct {
	ID          uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid"`
	ExternalID  string        `json:"external_id" gorm:"type:varchar(128);index;not null"`
	Description string        `json:"description" gorm:"type:varchar(500)"`
	Status      string        `json:"status" gorm:"type:varchar(16);index;not null"` // pending, posted, failed, cancelled
	Entries     []LedgerEntry `json:"entries" gorm:"foreignKey:TransactionID"`
	CreatedAt   time.Time     `json:"created_at"`
	PostedAt    *time.Time    `json:"posted_at,omitempty"`
}

// Account represents a creator or platform balance account for one currency
type Account struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID   uuid.UUID `json:"owner_id" gorm:"type:uuid;index"`
	Currency  string    `json:"currency" gorm:"type:varchar(8);not null"`
	Balance   int64     `json:"balance"`
	Available int64     `json:"available"`
	Locked    int64     `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payout represents a creator payout subject to maker-checker approval
type Payout struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID   string     `json:"account_id" gorm:"type:varchar(64);index;not null"`
	Amount      int64      `json:"amount" gorm:"not null"`
	Currency    string     `json:"currency" gorm:"type:varchar(8);not null"`
	Status      string     `json:"status" gorm:"type:varchar(16);index;not null"` // pending, approved, executed, failed
	RequestedBy uuid.UUID  `json:"requested_by" gorm:"type:uuid"`
	ApprovedBy  *uuid.UUID `json:"approved_by,omitempty" gorm:"type:uuid"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}
