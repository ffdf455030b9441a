// Package ledger enforces double-entry correctness on proposed transactions.
package ledger

import (
	"fmt"

	"github.com/fanvault/finguard/pkg/models"
)

// Violation identifies a single broken validation rule
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Validator validates proposed transactions before posting
type Validator struct{}

// NewValidator creates a ledger validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBalance checks that debits and credits sum to zero per currency.
// Credits add, debits subtract.
func (v *Validator) ValidateBalance(entries []models.LedgerEntry) []Violation {
	sums := make(map[string]int64)
	for _, e := range entries {
		switch e.Type {
		case models.EntryTypeCredit:
			sums[e.Currency] += e.Amount
		case models.EntryTypeDebit:
			sums[e.Currency] -= e.Amount
		}
	}

	var violations []Violation
	for currency, sum := range sums {
		if sum != 0 {
			violations = append(violations, Violation{
				Rule:    "balanced_ledger",
				Message: fmt.Sprintf("entries for %s are unbalanced by %d minor units", currency, sum),
			})
		}
	}
	return violations
}

// ValidateTransaction runs the full rule set against a proposed transaction.
// An empty result means the transaction may post; any violation blocks it.
func (v *Validator) ValidateTransaction(tx *models.Transaction) []Violation {
	if tx == nil {
		return []Violation{{
			Rule:    "transaction_required",
			Message: "a ledger operation requires a transaction body",
		}}
	}

	var violations []Violation

	if len(tx.Entries) < 2 {
		violations = append(violations, Violation{
			Rule:    "minimum_entries",
			Message: "a transaction requires at least two ledger entries",
		})
	}
	if tx.ExternalID == "" {
		violations = append(violations, Violation{
			Rule:    "external_id_required",
			Message: "externalId must not be empty",
		})
	}
	if tx.Description == "" {
		violations = append(violations, Violation{
			Rule:    "description_required",
			Message: "description must not be empty",
		})
	}

	for i, e := range tx.Entries {
		if e.AccountID == "" {
			violations = append(violations, Violation{
				Rule:    "account_id_required",
				Message: fmt.Sprintf("entry %d has no accountId", i),
			})
		}
		if e.Amount <= 0 {
			violations = append(violations, Violation{
				Rule:    "positive_amount",
				Message: fmt.Sprintf("entry %d amount must be strictly positive", i),
			})
		}
		if e.Type != models.EntryTypeDebit && e.Type != models.EntryTypeCredit {
			violations = append(violations, Violation{
				Rule:    "entry_type",
				Message: fmt.Sprintf("entry %d type %q is not debit or credit", i, e.Type),
			})
		}
	}

	violations = append(violations, v.ValidateBalance(tx.Entries)...)
	return violations
}
