package ledger

import (
	"testing"

	"github.com/fanvault/finguard/pkg/models"
	"github.com/google/uuid"
)

func entry(account, typ, currency string, amount int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: account,
		Type:      typ,
		Currency:  currency,
		Amount:    amount,
	}
}

func TestValidateBalanceBalanced(t *testing.T) {
	v := NewValidator()
	entries := []models.LedgerEntry{
		entry("acc-a", models.EntryTypeDebit, "USD", 1000),
		entry("acc-b", models.EntryTypeCredit, "USD", 1000),
	}
	if violations := v.ValidateBalance(entries); len(violations) != 0 {
		t.Errorf("balanced entries should validate, got %v", violations)
	}
}

func TestValidateBalanceUnbalanced(t *testing.T) {
	v := NewValidator()
	entries := []models.LedgerEntry{
		entry("acc-a", models.EntryTypeDebit, "USD", 1000),
		entry("acc-b", models.EntryTypeCredit, "USD", 900),
	}
	violations := v.ValidateBalance(entries)
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", violations)
	}
	if violations[0].Rule != "balanced_ledger" {
		t.Errorf("wrong rule: %s", violations[0].Rule)
	}
}

func TestValidateBalancePerCurrency(t *testing.T) {
	v := NewValidator()
	// Balanced in USD, unbalanced in EUR
	entries := []models.LedgerEntry{
		entry("acc-a", models.EntryTypeDebit, "USD", 500),
		entry("acc-b", models.EntryTypeCredit, "USD", 500),
		entry("acc-c", models.EntryTypeCredit, "EUR", 250),
	}
	if violations := v.ValidateBalance(entries); len(violations) != 1 {
		t.Errorf("expected one violation for EUR, got %v", violations)
	}
}

func TestValidateTransactionFull(t *testing.T) {
	v := NewValidator()
	tx := &models.Transaction{
		ID:          uuid.New(),
		ExternalID:  "ext-1",
		Description: "tip settlement",
		Entries: []models.LedgerEntry{
			entry("fan-1", models.EntryTypeDebit, "USD", 1500),
			entry("creator-1", models.EntryTypeCredit, "USD", 1500),
		},
	}
	if violations := v.ValidateTransaction(tx); len(violations) != 0 {
		t.Errorf("valid transaction rejected: %v", violations)
	}
}

func TestValidateTransactionNil(t *testing.T) {
	v := NewValidator()
	violations := v.ValidateTransaction(nil)
	if len(violations) != 1 || violations[0].Rule != "transaction_required" {
		t.Fatalf("nil transaction must yield transaction_required, got %v", violations)
	}
}

func TestValidateTransactionCollectsAllViolations(t *testing.T) {
	v := NewValidator()
	tx := &models.Transaction{
		ID: uuid.New(),
		Entries: []models.LedgerEntry{
			{AccountID: "", Type: "transfer", Currency: "USD", Amount: 0},
		},
	}
	violations := v.ValidateTransaction(tx)
	rules := make(map[string]bool)
	for _, violation := range violations {
		rules[violation.Rule] = true
	}
	for _, want := range []string{"minimum_entries", "external_id_required", "description_required", "account_id_required", "positive_amount", "entry_type"} {
		if !rules[want] {
			t.Errorf("missing violation %q in %v", want, violations)
		}
	}
}
