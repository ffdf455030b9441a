// Package idempotency deduplicates financial operations by (account, external id).
package idempotency

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a key guards against replays
const DefaultTTL = 24 * time.Hour

// Key maps one (accountID, externalID) pair to at most one transaction
// outcome for its lifetime.
type Key struct {
	Key           string     `json:"key"`
	AccountID     string     `json:"account_id"`
	ExternalID    string     `json:"external_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

func keyFor(accountID, externalID string) string {
	return accountID + ":" + externalID
}

// Registry is an in-memory idempotency key store. Check-and-create is a
// single atomic step so two concurrent replays cannot both proceed.
// For multi-instance deployments, back this with conditional writes instead.
type Registry struct {
	mu   sync.Mutex
	keys map[string]*Key
	ttl  time.Duration
	now  func() time.Time
}

// NewRegistry creates a registry with the given TTL (DefaultTTL if zero)
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		keys: make(map[string]*Key),
		ttl:  ttl,
		now:  time.Now,
	}
}

// CheckOrCreate returns the existing unexpired key for (accountID, externalID)
// with duplicate=true, or atomically creates a fresh key. The caller passes
// the transaction outcome it will produce (nil when the operation has none)
// so a concurrent replay never observes a key without its outcome. Stale
// entries are expired lazily here.
func (r *Registry) CheckOrCreate(accountID, externalID string, transactionID *uuid.UUID) (key *Key, duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	k := keyFor(accountID, externalID)
	if existing, ok := r.keys[k]; ok {
		if now.Before(existing.ExpiresAt) {
			cp := *existing
			return &cp, true
		}
		delete(r.keys, k)
	}

	created := &Key{
		Key:        k,
		AccountID:  accountID,
		ExternalID: externalID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}
	if transactionID != nil {
		id := *transactionID
		created.TransactionID = &id
	}
	r.keys[k] = created
	cp := *created
	return &cp, false
}

// Check returns the existing unexpired key, or nil if absent
func (r *Registry) Check(accountID, externalID string) *Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyFor(accountID, externalID)
	existing, ok := r.keys[k]
	if !ok {
		return nil
	}
	if !r.now().Before(existing.ExpiresAt) {
		delete(r.keys, k)
		return nil
	}
	cp := *existing
	return &cp
}

// Delete removes a key, letting a failed operation be retried immediately
func (r *Registry) Delete(accountID, externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, keyFor(accountID, externalID))
}

// Sweep removes expired keys and returns how many remain
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, key := range r.keys {
		if !now.Before(key.ExpiresAt) {
			delete(r.keys, k)
		}
	}
	return len(r.keys)
}

// Len returns the number of stored keys, expired or not
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
