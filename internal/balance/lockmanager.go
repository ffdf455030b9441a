// Package balance grants mutually-exclusive, time-bounded locks per account.
package balance

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a crashed holder can keep an account locked
const DefaultTTL = 5 * time.Minute

// Lock is an exclusive claim on an account's balance
type Lock struct {
	AccountID string    `json:"account_id"`
	LockID    string    `json:"lock_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LockManager hands out at most one unexpired lock per account.
// Acquisition is atomic with respect to concurrent callers.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*Lock
	ttl   time.Duration
	now   func() time.Time
}

// NewLockManager creates a manager with the given TTL (DefaultTTL if zero)
func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LockManager{
		locks: make(map[string]*Lock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Acquire grants a lock on the account, or returns nil if an unexpired lock
// already exists. Expired locks are replaced in the same atomic step.
func (m *LockManager) Acquire(accountID string, amount int64, reason string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.locks[accountID]; ok && now.Before(existing.ExpiresAt) {
		return nil
	}

	lock := &Lock{
		AccountID: accountID,
		LockID:    uuid.New().String(),
		Amount:    amount,
		Reason:    reason,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.locks[accountID] = lock
	cp := *lock
	return &cp
}

// Release frees the lock only on an exact lockID match, so a stale holder
// cannot release a newer lock.
func (m *LockManager) Release(accountID, lockID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[accountID]
	if !ok || existing.LockID != lockID {
		return false
	}
	delete(m.locks, accountID)
	return true
}

// Get returns the current lock, lazily deleting it if expired
func (m *LockManager) Get(accountID string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[accountID]
	if !ok {
		return nil
	}
	if !m.now().Before(existing.ExpiresAt) {
		delete(m.locks, accountID)
		return nil
	}
	cp := *existing
	return &cp
}

// Sweep removes expired locks and returns how many remain
func (m *LockManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for accountID, lock := range m.locks {
		if !now.Before(lock.ExpiresAt) {
			delete(m.locks, accountID)
		}
	}
	return len(m.locks)
}
