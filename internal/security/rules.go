package security

import (
	"fmt"
	"sync"
	"time"
)

// Action is the automatic response a triggered rule executes
type Action string

const (
	ActionNone         Action = "none"
	ActionLogOnly      Action = "log_only"
	ActionThrottleIP   Action = "throttle_ip"
	ActionThrottleUser Action = "throttle_user"
	ActionBlockIP      Action = "block_ip"
	ActionBlockUser    Action = "block_user"
	ActionAlert        Action = "alert_administrators"
	ActionEscalate     Action = "escalate"
)

// Rule is a declarative threshold/time-window detection rule.
// Conditions are compiled predicates, evaluated as a conjunction.
type Rule struct {
	ID         string        `json:"id"`
	EventType  EventType     `json:"event_type"`
	Threshold  int           `json:"threshold"`
	Window     time.Duration `json:"window"`
	Conditions []Condition   `json:"-"`
	Severity   Severity      `json:"severity"`
	Response   Action        `json:"response"`
	Enabled    bool          `json:"enabled"`
}

// DefaultRules is the rule set loaded at startup
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:        "auth-failure-burst",
			EventType: EventAuthFailure,
			Threshold: 5,
			Window:    300 * time.Second,
			Severity:  SeverityMedium,
			Response:  ActionThrottleIP,
			Enabled:   true,
		},
		{
			ID:        "brute-force",
			EventType: EventBruteForce,
			Threshold: 20,
			Window:    300 * time.Second,
			Severity:  SeverityHigh,
			Response:  ActionBlockIP,
			Enabled:   true,
		},
		{
			ID:        "rate-limit-abuse",
			EventType: EventRateLimitAbuse,
			Threshold: 10,
			Window:    300 * time.Second,
			Severity:  SeverityMedium,
			Response:  ActionThrottleIP,
			Enabled:   true,
		},
		{
			ID:        "privilege-escalation",
			EventType: EventPrivilegeEscalation,
			Threshold: 3,
			Window:    600 * time.Second,
			Severity:  SeverityHigh,
			Response:  ActionAlert,
			Enabled:   true,
		},
		{
			ID:        "abnormal-payment-pattern",
			EventType: EventAbnormalPayment,
			Threshold: 1,
			Window:    0, // immediate
			Severity:  SeverityCritical,
			Response:  ActionEscalate,
			Enabled:   true,
		},
		{
			ID:        "csrf-violation",
			EventType: EventCSRFViolation,
			Threshold: 5,
			Window:    300 * time.Second,
			Severity:  SeverityMedium,
			Response:  ActionThrottleIP,
			Enabled:   true,
		},
	}
}

// RuleSet is the process-wide rule configuration, mutable only through the
// admin API.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewRuleSet creates a set seeded with the given rules
func NewRuleSet(rules ...*Rule) *RuleSet {
	set := &RuleSet{rules: make(map[string]*Rule)}
	for _, rule := range rules {
		set.rules[rule.ID] = rule
	}
	return set
}

// Get returns the rule with the given id
func (s *RuleSet) Get(id string) (*Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	return rule, ok
}

// List returns a snapshot of all rules
func (s *RuleSet) List() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	return out
}

// Upsert validates and installs a rule
func (s *RuleSet) Upsert(rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if rule.EventType == "" {
		return fmt.Errorf("rule %s: event type must not be empty", rule.ID)
	}
	if rule.Threshold < 1 {
		return fmt.Errorf("rule %s: threshold must be at least 1", rule.ID)
	}
	if rule.Window < 0 {
		return fmt.Errorf("rule %s: window must not be negative", rule.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule by id
func (s *RuleSet) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	return true
}

// enabledFor snapshots the enabled rules matching an event type
func (s *RuleSet) enabledFor(eventType EventType) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Rule
	for _, rule := range s.rules {
		if rule.Enabled && rule.EventType == eventType {
			out = append(out, rule)
		}
	}
	return out
}
