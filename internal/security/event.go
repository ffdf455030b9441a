// Package security records security-relevant request outcomes per source,
// evaluates sliding-window detection rules against them, and executes
// automatic throttle/block/alert responses.
package security

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a class of security-relevant outcome
type EventType string

const (
	EventAuthFailure         EventType = "auth_failure"
	EventPermissionDenied    EventType = "permission_denied"
	EventRateLimitAbuse      EventType = "rate_limit_abuse"
	EventCSRFViolation       EventType = "csrf_violation"
	EventBruteForce          EventType = "brute_force"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventAbnormalPayment     EventType = "abnormal_payment_pattern"
	EventSuspiciousRequest   EventType = "suspicious_request"
)

// Severity levels for events and rules
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Source identifies where a request came from
type Source struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Context carries computed per-event analysis
type Context struct {
	PreviousEventCount int     `json:"previous_event_count"`
	RiskScore          int     `json:"risk_score"` // 0-100
	Confidence         float64 `json:"confidence"` // 0-1
}

// Event is one immutable recorded security event
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Severity  Severity          `json:"severity"`
	Source    Source            `json:"source"`
	Details   map[string]string `json:"details,omitempty"`
	Context   Context           `json:"context"`
}

// baseRiskWeight is the risk contribution of each event type
var baseRiskWeight = map[EventType]int{
	EventAuthFailure:         10,
	EventPermissionDenied:    15,
	EventRateLimitAbuse:      20,
	EventCSRFViolation:       25,
	EventSuspiciousRequest:   30,
	EventBruteForce:          40,
	EventPrivilegeEscalation: 50,
	EventAbnormalPayment:     80,
}

// attackToolBonus is added when the user-agent matches a known attack tool
const attackToolBonus = 30

// riskScore combines the base weight with contextual signals, capped at 100
func riskScore(eventType EventType, attackTool bool) int {
	score := baseRiskWeight[eventType]
	if attackTool {
		score += attackToolBonus
	}
	if score > 100 {
		score = 100
	}
	return score
}

// confidence estimates how certain the classification is, from tool
// fingerprinting plus accumulated history for the source
func confidence(previousCount int, attackTool bool) float64 {
	c := 0.5
	if attackTool {
		c += 0.2
	}
	c += float64(previousCount) * 0.01
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// severityFor maps a risk score onto a severity level
func severityFor(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 50:
		return SeverityHigh
	case score >= 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
