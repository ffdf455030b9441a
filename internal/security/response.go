package security

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fanvault/finguard/internal/alerting"
	"github.com/fanvault/finguard/pkg/metrics"
)

// Default throttle durations
const (
	DefaultIPThrottle   = 15 * time.Minute
	DefaultUserThrottle = 30 * time.Minute
)

// Gate decision codes surfaced at the request boundary
const (
	CodeIPBlocked     = "IP_BLOCKED"
	CodeUserBlocked   = "USER_BLOCKED"
	CodeIPThrottled   = "IP_THROTTLED"
	CodeUserThrottled = "USER_THROTTLED"
)

// Decision is the front-of-pipeline gate verdict for a request source
type Decision struct {
	Allowed    bool
	Status     int
	Code       string
	RetryAfter time.Duration
}

var allowed = Decision{Allowed: true}

// Responder executes the automatic actions chosen by triggered rules and
// holds the throttle/block state the front gate consults. Throttles expire;
// blocks last until explicitly lifted.
type Responder struct {
	mu             sync.Mutex
	throttledIPs   map[string]time.Time
	throttledUsers map[string]time.Time
	blockedIPs     map[string]bool
	blockedUsers   map[string]bool

	ipThrottle   time.Duration
	userThrottle time.Duration
	alerts       *alerting.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
}

// NewResponder creates a responder. Zero durations take the defaults.
func NewResponder(logger *zap.Logger, alerts *alerting.Dispatcher, ipThrottle, userThrottle time.Duration) *Responder {
	if ipThrottle <= 0 {
		ipThrottle = DefaultIPThrottle
	}
	if userThrottle <= 0 {
		userThrottle = DefaultUserThrottle
	}
	return &Responder{
		throttledIPs:   make(map[string]time.Time),
		throttledUsers: make(map[string]time.Time),
		blockedIPs:     make(map[string]bool),
		blockedUsers:   make(map[string]bool),
		ipThrottle:     ipThrottle,
		userThrottle:   userThrottle,
		alerts:         alerts,
		logger:         logger,
		now:            time.Now,
	}
}

// Execute runs the action of a triggered rule against the offending source
func (r *Responder) Execute(rule *Rule, event *Event) {
	fields := []zap.Field{
		zap.String("rule", rule.ID),
		zap.String("action", string(rule.Response)),
		zap.String("source_ip", event.Source.IP),
		zap.String("event_type", string(event.Type)),
		zap.Int("risk_score", event.Context.RiskScore),
	}

	switch rule.Response {
	case ActionNone:
	case ActionLogOnly:
		r.logger.Info("detection rule matched", fields...)
	case ActionThrottleIP:
		r.ThrottleIP(event.Source.IP)
		r.logger.Warn("source IP throttled", fields...)
	case ActionThrottleUser:
		if event.Source.UserID != "" {
			r.ThrottleUser(event.Source.UserID)
			r.logger.Warn("user throttled", fields...)
		}
	case ActionBlockIP:
		r.BlockIP(event.Source.IP)
		r.logger.Warn("source IP blocked", fields...)
	case ActionBlockUser:
		if event.Source.UserID != "" {
			r.BlockUser(event.Source.UserID)
			r.logger.Warn("user blocked", fields...)
		}
	case ActionAlert:
		r.logger.Warn("administrator alert raised", fields...)
		r.dispatch(alerting.SeverityHigh, rule, event)
	case ActionEscalate:
		r.logger.Error("security violation escalated", fields...)
		r.dispatch(alerting.SeverityCritical, rule, event)
	default:
		r.logger.Warn("unknown auto-response action, treating as log-only", fields...)
	}
}

func (r *Responder) dispatch(severity string, rule *Rule, event *Event) {
	if r.alerts == nil {
		return
	}
	r.alerts.Dispatch(alerting.NewAlert(severity,
		"detection rule "+rule.ID+" triggered",
		"event "+string(event.Type)+" from "+event.Source.IP,
		map[string]interface{}{
			"rule":       rule.ID,
			"event_id":   event.ID.String(),
			"source_ip":  event.Source.IP,
			"user_id":    event.Source.UserID,
			"risk_score": event.Context.RiskScore,
		}))
}

// Check is the front-of-pipeline gate: blocks win over throttles, and both
// short-circuit before any other processing.
func (r *Responder) Check(ip, userID string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.blockedIPs[ip] {
		metrics.RequestsGated.WithLabelValues("block_ip").Inc()
		return Decision{Status: http.StatusForbidden, Code: CodeIPBlocked}
	}
	if userID != "" && r.blockedUsers[userID] {
		metrics.RequestsGated.WithLabelValues("block_user").Inc()
		return Decision{Status: http.StatusForbidden, Code: CodeUserBlocked}
	}
	if until, ok := r.throttledIPs[ip]; ok {
		if now.Before(until) {
			metrics.RequestsGated.WithLabelValues("throttle_ip").Inc()
			return Decision{Status: http.StatusTooManyRequests, Code: CodeIPThrottled, RetryAfter: until.Sub(now)}
		}
		delete(r.throttledIPs, ip)
	}
	if userID != "" {
		if until, ok := r.throttledUsers[userID]; ok {
			if now.Before(until) {
				metrics.RequestsGated.WithLabelValues("throttle_user").Inc()
				return Decision{Status: http.StatusTooManyRequests, Code: CodeUserThrottled, RetryAfter: until.Sub(now)}
			}
			delete(r.throttledUsers, userID)
		}
	}
	return allowed
}

// ThrottleIP rate-limits an IP for the configured duration
func (r *Responder) ThrottleIP(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttledIPs[ip] = r.now().Add(r.ipThrottle)
}

// ThrottleUser rate-limits an authenticated user
func (r *Responder) ThrottleUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttledUsers[userID] = r.now().Add(r.userThrottle)
}

// BlockIP denies an IP until explicitly unblocked
func (r *Responder) BlockIP(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedIPs[ip] = true
}

// BlockUser denies a user until explicitly unblocked
func (r *Responder) BlockUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedUsers[userID] = true
}

// UnblockIP lifts an IP block
func (r *Responder) UnblockIP(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.blockedIPs[ip] {
		return false
	}
	delete(r.blockedIPs, ip)
	return true
}

// UnblockUser lifts a user block
func (r *Responder) UnblockUser(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.blockedUsers[userID] {
		return false
	}
	delete(r.blockedUsers, userID)
	return true
}

// Sweep drops expired throttles and returns (active throttles, blocks)
func (r *Responder) Sweep() (throttles, blocks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for ip, until := range r.throttledIPs {
		if !now.Before(until) {
			delete(r.throttledIPs, ip)
		}
	}
	for user, until := range r.throttledUsers {
		if !now.Before(until) {
			delete(r.throttledUsers, user)
		}
	}
	return len(r.throttledIPs) + len(r.throttledUsers), len(r.blockedIPs) + len(r.blockedUsers)
}
