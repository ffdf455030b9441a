package security

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fanvault/finguard/pkg/metrics"
)

// DefaultHistoryLimit bounds per-source event history
const DefaultHistoryLimit = 1000

// Recorder ingests security-relevant request outcomes, keeps a bounded
// per-source history, and evaluates the detection rules on every event.
type Recorder struct {
	mu      sync.Mutex
	history map[string][]*Event
	limit   int

	rules     *RuleSet
	responder *Responder
	intel     *ThreatIntel
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecorder wires the recorder to its rule set, responder and threat intel
func NewRecorder(logger *zap.Logger, rules *RuleSet, responder *Responder, intel *ThreatIntel, historyLimit int) *Recorder {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Recorder{
		history:   make(map[string][]*Event),
		limit:     historyLimit,
		rules:     rules,
		responder: responder,
		intel:     intel,
		logger:    logger,
		now:       time.Now,
	}
}

// Record assigns id, timestamp and computed context to the event, appends it
// to the source's history (oldest trimmed first), and evaluates every
// enabled rule for its event type.
func (r *Recorder) Record(eventType EventType, source Source, details map[string]string) *Event {
	attackTool := r.intel != nil && r.intel.MatchUserAgent(source.UserAgent)

	r.mu.Lock()
	previous := len(r.history[source.IP])
	score := riskScore(eventType, attackTool)
	event := &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: r.now(),
		Severity:  severityFor(score),
		Source:    source,
		Details:   details,
		Context: Context{
			PreviousEventCount: previous,
			RiskScore:          score,
			Confidence:         confidence(previous, attackTool),
		},
	}
	r.history[source.IP] = append(r.history[source.IP], event)
	if len(r.history[source.IP]) > r.limit {
		r.history[source.IP] = r.history[source.IP][len(r.history[source.IP])-r.limit:]
	}
	snapshot := make([]*Event, len(r.history[source.IP]))
	copy(snapshot, r.history[source.IP])
	r.mu.Unlock()

	metrics.SecurityEventsRecorded.WithLabelValues(string(eventType)).Inc()
	r.evaluate(event, snapshot)
	return event
}

// evaluate runs the detection rules. A malformed rule can never crash the
// recording path: evaluation faults are caught, logged, and default to no
// auto-response.
func (r *Recorder) evaluate(event *Event, sourceHistory []*Event) {
	defer func() {
		if fault := recover(); fault != nil {
			r.logger.Error("detection rule evaluation fault",
				zap.Any("fault", fault),
				zap.String("event_id", event.ID.String()))
		}
	}()

	for _, rule := range r.rules.enabledFor(event.Type) {
		if !matchAll(rule.Conditions, event) {
			continue
		}
		// A non-positive window means the rule judges the triggering event
		// alone; a cutoff derived from a later "now" would exclude it.
		count := 1
		if rule.Window > 0 {
			count = r.countInWindow(rule, sourceHistory)
		}
		if count < rule.Threshold {
			continue
		}
		metrics.RuleViolations.WithLabelValues(rule.ID).Inc()
		r.logger.Warn("detection rule violated",
			zap.String("rule", rule.ID),
			zap.String("source_ip", event.Source.IP),
			zap.Int("count", count),
			zap.Int("threshold", rule.Threshold),
			zap.Duration("window", rule.Window))
		r.responder.Execute(rule, event)
	}
}

// countInWindow recomputes the match count from recent history; the window
// is wall-clock relative to now, not to event insertion order.
func (r *Recorder) countInWindow(rule *Rule, sourceHistory []*Event) int {
	cutoff := r.now().Add(-rule.Window)
	count := 0
	for _, e := range sourceHistory {
		if e.Type != rule.EventType || e.Timestamp.Before(cutoff) {
			continue
		}
		if matchAll(rule.Conditions, e) {
			count++
		}
	}
	return count
}

// EventsForSource returns a copy of the recorded history for a source IP
func (r *Recorder) EventsForSource(ip string) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.history[ip]))
	copy(out, r.history[ip])
	return out
}

// SourceCount returns the number of sources with recorded history
func (r *Recorder) SourceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Sweep drops events older than maxAge and forgets empty sources
func (r *Recorder) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	for ip, events := range r.history {
		kept := events[:0]
		for _, e := range events {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.history, ip)
			continue
		}
		r.history[ip] = kept
	}
	return len(r.history)
}
