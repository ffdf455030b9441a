// Package alerting delivers rule-violation notifications over explicit
// channel implementations composed by dependency injection.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alert severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is one outbound notification
type Alert struct {
	ID        uuid.UUID              `json:"id"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewAlert builds an alert with id and timestamp assigned
func NewAlert(severity, title, message string, details map[string]interface{}) Alert {
	return Alert{
		ID:        uuid.New(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// Alerter is one delivery channel (dashboard, email, chat, webhook)
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
	Channel() string
	Enabled() bool
}

// Dispatcher fans an alert out to every enabled channel, fire-and-forget.
// Delivery failures are logged; they never propagate to the recording path.
type Dispatcher struct {
	logger   *zap.Logger
	alerters []Alerter
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher composes the given channels
func NewDispatcher(logger *zap.Logger, alerters ...Alerter) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		alerters: alerters,
		timeout:  10 * time.Second,
	}
}

// Dispatch sends the alert to all enabled channels without blocking the caller
func (d *Dispatcher) Dispatch(alert Alert) {
	for _, alerter := range d.alerters {
		if !alerter.Enabled() {
			continue
		}
		a := alerter
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := a.Send(ctx, alert); err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("channel", a.Channel()),
					zap.String("alert_id", alert.ID.String()),
					zap.Error(err))
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish, used on shutdown and in tests
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
