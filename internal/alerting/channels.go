package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WebhookAlerter posts alerts as JSON to a configured endpoint with retries
type WebhookAlerter struct {
	url        string
	headers    map[string]string
	client     *http.Client
	retryCount int
	logger     *zap.Logger
}

// NewWebhookAlerter creates a webhook channel. A blank url disables it.
func NewWebhookAlerter(url string, headers map[string]string, logger *zap.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		url:        url,
		headers:    headers,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryCount: 3,
		logger:     logger,
	}
}

func (w *WebhookAlerter) Channel() string { return "webhook" }
func (w *WebhookAlerter) Enabled() bool   { return w.url != "" }

// Send posts the alert, retrying with linear backoff
func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retryCount; attempt++ {
		if lastErr = w.post(ctx, payload); lastErr == nil {
			return nil
		}
		w.logger.Warn("webhook send failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(lastErr))
		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook send failed after retries: %w", lastErr)
}

func (w *WebhookAlerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatAlerter posts a compact text payload to a chat integration URL
// (Slack-compatible incoming webhook shape).
type ChatAlerter struct {
	url    string
	client *http.Client
}

// NewChatAlerter creates a chat channel. A blank url disables it.
func NewChatAlerter(url string) *ChatAlerter {
	return &ChatAlerter{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *ChatAlerter) Channel() string { return "chat" }
func (c *ChatAlerter) Enabled() bool   { return c.url != "" }

func (c *ChatAlerter) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Message)
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailAlerter hands alerts to the platform's outbound mail relay. The relay
// endpoint accepts the same JSON shape as the webhook channel.
type EmailAlerter struct {
	relayURL  string
	recipient string
	client    *http.Client
}

// NewEmailAlerter creates an email channel. Blank recipient disables it.
func NewEmailAlerter(relayURL, recipient string) *EmailAlerter {
	return &EmailAlerter{
		relayURL:  relayURL,
		recipient: recipient,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *EmailAlerter) Channel() string { return "email" }
func (e *EmailAlerter) Enabled() bool   { return e.recipient != "" && e.relayURL != "" }

func (e *EmailAlerter) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"to":      e.recipient,
		"subject": fmt.Sprintf("[finguard %s] %s", alert.Severity, alert.Title),
		"body":    alert.Message,
		"details": alert.Details,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.relayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}

// DashboardAlerter keeps the most recent alerts in memory for the admin API
type DashboardAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	limit  int
}

// NewDashboardAlerter creates the in-memory channel holding up to limit alerts
func NewDashboardAlerter(limit int) *DashboardAlerter {
	if limit <= 0 {
		limit = 200
	}
	return &DashboardAlerter{limit: limit}
}

func (d *DashboardAlerter) Channel() string { return "dashboard" }
func (d *DashboardAlerter) Enabled() bool   { return true }

func (d *DashboardAlerter) Send(ctx context.Context, alert Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alert)
	if len(d.alerts) > d.limit {
		d.alerts = d.alerts[len(d.alerts)-d.limit:]
	}
	return nil
}

// Recent returns the newest alerts, most recent last
func (d *DashboardAlerter) Recent(limit int) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.alerts) {
		limit = len(d.alerts)
	}
	out := make([]Alert, limit)
	copy(out, d.alerts[len(d.alerts)-limit:])
	return out
}
