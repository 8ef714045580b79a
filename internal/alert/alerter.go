// Package alert pushes operational alerts (poll failure streaks, prediction
// outages, recoveries) to Slack and generic webhooks.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Patchino76/ok-dashboard-sub002/internal/metrics"
)

// Type categorizes the kind of alert.
type Type string

const (
	TypePollFailing       Type = "POLL_FAILING"
	TypePredictionFailing Type = "PREDICTION_FAILING"
	TypeModelLoadFailed   Type = "MODEL_LOAD_FAILED"
	TypeRecovery          Type = "RECOVERY"
)

// Alert is a single alert event for one mill.
type Alert struct {
	Type    Type
	Mill    int
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter is the interface for sending alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Multi fans alerts out to several channels, suppressing repeats of the same
// alert type/mill within the cooldown window.
type Multi struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFn    func() time.Time
}

func NewMulti(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *Multi {
	return &Multi{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

func cooldownKey(a Alert) string {
	return string(a.Type) + ":" + strconv.Itoa(a.Mill)
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)

	m.mu.Lock()
	now := m.nowFn()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		return nil
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	metrics.AlertsFired.WithLabelValues(string(alert.Type)).Inc()

	var firstErr error
	for _, a := range m.alerters {
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed", "type", alert.Type, "mill", alert.Mill, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Slack sends alerts to a Slack incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Send(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	if alert.Type == TypeRecovery {
		emoji = ":white_check_mark:"
	}

	text := fmt.Sprintf("%s *[%s]* mill %d: %s\n%s",
		emoji, alert.Type, alert.Mill, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		text += "\n"
		for k, v := range alert.Fields {
			text += fmt.Sprintf("- *%s*: %s\n", k, v)
		}
	}

	return postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": text}, "slack")
}

// Webhook sends alerts to a generic HTTP endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"type":    string(alert.Type),
		"mill":    alert.Mill,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}

// Noop does nothing. Used when no alert channels are configured.
type Noop struct{}

func (Noop) Send(context.Context, Alert) error { return nil }
