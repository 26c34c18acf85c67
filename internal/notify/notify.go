// Package notify delivers webhook notifications for alerts that started
// sounding.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/config"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/resilience"
	"github.com/sells-group/refi-monitor/internal/template"
)

// Notification is the webhook payload for one alert.
type Notification struct {
	AlertID    string                   `json:"alert_id"`
	PropertyID string                   `json:"property_id"`
	Kind       template.Kind            `json:"kind"`
	Title      string                   `json:"title"`
	Message    string                   `json:"message"`
	Scenario   *model.RefinanceScenario `json:"scenario,omitempty"`
	LTV        *decimal.Decimal         `json:"ltv,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Notifier builds notifications from decisions and posts them to a webhook.
type Notifier struct {
	cfg     config.NotifyConfig
	client  *http.Client
	catalog *template.Catalog
	policy  resilience.Policy
}

// New creates a Notifier. Without a webhook URL, Dispatch is a no-op.
func New(cfg config.NotifyConfig) *Notifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := resilience.PolicyFromConfig(cfg.MaxRetries, cfg.RetryBaseDelayMs, 0)
	policy.OnRetry = resilience.LogRetry("notify", "webhook")
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		catalog: template.Default,
		policy:  policy,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.cfg.WebhookURL != "" }

// Build returns one notification per decision that moved an alert into
// sounding. Other decisions are ignored.
func (n *Notifier) Build(decisions []engine.Decision) []Notification {
	var out []Notification
	for _, d := range decisions {
		if !d.StartedSounding() {
			continue
		}
		title := string(d.Kind)
		if t, ok := n.catalog.Lookup(d.Kind); ok {
			title = t.Title
		}
		out = append(out, Notification{
			AlertID:    d.AlertID,
			PropertyID: d.PropertyID,
			Kind:       d.Kind,
			Title:      title,
			Message:    message(d),
			Scenario:   d.Scenario,
			LTV:        d.LTV,
			Timestamp:  d.EvaluatedAt,
		})
	}
	return out
}

func message(d engine.Decision) string {
	switch {
	case d.Scenario != nil:
		s := d.Scenario
		msg := fmt.Sprintf("Refinancing to %d months at %s%% saves $%s per month",
			s.TermMonths, s.NewRate.String(), s.MonthlySavings.StringFixed(2))
		if s.BreakEvenMonths != nil {
			msg += fmt.Sprintf(" and breaks even in %d months", *s.BreakEvenMonths)
		}
		return msg
	case d.LTV != nil:
		return fmt.Sprintf("Loan-to-value is now %s%%", d.LTV.StringFixed(2))
	default:
		return "Alert condition met"
	}
}

// Dispatch posts each notification to the webhook. Returns the number
// delivered; failures are logged and skipped.
func (n *Notifier) Dispatch(ctx context.Context, notes []Notification) int {
	if !n.Enabled() || len(notes) == 0 {
		return 0
	}

	sent := 0
	for _, note := range notes {
		err := resilience.Do(ctx, n.policy, func(ctx context.Context) error {
			return n.send(ctx, note)
		})
		if err != nil {
			zap.L().Error("notify: failed to send notification",
				zap.String("alert_id", note.AlertID),
				zap.String("kind", string(note.Kind)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: notification sent",
			zap.String("alert_id", note.AlertID),
			zap.String("kind", string(note.Kind)),
		)
		sent++
	}
	return sent
}

func (n *Notifier) send(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return eris.Wrap(err, "notify: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "notify: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	return resilience.CheckStatus("notify: webhook", resp.StatusCode)
}
