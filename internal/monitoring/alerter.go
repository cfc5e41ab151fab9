package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailure    AlertType = "run_failure"
	AlertCreditOverrun AlertType = "credit_overrun"
	AlertDLQGrowth     AlertType = "dlq_growth"
	AlertHourlyBudget  AlertType = "hourly_budget"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check failed runs.
	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d sourcing run(s) failed in last %dh",
				snap.RunsFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count": snap.RunsFailed,
				"total_runs":   snap.RunsTotal,
				"fail_rate":    snap.RunFailRate,
			},
			Timestamp: now,
		})
	}

	// Check credit overrun.
	if a.cfg.CreditThreshold > 0 && snap.CreditsUsed > a.cfg.CreditThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCreditOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Credit spend %.1f exceeds threshold %.1f in last %dh",
				snap.CreditsUsed, a.cfg.CreditThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"credits_used": snap.CreditsUsed,
				"threshold":    a.cfg.CreditThreshold,
				"runs_total":   snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// Check DLQ growth.
	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth > a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQGrowth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Dead letter queue depth %d exceeds threshold %d",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"dlq_depth": snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
	}

	// Check hourly request budget. Near-exhaustion means the next campaign
	// batch will stall until the window rolls over.
	if a.cfg.HourlyUtilizationThreshold > 0 && snap.HourlyRequestCap > 0 &&
		snap.HourlyUtilization >= a.cfg.HourlyUtilizationThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertHourlyBudget,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Hourly request budget at %.0f%% (%d/%d used)",
				snap.HourlyUtilization*100, snap.HourlyRequestsUsed, snap.HourlyRequestCap,
			),
			Details: map[string]any{
				"requests_used": snap.HourlyRequestsUsed,
				"request_cap":   snap.HourlyRequestCap,
				"utilization":   snap.HourlyUtilization,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
