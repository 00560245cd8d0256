// Package notify delivers the run summary to a webhook. Delivery is
// best-effort: failures are logged and swallowed, never escalated to the
// run's exit classification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"replwatch/internal/model"
)

// Notifier posts run summaries to a webhook URL.
type Notifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// New returns a Notifier, or nil when no URL is configured.
func New(url string, timeout time.Duration, log *zap.Logger) *Notifier {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// payload is the webhook body: the counts an operator cares about plus the
// full issue list.
type payload struct {
	RunID   string                   `json:"runId"`
	Mode    model.Mode               `json:"mode"`
	Outcome model.RunOutcome         `json:"outcome"`
	Score   int                      `json:"score"`
	Grade   string                   `json:"grade"`
	Counts  map[model.NodeStatus]int `json:"counts"`
	Issues  []model.Issue            `json:"issues,omitempty"`
}

// Send posts the summary. Errors are logged, never returned.
func (n *Notifier) Send(ctx context.Context, s *model.RunSummary) {
	if n == nil {
		return
	}
	body, err := json.Marshal(payload{
		RunID:   s.RunID,
		Mode:    s.Mode,
		Outcome: s.Outcome,
		Score:   s.Score.Value,
		Grade:   s.Score.Grade,
		Counts:  s.StatusCounts,
		Issues:  s.Issues,
	})
	if err != nil {
		n.log.Warn("notify: marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("notify: request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notify: delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("notify: webhook rejected summary",
			zap.String("status", fmt.Sprintf("%d", resp.StatusCode)))
		return
	}
	n.log.Debug("notify: summary delivered", zap.String("run_id", s.RunID))
}
