package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/naturalis/percolator/internal/pkg/httpretry"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

// Notifier posts human-readable progress messages to a chat webhook.
type Notifier struct {
	webhookURL string
	client     *httpretry.RetryClient
}

// New returns a Notifier posting to webhookURL. An empty webhookURL
// yields a Notifier that is silent on every call, per §4.9.
func New(webhookURL string, timeout time.Duration, maxRetries int) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries),
	}
}

type payload struct {
	Text string `json:"text"`
}

// Notify posts msg to the configured webhook. A transport failure or a
// non-200 response is logged locally and never returned to the caller —
// the pipeline continues regardless (§7(b)).
func (n *Notifier) Notify(ctx context.Context, msg string) {
	if n == nil || n.webhookURL == "" {
		return
	}

	body, err := json.Marshal(payload{Text: msg})
	if err != nil {
		logger.Error("notify: encode message", "error", err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("notify: build request", "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Warn("notify: webhook unreachable", "error", err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("notify: webhook returned non-200", "error", fmt.Sprintf("status %d", resp.StatusCode))
	}
}

// JobStarted notifies that jobID began processing.
func (n *Notifier) JobStarted(ctx context.Context, jobID string) {
	n.Notify(ctx, fmt.Sprintf(":arrow_forward: job %s started", jobID))
}

// JobFinished notifies that jobID completed.
func (n *Notifier) JobFinished(ctx context.Context, jobID string) {
	n.Notify(ctx, fmt.Sprintf(":white_check_mark: job %s finished", jobID))
}

// JobFailed notifies of a fatal error during jobID.
func (n *Notifier) JobFailed(ctx context.Context, jobID string, err error) {
	n.Notify(ctx, fmt.Sprintf(":x: job %s failed: %s", jobID, err))
}
