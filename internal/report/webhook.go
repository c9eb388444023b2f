package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook HTTP delivery defaults.
const (
	webhookTimeout = 10 * time.Second
	// maxErrorBody caps how much of a rejected response is quoted in the error.
	maxErrorBody = 512
)

// WebhookSink sends the outcome as a JSON POST request to a URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a new webhook sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the outcome payload to the configured URL. The event type and
// run ID travel as headers so receivers can route without parsing the body.
func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	data, err := ev.Payload()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Deploywait-Event", ev.DetailType())
	if id := ev.RunID(); id != "" {
		req.Header.Set("X-Deploywait-Run", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
