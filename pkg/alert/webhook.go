package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts alerts as JSON to an HTTP endpoint (chat integrations,
// paging services, and the like).
type WebhookSink struct {
	// URL is the webhook endpoint.
	URL string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds one delivery. Zero means 10 seconds.
	Timeout time.Duration

	// HTTPClient optionally overrides the default client.
	HTTPClient *http.Client
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	if s.URL == "" {
		return fmt.Errorf("webhook url required")
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	client := s.HTTPClient
	if client == nil {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSink) Name() string { return "webhook" }
