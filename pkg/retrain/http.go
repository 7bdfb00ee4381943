package retrain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTrainer submits training runs to an external training service over
// HTTP. The service receives the spec as JSON and responds with the
// completed run's metrics, artifact reference, and training baseline.
//
// The request blocks until training completes, so the client timeout must
// cover the full run. Long-running services should sit behind a gateway
// that holds the connection open.
type HTTPTrainer struct {
	// URL is the training service endpoint.
	URL string

	// Headers are added to every request (e.g. authorization).
	Headers map[string]string

	// Timeout bounds one full training run. Zero means 30 minutes.
	Timeout time.Duration

	// HTTPClient optionally overrides the default client (useful for
	// testing). If set, its own timeout applies.
	HTTPClient *http.Client
}

// Train posts the spec and decodes the result.
func (t *HTTPTrainer) Train(ctx context.Context, spec Spec) (Result, error) {
	if t.URL == "" {
		return Result{}, fmt.Errorf("trainer url required")
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling train spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating train request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	client := t.HTTPClient
	if client == nil {
		timeout := t.Timeout
		if timeout == 0 {
			timeout = 30 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("training request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("training service returned status %d: %s", resp.StatusCode, string(data))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding train result: %w", err)
	}
	return result, nil
}
