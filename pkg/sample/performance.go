package sample

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPPerformanceSource fetches recent model-performance metrics from a REST
// endpoint. Each configured metric is extracted from the response with a
// gjson path, e.g. {"accuracy": "metrics.accuracy", "auc": "metrics.auc"}.
//
// A 404 from the endpoint is treated as "no labeled feedback yet" and yields
// a nil map, since performance metrics are computed from delayed labels and
// are routinely absent.
type HTTPPerformanceSource struct {
	// URL is the endpoint to call (required).
	URL string

	// MetricPaths maps metric names to gjson paths (required, non-empty).
	MetricPaths map[string]string

	// Headers are custom HTTP headers to include in the request.
	Headers map[string]string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

// Fetch implements PerformanceSource.
func (p *HTTPPerformanceSource) Fetch(ctx context.Context) (map[string]float64, error) {
	if p.URL == "" {
		return nil, errors.New("performance source: URL is required")
	}
	if len(p.MetricPaths) == 0 {
		return nil, errors.New("performance source: MetricPaths is required")
	}

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	metrics := make(map[string]float64, len(p.MetricPaths))
	for name, path := range p.MetricPaths {
		res := gjson.GetBytes(respBody, path)
		if !res.Exists() {
			return nil, fmt.Errorf("metric %q: path %q not found in response", name, path)
		}
		metrics[name] = res.Float()
	}

	return metrics, nil
}
