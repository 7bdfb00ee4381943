package sample

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSource is a generic source that pulls a window of production samples
// from any REST API and extracts fields using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body with variables: {{.WindowSeconds}}, {{.Start}}, {{.End}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - JSON path extraction using gjson syntax, one path per extracted field
//   - Flexible timestamp parsing (RFC3339, Unix seconds, Unix milliseconds)
//
// Example configuration for a prediction-log API:
//
//	src := &HTTPSource{
//	    URL: "https://serving.example.com/predictions/recent",
//	    TimestampPath:  "records.#.ts",
//	    PredictionPath: "records.#.prediction",
//	    ConfidencePath: "records.#.confidence",
//	    NumericPaths: map[string]string{
//	        "age":          "records.#.features.age",
//	        "poll_margin":  "records.#.features.poll_margin",
//	    },
//	    CategoricalPaths: map[string]string{
//	        "region": "records.#.features.region",
//	    },
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required).
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports variables:
	//   {{.WindowSeconds}} - the collection window in seconds
	//   {{.Start}}         - start time as Unix timestamp
	//   {{.End}}           - end time as Unix timestamp
	//   {{.StartRFC3339}}  - start time as RFC3339 string
	//   {{.EndRFC3339}}    - end time as RFC3339 string
	Body string

	// TimestampPath is the gjson path to extract timestamps.
	// Use "#" for arrays, e.g. "records.#.ts".
	TimestampPath string

	// PredictionPath is the gjson path to extract model predictions.
	// Must return the same number of elements as TimestampPath.
	PredictionPath string

	// ConfidencePath optionally extracts serving-time confidences.
	// If empty, confidence defaults to 0 for every sample.
	ConfidencePath string

	// NumericPaths maps feature names to gjson paths for numeric features.
	NumericPaths map[string]string

	// CategoricalPaths maps feature names to gjson paths for categorical
	// features.
	CategoricalPaths map[string]string

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers
	// templates. Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Collect implements Source. It calls the configured endpoint and extracts
// one Sample per element of the timestamp array, sorted oldest first.
func (h *HTTPSource) Collect(ctx context.Context, windowSeconds int) ([]Sample, error) {
	if h.URL == "" {
		return nil, errors.New("http source: URL is required")
	}
	if h.TimestampPath == "" || h.PredictionPath == "" {
		return nil, errors.New("http source: TimestampPath and PredictionPath are required")
	}
	if len(h.NumericPaths) == 0 && len(h.CategoricalPaths) == 0 {
		return nil, errors.New("http source: at least one feature path is required")
	}

	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	templateData := map[string]any{
		"WindowSeconds": windowSeconds,
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	respBody, err := h.fetch(ctx, templateData)
	if err != nil {
		return nil, err
	}

	timestamps := gjson.GetBytes(respBody, h.TimestampPath)
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}
	predictions := gjson.GetBytes(respBody, h.PredictionPath)
	if !predictions.Exists() {
		return nil, fmt.Errorf("prediction path %q not found in response", h.PredictionPath)
	}

	tsArray := timestamps.Array()
	predArray := predictions.Array()
	if len(tsArray) != len(predArray) {
		return nil, fmt.Errorf("timestamp count (%d) != prediction count (%d)", len(tsArray), len(predArray))
	}

	var confArray []gjson.Result
	if h.ConfidencePath != "" {
		conf := gjson.GetBytes(respBody, h.ConfidencePath)
		confArray = conf.Array()
		if len(confArray) != len(tsArray) {
			return nil, fmt.Errorf("confidence count (%d) != timestamp count (%d)", len(confArray), len(tsArray))
		}
	}

	numeric, err := h.extractFeatureColumns(respBody, h.NumericPaths, len(tsArray))
	if err != nil {
		return nil, err
	}
	categorical, err := h.extractFeatureColumns(respBody, h.CategoricalPaths, len(tsArray))
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(tsArray))
	for i := range tsArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}

		s := Sample{
			Timestamp:  ts,
			Prediction: predArray[i].Float(),
		}
		if confArray != nil {
			s.Confidence = confArray[i].Float()
		}

		if len(h.NumericPaths) > 0 {
			s.Numeric = make(map[string]float64, len(h.NumericPaths))
			for name := range h.NumericPaths {
				s.Numeric[name] = numeric[name][i].Float()
			}
		}
		if len(h.CategoricalPaths) > 0 {
			s.Categorical = make(map[string]string, len(h.CategoricalPaths))
			for name := range h.CategoricalPaths {
				s.Categorical[name] = categorical[name][i].String()
			}
		}

		samples = append(samples, s)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	return samples, nil
}

// fetch performs the HTTP request and returns the raw response body.
func (h *HTTPSource) fetch(ctx context.Context, templateData map[string]any) ([]byte, error) {
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}

// extractFeatureColumns resolves each configured feature path and verifies it
// yields the same number of elements as the timestamp column.
func (h *HTTPSource) extractFeatureColumns(body []byte, paths map[string]string, n int) (map[string][]gjson.Result, error) {
	columns := make(map[string][]gjson.Result, len(paths))
	for name, path := range paths {
		res := gjson.GetBytes(body, path)
		if !res.Exists() {
			return nil, fmt.Errorf("feature %q: path %q not found in response", name, path)
		}
		arr := res.Array()
		if len(arr) != n {
			return nil, fmt.Errorf("feature %q: count (%d) != timestamp count (%d)", name, len(arr), n)
		}
		columns[name] = arr
	}
	return columns, nil
}

// parseTimestamp parses a timestamp according to the configured format.
func (h *HTTPSource) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		sec := value.Float()
		return time.Unix(int64(sec), 0).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the source configuration is valid.
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}
	if h.PredictionPath == "" {
		return errors.New("predictionPath is required")
	}
	if len(h.NumericPaths) == 0 && len(h.CategoricalPaths) == 0 {
		return errors.New("at least one numeric or categorical feature path is required")
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}
