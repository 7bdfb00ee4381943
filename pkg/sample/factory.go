package sample

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// New creates a source based on kind and a generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "http": generic HTTP source (see HTTPSource for config keys)
//
// client configures outbound requests (TLS, timeouts); nil selects a
// default client. Returns error if kind is unknown or required fields are
// missing.
func New(kind string, config map[string]string, client *http.Client) (Source, error) {
	switch kind {
	case "http":
		return newHTTP(config, client)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be http)", kind)
	}
}

// newHTTP creates an HTTP source from generic config.
//
// Recognized keys: url, method, body, headers (JSON object),
// timestampPath, predictionPath, confidencePath, timestampFormat,
// numericPaths (JSON object), categoricalPaths (JSON object),
// templateVars (JSON object).
func newHTTP(config map[string]string, client *http.Client) (Source, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http source requires 'url' config")
	}

	timestampPath := config["timestampPath"]
	predictionPath := config["predictionPath"]
	if timestampPath == "" || predictionPath == "" {
		return nil, fmt.Errorf("http source requires 'timestampPath' and 'predictionPath' config")
	}

	numericPaths, err := parseJSONMap(config["numericPaths"], "numericPaths")
	if err != nil {
		return nil, err
	}
	categoricalPaths, err := parseJSONMap(config["categoricalPaths"], "categoricalPaths")
	if err != nil {
		return nil, err
	}
	if len(numericPaths) == 0 && len(categoricalPaths) == 0 {
		return nil, fmt.Errorf("http source requires 'numericPaths' or 'categoricalPaths' config")
	}

	headers, err := parseJSONMap(config["headers"], "headers")
	if err != nil {
		return nil, err
	}
	templateVars, err := parseJSONMap(config["templateVars"], "templateVars")
	if err != nil {
		return nil, err
	}

	method := config["method"]
	if method == "" {
		method = "GET"
	}

	timestampFormat := config["timestampFormat"]
	if timestampFormat == "" {
		timestampFormat = "rfc3339"
	}

	return &HTTPSource{
		URL:              url,
		Method:           method,
		Headers:          headers,
		Body:             config["body"],
		TimestampPath:    timestampPath,
		PredictionPath:   predictionPath,
		ConfidencePath:   config["confidencePath"],
		NumericPaths:     numericPaths,
		CategoricalPaths: categoricalPaths,
		TimestampFormat:  timestampFormat,
		TemplateVars:     templateVars,
		HTTPClient:       client,
	}, nil
}

func parseJSONMap(raw, key string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid '%s' JSON: %w", key, err)
	}
	return m, nil
}
