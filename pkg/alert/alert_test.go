package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	name string
	sent []Alert
	err  error
}

func (s *recordingSink) Send(ctx context.Context, a Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func (s *recordingSink) Name() string { return s.name }

func TestNotifier_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	n := NewNotifier(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), a, b)

	n.Notify(context.Background(), Alert{Severity: "medium", Message: "drift"})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("sinks received %d/%d alerts, want 1/1", len(a.sent), len(b.sent))
	}
}

func TestNotifier_SinkFailureIsLoggedNotFatal(t *testing.T) {
	var logBuf bytes.Buffer
	failing := &recordingSink{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingSink{name: "ok"}
	n := NewNotifier(slog.New(slog.NewTextHandler(&logBuf, nil)), failing, healthy)

	n.Notify(context.Background(), Alert{Severity: "high", Message: "drift"})

	// The healthy sink still got the alert.
	if len(healthy.sent) != 1 {
		t.Errorf("healthy sink received %d alerts, want 1", len(healthy.sent))
	}
	// The failure is in the log.
	if !strings.Contains(logBuf.String(), "alert delivery failed") {
		t.Errorf("log missing delivery failure, got: %s", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), "broken") {
		t.Errorf("log missing sink name, got: %s", logBuf.String())
	}
}

func TestNotifier_NoSinks(t *testing.T) {
	n := NewNotifier(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	// Must not panic.
	n.Notify(context.Background(), Alert{Severity: "medium"})
}

func TestLogSink_SeverityMapsToLevel(t *testing.T) {
	var buf bytes.Buffer
	sink := &LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	if err := sink.Send(context.Background(), Alert{Severity: "high", Message: "bad"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("high severity logged at wrong level: %s", buf.String())
	}

	buf.Reset()
	if err := sink.Send(context.Background(), Alert{Severity: "medium", Message: "meh"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("medium severity logged at wrong level: %s", buf.String())
	}
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := &WebhookSink{URL: server.URL, HTTPClient: server.Client()}
	a := Alert{
		Severity:    "high",
		Message:     "aggregate drift detected",
		DriftShare:  0.4,
		Features:    []string{"age", "income"},
		EvaluatedAt: time.Now().Truncate(time.Second),
	}
	if err := sink.Send(context.Background(), a); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.Severity != "high" || got.DriftShare != 0.4 {
		t.Errorf("webhook received %+v", got)
	}
	if len(got.Features) != 2 {
		t.Errorf("features = %v", got.Features)
	}
}

func TestWebhookSink_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := &WebhookSink{URL: server.URL, HTTPClient: server.Client()}
	err := sink.Send(context.Background(), Alert{})
	if err == nil {
		t.Fatal("Send() expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status code", err)
	}
}

func TestWebhookSink_MissingURL(t *testing.T) {
	sink := &WebhookSink{}
	if err := sink.Send(context.Background(), Alert{}); err == nil {
		t.Fatal("Send() expected error for missing url")
	}
}
