// Package alert delivers drift notifications to humans. Delivery is best
// effort: a failing sink is logged and never interrupts the monitoring
// loop.
package alert

import (
	"context"
	"log/slog"
	"time"
)

// Alert is one human-facing drift notification.
type Alert struct {
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	DriftShare  float64   `json:"driftShare"`
	Features    []string  `json:"features,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Sink delivers one alert somewhere.
type Sink interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans an alert out to every configured sink, logging failures
// instead of propagating them.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewNotifier creates a notifier. With no sinks, Notify is a no-op.
func NewNotifier(logger *slog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, logger: logger}
}

// Notify sends the alert to every sink. It never returns an error; the
// monitoring loop must not stall because a webhook is down.
func (n *Notifier) Notify(ctx context.Context, a Alert) {
	for _, sink := range n.sinks {
		if err := sink.Send(ctx, a); err != nil {
			n.logger.Error("alert delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("severity", a.Severity),
				slog.String("error", err.Error()))
		}
	}
}

// LogSink writes alerts to the structured log. It is always configured, so
// an alert is never silently lost even with no webhook set up.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Send(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	if a.Severity == "high" {
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, "drift alert",
		slog.String("severity", a.Severity),
		slog.String("message", a.Message),
		slog.Float64("driftShare", a.DriftShare),
		slog.Any("features", a.Features))
	return nil
}

func (s *LogSink) Name() string { return "log" }
