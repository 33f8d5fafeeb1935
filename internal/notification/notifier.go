// Package notification delivers strategy reports to external
// channels. Delivery is fire-and-forget: callers log failures and
// keep trading.
package notification

import (
	"context"
	"log/slog"
)

// LogNotifier writes reports to the structured log. Useful for
// development and offline replay.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) PushText(_ context.Context, text string) error {
	n.log.Info(text)
	return nil
}

func (n *LogNotifier) PushReport(_ context.Context, name, report string) error {
	n.log.Info(report, slog.String("report", name))
	return nil
}
