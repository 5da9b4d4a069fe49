package notification

import (
	"context"
	"log/slog"
)

const (
	// KindReconciliationStalled signals a provider event that exhausted its retries.
	KindReconciliationStalled = "reconciliation_stalled"
	// KindPurchaseApplied signals coins landing in a wallet.
	KindPurchaseApplied = "purchase_applied"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. Alerting
// pipelines pick them up from there.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. Stalled reconciliations
// are logged at error level.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if message.Kind == KindReconciliationStalled {
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
