package nats

import (
	"context"
	"log/slog"

	"github.com/brojonat/solwallet/service/lifecycle"
)

// ActionNotifier publishes orchestrator notifications as action events.
// Publishing failures are logged; they never fail the action.
type ActionNotifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewActionNotifier wraps publisher as a lifecycle.Notifier.
func NewActionNotifier(publisher Publisher, logger *slog.Logger) *ActionNotifier {
	return &ActionNotifier{publisher: publisher, logger: logger}
}

// Notify implements lifecycle.Notifier.
func (n *ActionNotifier) Notify(ctx context.Context, note lifecycle.Notification) {
	n.logger.InfoContext(ctx, note.Message,
		"action", string(note.Action),
		"level", string(note.Level),
		"signature", note.Signature,
	)

	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishAction(ctx, FromNotification(note)); err != nil {
		n.logger.WarnContext(ctx, "failed to publish action event",
			"action", string(note.Action),
			"signature", note.Signature,
			"error", err,
		)
	}
}
