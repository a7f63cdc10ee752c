package renewal

import (
	"context"
	"log/slog"
)

// Notifier delivers an out-of-band renewal notice (SMS, email). The
// transport is opaque; the session only learns ok-or-error.
type Notifier interface {
	Notify(ctx context.Context, channel, to, message string) error
}

// LogNotifier records notices to the log instead of sending them; the
// default when no delivery integration is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, channel, to, message string) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("renewal notice", "channel", channel, "to", to, "message", message)
	return nil
}
