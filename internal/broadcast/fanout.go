package broadcast

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout publishes each message to every configured transport. A failing
// transport does not stop delivery to the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier stands in for a chat channel when none is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, message string) error {
	n.Logger.Info("alert (no outbound notifier configured)", "message", message)
	return nil
}
