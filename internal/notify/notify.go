// Package notify shows a desktop notice when the clipboard monitor cleans
// a link.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"linkcleaner/internal/reconcile"
)

// AppName is the application name notices are posted under.
const AppName = "linkcleaner"

// ErrUnavailable is returned by New when the platform has no notification
// service.
var ErrUnavailable = errors.New("desktop notifications not available")

// Notifier posts desktop notices.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
	Close() error
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
func (Nop) Close() error                                 { return nil }

// Message formats the notice for a cleaned clipboard event.
func Message(ev reconcile.Event) (summary, body string) {
	summary = "Link bereinigt"
	if ev.ParamsRemoved > 0 {
		body = fmt.Sprintf("%d Parameter entfernt", ev.ParamsRemoved)
	} else {
		body = "Tracking entfernt"
	}
	return summary, body
}

// Forward posts a notice for every event until events is closed or ctx is
// done. Failed notices are logged and skipped.
func Forward(ctx context.Context, n Notifier, events <-chan reconcile.Event, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			summary, body := Message(ev)
			if err := n.Notify(ctx, summary, body); err != nil {
				logger.Warn("desktop notice failed", "event_id", ev.ID, "error", err)
			}
		}
	}
}
