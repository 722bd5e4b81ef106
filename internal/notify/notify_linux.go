//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsService   = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsInterface = "org.freedesktop.Notifications"
)

// dbusNotifier talks to the freedesktop notification daemon on the session
// bus. Successive notices replace the previous one.
type dbusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	timeout time.Duration

	mu     sync.Mutex
	lastID uint32
}

// New connects to the session bus. It returns ErrUnavailable when no bus
// or notification daemon is reachable.
func New(timeout time.Duration) (Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var hasOwner bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, notificationsService).Store(&hasOwner)
	if err != nil || !hasOwner {
		conn.Close()
		return nil, fmt.Errorf("%w: %s has no owner", ErrUnavailable, notificationsService)
	}

	return &dbusNotifier{
		conn:    conn,
		obj:     conn.Object(notificationsService, notificationsPath),
		timeout: timeout,
	}, nil
}

func (n *dbusNotifier) Notify(ctx context.Context, summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	call := n.obj.CallWithContext(ctx, notificationsInterface+".Notify", 0,
		AppName,
		n.lastID,
		"edit-clear",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(0))},
		int32(n.timeout/time.Millisecond),
	)
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	n.lastID = id
	return nil
}

func (n *dbusNotifier) Close() error {
	return n.conn.Close()
}
