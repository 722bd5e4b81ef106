// Package reconcile merges clipboard-cleaned events arriving from a push
// subscription and from periodic polling into one ordered stream.
//
// Every event carries an id assigned by the monitor, strictly increasing
// over the monitor's lifetime. The reconciler remembers the highest id it
// has applied and drops anything at or below it, so it does not matter
// which channel delivers an event first or how often it is delivered.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"linkcleaner/internal/metrics"
)

// Event is one clipboard content cleaned by the background monitor.
type Event struct {
	ID            uint64    `json:"id"`
	Original      string    `json:"original"`
	Cleaned       string    `json:"cleaned"`
	ParamsRemoved int       `json:"params_removed,omitempty"`
	At            time.Time `json:"at"`
}

// Monitor is the background clipboard monitor as seen by the UI core.
type Monitor interface {
	MonitorEnabled(ctx context.Context) (bool, error)
	// SetMonitorEnabled returns the value actually applied, which may
	// differ from the requested one.
	SetMonitorEnabled(ctx context.Context, enabled bool) (bool, error)
	// LatestCleaned returns the most recent event; ok is false when the
	// monitor has not cleaned anything yet.
	LatestCleaned(ctx context.Context) (ev Event, ok bool, err error)
	// Subscribe returns a channel of pushed events. The channel is closed
	// when ctx ends or the push connection is lost.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// DefaultPollInterval is the pull cadence used when none is configured.
const DefaultPollInterval = 700 * time.Millisecond

// Reconciler owns lastAppliedID for one consumer.
type Reconciler struct {
	monitor  Monitor
	apply    func(Event)
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.SyncMetrics

	mu          sync.Mutex
	lastApplied uint64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPollInterval sets the pull cadence. Values of a second or more are
// accepted but defeat the purpose of the safety net.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithStartID seeds lastAppliedID, for consumers that already rendered
// events up to id.
func WithStartID(id uint64) Option {
	return func(r *Reconciler) { r.lastApplied = id }
}

// New returns a Reconciler that calls apply for every accepted event.
// apply runs while the reconciler holds its lock, which keeps applications
// in id order; it should hand the event off rather than block.
func New(monitor Monitor, apply func(Event), opts ...Option) *Reconciler {
	r := &Reconciler{
		monitor:  monitor,
		apply:    apply,
		interval: DefaultPollInterval,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Offer applies ev if its id is newer than anything applied so far and
// reports whether it was applied.
func (r *Reconciler) Offer(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID <= r.lastApplied {
		r.metrics.RecordClipboard(false)
		return false
	}
	r.lastApplied = ev.ID
	r.metrics.RecordClipboard(true)
	r.apply(ev)
	return true
}

// LastAppliedID returns the highest id applied so far.
func (r *Reconciler) LastAppliedID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// Run consumes the push channel and polls until ctx is done. A lost push
// subscription is re-established on the poll cadence.
func (r *Reconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.pollLoop(ctx)
	}()
	wg.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Reconciler) pushLoop(ctx context.Context) {
	for {
		events, err := r.monitor.Subscribe(ctx)
		if err != nil {
			r.logger.Debug("subscribe failed", "error", err)
		} else {
			for ev := range events {
				r.Offer(ev)
			}
			r.logger.Debug("push channel closed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll fetches the latest event once and offers it. Errors are counted and
// otherwise ignored.
func (r *Reconciler) Poll(ctx context.Context) {
	ev, ok, err := r.monitor.LatestCleaned(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.metrics.RecordPollError()
			r.logger.Debug("poll failed", "error", err)
		}
		return
	}
	if ok {
		r.Offer(ev)
	}
}

// MonitorEnabled reads the monitor's current state.
func (r *Reconciler) MonitorEnabled(ctx context.Context) (bool, error) {
	return r.monitor.MonitorEnabled(ctx)
}

// SetMonitorEnabled forwards a toggle to the monitor. Callers pair it with
// a Toggle to get optimistic display and rollback.
func (r *Reconciler) SetMonitorEnabled(ctx context.Context, enabled bool) (bool, error) {
	applied, err := r.monitor.SetMonitorEnabled(ctx, enabled)
	if err != nil {
		r.logger.Warn("monitor toggle failed", "requested", enabled, "error", err)
		return false, err
	}
	return applied, nil
}
