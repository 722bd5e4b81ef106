// Package monitor watches the system clipboard, removes tracking
// parameters from copied links and publishes every rewrite as an event
// with a strictly increasing id.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/metrics"
	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/store"
)

// EventStore persists events and provides the id to resume from.
type EventStore interface {
	Insert(e *store.CleanedEvent) error
	MaxID() (uint64, error)
	Latest() (*store.CleanedEvent, error)
}

// Options configures a Monitor. Zero values select defaults.
type Options struct {
	Accessor Accessor
	Cleaner  *cleaner.Cleaner
	Store    EventStore

	Interval time.Duration
	Enabled  bool
	// ReadOnly reports cleaned text as events without writing it back.
	ReadOnly bool
	// MaxBytes skips clipboard contents larger than this.
	MaxBytes int

	Logger  *slog.Logger
	Metrics *metrics.SyncMetrics
}

const (
	defaultInterval = 250 * time.Millisecond
	defaultMaxBytes = 1 << 20
	subscriberQueue = 16
)

// Monitor polls the clipboard. It implements reconcile.Monitor so an
// in-process front end can consume it directly.
type Monitor struct {
	accessor Accessor
	cleaner  *cleaner.Cleaner
	store    EventStore
	interval time.Duration
	readOnly bool
	maxBytes int
	logger   *slog.Logger
	metrics  *metrics.SyncMetrics

	mu          sync.RWMutex
	enabled     bool
	lastID      uint64
	latest      *reconcile.Event
	fingerprint [32]byte
	subs        map[uint64]chan reconcile.Event
	nextSub     uint64

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a monitor, resuming ids above the store's highest id.
func New(opts Options) (*Monitor, error) {
	if opts.Accessor == nil {
		opts.Accessor = SystemClipboard()
	}
	if opts.Cleaner == nil {
		opts.Cleaner = cleaner.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	m := &Monitor{
		accessor: opts.Accessor,
		cleaner:  opts.Cleaner,
		store:    opts.Store,
		interval: opts.Interval,
		readOnly: opts.ReadOnly,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		enabled:  opts.Enabled,
		subs:     make(map[uint64]chan reconcile.Event),
	}

	if m.store != nil {
		id, err := m.store.MaxID()
		if err != nil {
			return nil, fmt.Errorf("resume event id: %w", err)
		}
		m.lastID = id

		latest, err := m.store.Latest()
		switch {
		case err == nil:
			ev := fromStore(latest)
			m.latest = &ev
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("load latest event: %w", err)
		}
	}
	return m, nil
}

// Start begins polling. It is a no-op if already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.pollLoop()
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}

func (m *Monitor) pollLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*m.interval+time.Second)
			m.Check(ctx)
			cancel()
		}
	}
}

// Check reads the clipboard once and cleans it if it changed. Content
// seen while the monitor is disabled is remembered but not cleaned.
func (m *Monitor) Check(ctx context.Context) (reconcile.Event, bool) {
	text, err := m.accessor.ReadText(ctx)
	if err != nil {
		m.logger.Debug("clipboard read failed", "error", err)
		return reconcile.Event{}, false
	}

	fp := blake2b.Sum256([]byte(text))

	m.mu.Lock()
	if fp == m.fingerprint {
		m.mu.Unlock()
		return reconcile.Event{}, false
	}
	m.fingerprint = fp
	enabled := m.enabled
	m.mu.Unlock()

	if !enabled || len(text) > m.maxBytes {
		return reconcile.Event{}, false
	}

	rep := m.cleaner.CleanWithReport(text)
	if !rep.Changed() {
		return reconcile.Event{}, false
	}

	if !m.readOnly {
		if err := m.accessor.WriteText(ctx, rep.Output); err != nil {
			m.logger.Warn("clipboard write-back failed", "error", err)
			return reconcile.Event{}, false
		}
		// The next read returns our own output; do not treat it as new.
		m.mu.Lock()
		m.fingerprint = blake2b.Sum256([]byte(rep.Output))
		m.mu.Unlock()
	}

	return m.emit(text, rep), true
}

func (m *Monitor) emit(original string, rep cleaner.Report) reconcile.Event {
	m.mu.Lock()
	m.lastID++
	ev := reconcile.Event{
		ID:            m.lastID,
		Original:      original,
		Cleaned:       rep.Output,
		ParamsRemoved: rep.ParamsRemoved,
		At:            time.Now(),
	}
	latest := ev
	m.latest = &latest

	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Pollers recover the latest event.
			m.logger.Debug("subscriber queue full, dropping push", "subscriber", id, "event", ev.ID)
		}
	}
	m.mu.Unlock()

	// Persisted outside the lock; only the poll goroutine emits, so inserts
	// stay in id order.
	if m.store != nil {
		if err := m.store.Insert(&store.CleanedEvent{
			ID:            ev.ID,
			Original:      ev.Original,
			Cleaned:       ev.Cleaned,
			ParamsRemoved: ev.ParamsRemoved,
			CreatedAt:     ev.At,
		}); err != nil {
			m.logger.Error("persist event failed", "id", ev.ID, "error", err)
		}
	}

	m.metrics.RecordCleaned(rep.ParamsRemoved)
	m.logger.Info("clipboard cleaned", "id", ev.ID, "params_removed", rep.ParamsRemoved)
	return ev
}

// Enabled reports whether the monitor rewrites the clipboard.
func (m *Monitor) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetEnabled turns cleaning on or off and returns the applied value.
func (m *Monitor) SetEnabled(enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled != enabled {
		m.logger.Info("monitor toggled", "enabled", enabled)
	}
	m.enabled = enabled
	return m.enabled
}

// Latest returns the most recent event.
func (m *Monitor) Latest() (reconcile.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return reconcile.Event{}, false
	}
	return *m.latest, true
}

// ReadOnly reports whether cleaned text is left off the clipboard.
func (m *Monitor) ReadOnly() bool { return m.readOnly }

// LastID returns the id of the most recent event.
func (m *Monitor) LastID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastID
}

// MonitorEnabled implements reconcile.Monitor.
func (m *Monitor) MonitorEnabled(context.Context) (bool, error) {
	return m.Enabled(), nil
}

// SetMonitorEnabled implements reconcile.Monitor.
func (m *Monitor) SetMonitorEnabled(_ context.Context, enabled bool) (bool, error) {
	return m.SetEnabled(enabled), nil
}

// LatestCleaned implements reconcile.Monitor.
func (m *Monitor) LatestCleaned(context.Context) (reconcile.Event, bool, error) {
	ev, ok := m.Latest()
	return ev, ok, nil
}

// Subscribe implements reconcile.Monitor. The channel is closed when ctx
// is done. Slow subscribers miss pushes rather than stall the monitor.
func (m *Monitor) Subscribe(ctx context.Context) (<-chan reconcile.Event, error) {
	ch := make(chan reconcile.Event, subscriberQueue)

	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func fromStore(e *store.CleanedEvent) reconcile.Event {
	return reconcile.Event{
		ID:            e.ID,
		Original:      e.Original,
		Cleaned:       e.Cleaned,
		ParamsRemoved: e.ParamsRemoved,
		At:            e.CreatedAt,
	}
}
