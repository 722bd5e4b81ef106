// Package coordinator wires user edits, sanitize results and clipboard
// events into an editing surface and an output surface, and derives the
// affordance state the front end renders.
//
// All state mutation happens on one goroutine, the loop started by Run.
// Sanitize completions, reconciled clipboard events, clipboard writes,
// monitor toggles and timers are posted to that loop as closures.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"linkcleaner/internal/caret"
	"linkcleaner/internal/highlight"
	"linkcleaner/internal/metrics"
	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/sequencer"
	"linkcleaner/internal/surface"
)

// ErrNoClipboard is reported when Copy is used without a clipboard.
var ErrNoClipboard = errors.New("no clipboard available")

// ErrNoMonitor is reported when the monitor is toggled without one.
var ErrNoMonitor = errors.New("clipboard monitor not available")

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// NoticeKind classifies a transient notice.
type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeInfo
	NoticeError
)

// Notice is a transient, auto-clearing message.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// State is a read-only snapshot for the front end.
type State struct {
	Document highlight.Document
	Output   string

	HasOutput          bool
	CopyFeedbackActive bool
	MonitorEnabled     bool
	MonitorState       reconcile.ToggleState
	Notice             Notice

	RequestID       uint64
	ClipboardID     uint64
	HighlightFailed bool
}

// Config holds timings.
type Config struct {
	CopyFeedback   time.Duration
	NoticeDuration time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns the timings used by the front ends.
func DefaultConfig() Config {
	return Config{
		CopyFeedback:   1500 * time.Millisecond,
		NoticeDuration: 3 * time.Second,
		PollInterval:   reconcile.DefaultPollInterval,
	}
}

// Deps are the collaborators. Sanitizer is required; Monitor and
// Clipboard are optional and disable their features when nil.
type Deps struct {
	Sanitizer sequencer.Sanitizer
	Monitor   reconcile.Monitor
	Clipboard Clipboard
	Input     *surface.Buffer
	Output    *surface.Buffer
	Logger    *slog.Logger
	Metrics   *metrics.SyncMetrics
}

// Coordinator owns the surfaces and affordance state.
type Coordinator struct {
	cfg    Config
	input  *surface.Buffer
	output *surface.Buffer
	seq    *sequencer.Sequencer
	rec    *reconcile.Reconciler
	clip   Clipboard
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}

	// inputMu orders SetInput against result application so that a result
	// can never land between a text change and its submit.
	inputMu sync.Mutex

	// Loop-owned.
	state     State
	toggle    reconcile.Toggle
	copyGen   uint64
	noticeGen uint64

	mu        sync.RWMutex
	published State
	listeners []func(State)
}

// New builds a Coordinator. Call Run to start processing.
func New(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if cfg.CopyFeedback <= 0 {
		cfg.CopyFeedback = def.CopyFeedback
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = def.NoticeDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if deps.Input == nil {
		deps.Input = surface.NewBuffer()
	}
	if deps.Output == nil {
		deps.Output = surface.NewBuffer()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		input:  deps.Input,
		output: deps.Output,
		clip:   deps.Clipboard,
		logger: deps.Logger,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), 256),
		done:   make(chan struct{}),
	}

	c.seq = sequencer.New(deps.Sanitizer,
		sequencer.WithExecutor(c.post),
		sequencer.WithLogger(deps.Logger.With("component", "sequencer")),
		sequencer.WithMetrics(deps.Metrics),
	)
	if deps.Monitor != nil {
		c.rec = reconcile.New(deps.Monitor,
			func(ev reconcile.Event) { c.post(func() { c.applyClipboard(ev) }) },
			reconcile.WithPollInterval(cfg.PollInterval),
			reconcile.WithLogger(deps.Logger.With("component", "reconcile")),
			reconcile.WithMetrics(deps.Metrics),
		)
	}
	return c
}

// Input returns the editing surface.
func (c *Coordinator) Input() *surface.Buffer { return c.input }

// Output returns the output surface.
func (c *Coordinator) Output() *surface.Buffer { return c.output }

// Reconciler returns the clipboard reconciler, or nil without a monitor.
func (c *Coordinator) Reconciler() *reconcile.Reconciler { return c.rec }

// Run processes posted work until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.cancel()

	if c.rec != nil {
		go func() {
			if err := c.rec.Run(c.ctx); err != nil {
				c.logger.Debug("reconciler stopped", "error", err)
			}
		}()
		go c.readMonitorState()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// OnChange registers fn to be called on the loop goroutine after every
// state change. fn must not block.
func (c *Coordinator) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns the last published state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

func (c *Coordinator) publish() {
	c.state.HasOutput = strings.TrimSpace(c.output.Text()) != ""
	c.state.MonitorEnabled = c.toggle.Shown()
	c.state.MonitorState = c.toggle.State()

	c.mu.Lock()
	c.published = c.state
	listeners := append(([]func(State))(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(c.state)
	}
}

// SetInput replaces the editing surface text and submits it.
func (c *Coordinator) SetInput(text string) uint64 {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()

	id := c.seq.Submit(c.ctx, text, c.applySanitized)
	c.input.SetText(text)
	return id
}

// SetInputAt is SetInput for front ends that own their caret: the text,
// focus and caret offset are recorded together before the submit, so the
// result is applied against the caret the user actually had.
func (c *Coordinator) SetInputAt(text string, focused bool, offset int) uint64 {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()

	c.input.SetText(text)
	c.input.SetFocused(focused)
	if focused {
		c.input.SetCaret(offset)
	}
	return c.seq.Submit(c.ctx, text, c.applySanitized)
}

// Edit submits the editing surface's current text.
func (c *Coordinator) Edit() uint64 {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()
	return c.seq.Submit(c.ctx, c.input.Text(), c.applySanitized)
}

func (c *Coordinator) applySanitized(res sequencer.Result) {
	if res.Err != nil {
		c.setNotice(NoticeError, "sanitize failed: "+res.Err.Error())
		c.publish()
		return
	}

	doc, ok := highlight.AlignChecked(res.Source, res.Text)
	if !ok {
		c.logger.Warn("sanitized text is not a subsequence of its input, showing it unhighlighted",
			"request_id", res.RequestID)
	}

	c.inputMu.Lock()
	if !c.seq.IsCurrent(res.RequestID) {
		// SetInput ran between the staleness check and here.
		c.inputMu.Unlock()
		return
	}
	pos, focused := caret.Capture(c.input)
	c.input.SetDocument(doc)
	if focused {
		caret.Restore(c.input, pos)
	}
	c.inputMu.Unlock()

	c.output.SetText(res.Text)
	c.state.Document = doc
	c.state.Output = res.Text
	c.state.RequestID = res.RequestID
	c.state.HighlightFailed = !ok
	c.publish()
}

func (c *Coordinator) applyClipboard(ev reconcile.Event) {
	doc, ok := highlight.AlignChecked(ev.Original, ev.Cleaned)

	c.inputMu.Lock()
	c.input.SetDocument(doc)
	c.inputMu.Unlock()

	c.output.SetText(ev.Cleaned)
	c.state.Document = doc
	c.state.Output = ev.Cleaned
	c.state.ClipboardID = ev.ID
	c.state.HighlightFailed = !ok
	c.publish()
}

// Copy writes the output to the clipboard. It does nothing while there is
// no output.
func (c *Coordinator) Copy() {
	c.post(func() {
		if !c.state.HasOutput {
			return
		}
		if c.clip == nil {
			c.setNotice(NoticeError, ErrNoClipboard.Error())
			c.publish()
			return
		}

		text := c.state.Output
		go func() {
			err := c.clip.WriteText(c.ctx, text)
			c.post(func() { c.copied(err) })
		}()
	})
}

func (c *Coordinator) copied(err error) {
	if err != nil {
		c.logger.Warn("clipboard write failed", "error", err)
		c.setNotice(NoticeError, "copy failed: "+err.Error())
		c.publish()
		return
	}

	c.copyGen++
	gen := c.copyGen
	c.state.CopyFeedbackActive = true
	time.AfterFunc(c.cfg.CopyFeedback, func() {
		c.post(func() {
			if gen != c.copyGen {
				return
			}
			c.state.CopyFeedbackActive = false
			c.publish()
		})
	})
	c.publish()
}

// ToggleMonitor requests the monitor to be enabled or disabled. The new
// value is shown at once and rolled back if the request fails.
func (c *Coordinator) ToggleMonitor(enabled bool) {
	c.post(func() {
		if c.rec == nil {
			c.setNotice(NoticeError, ErrNoMonitor.Error())
			c.publish()
			return
		}

		ticket := c.toggle.Request(enabled)
		c.publish()

		go func() {
			applied, err := c.rec.SetMonitorEnabled(c.ctx, enabled)
			c.post(func() {
				if err != nil {
					if c.toggle.RollBack(ticket) {
						c.setNotice(NoticeError, "monitor toggle failed: "+err.Error())
					}
				} else {
					c.toggle.Confirm(ticket, applied)
				}
				c.publish()
			})
		}()
	})
}

// ObserveMonitor records a monitor state learned out of band, such as a
// pushed toggle notification from another client.
func (c *Coordinator) ObserveMonitor(enabled bool) {
	c.post(func() {
		c.toggle.Observe(enabled)
		c.publish()
	})
}

func (c *Coordinator) readMonitorState() {
	enabled, err := c.rec.MonitorEnabled(c.ctx)
	if err != nil {
		c.logger.Debug("reading monitor state failed", "error", err)
		return
	}
	c.ObserveMonitor(enabled)
}

func (c *Coordinator) setNotice(kind NoticeKind, msg string) {
	c.noticeGen++
	gen := c.noticeGen
	c.state.Notice = Notice{Kind: kind, Message: msg}
	time.AfterFunc(c.cfg.NoticeDuration, func() {
		c.post(func() {
			if gen != c.noticeGen {
				return
			}
			c.state.Notice = Notice{}
			c.publish()
		})
	})
}
