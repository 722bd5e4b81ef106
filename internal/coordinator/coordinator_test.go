package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/highlight"
	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/sequencer"
)

// stripTracking removes "utm_source=x&" the way the real cleaner would.
func stripTracking(_ context.Context, text string) (string, error) {
	return strings.ReplaceAll(text, "utm_source=x&", ""), nil
}

type fakeClipboard struct {
	mu     sync.Mutex
	err    error
	writes []string
}

func (f *fakeClipboard) WriteText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeClipboard) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeMonitor struct {
	mu      sync.Mutex
	enabled bool
	setErr  error
	latest  *reconcile.Event
	push    chan reconcile.Event
}

func (f *fakeMonitor) MonitorEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeMonitor) SetMonitorEnabled(_ context.Context, v bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	f.enabled = v
	return v, nil
}

func (f *fakeMonitor) LatestCleaned(context.Context) (reconcile.Event, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return reconcile.Event{}, false, nil
	}
	return *f.latest, true, nil
}

func (f *fakeMonitor) Subscribe(ctx context.Context) (<-chan reconcile.Event, error) {
	out := make(chan reconcile.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.push:
				out <- ev
			}
		}
	}()
	return out, nil
}

func start(t *testing.T, cfg Config, deps Deps) *Coordinator {
	t.Helper()
	c := New(cfg, deps)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func TestEditAppliesHighlightAndOutput(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking)})

	c.SetInput("visit https://x.com/a?utm_source=x&id=1")
	require.Eventually(t, func() bool { return c.Snapshot().Output != "" }, time.Second, time.Millisecond)

	st := c.Snapshot()
	assert.Equal(t, "visit https://x.com/a?id=1", st.Output)
	assert.Equal(t, []string{"utm_source=x&"}, st.Document.Removed())
	assert.True(t, st.HasOutput)
	assert.Equal(t, "visit https://x.com/a?id=1", c.Output().Text())
	assert.Equal(t, "visit https://x.com/a?utm_source=x&id=1", c.Input().Text())
	assert.Len(t, c.Input().Segments(), 3)
}

func TestEditPreservesCaret(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking)})
	in := c.Input()

	c.SetInput("https://x.com/a?utm_source=x&id=1 end")
	in.SetFocused(true)
	in.SetCaret(34)
	c.Edit()

	require.Eventually(t, func() bool { return len(in.Segments()) == 3 }, time.Second, time.Millisecond)
	off, ok := in.CaretOffset()
	require.True(t, ok)
	assert.Equal(t, 34, off)
}

func TestStaleResultDiscarded(t *testing.T) {
	release := map[string]chan struct{}{"slow": make(chan struct{}), "fast": make(chan struct{})}
	san := sequencer.SanitizeFunc(func(_ context.Context, text string) (string, error) {
		<-release[text]
		return text + "-clean", nil
	})
	c := start(t, Config{}, Deps{Sanitizer: san})

	c.SetInput("slow")
	c.SetInput("fast")
	close(release["fast"])
	require.Eventually(t, func() bool { return c.Snapshot().Output == "fast-clean" }, time.Second, time.Millisecond)

	close(release["slow"])
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "fast-clean", c.Snapshot().Output)
	assert.Equal(t, "fast", c.Input().Text())
}

func TestSanitizeFailureKeepsOutput(t *testing.T) {
	fail := false
	var mu sync.Mutex
	san := sequencer.SanitizeFunc(func(_ context.Context, text string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return "", errors.New("backend down")
		}
		return text, nil
	})
	c := start(t, Config{NoticeDuration: 30 * time.Millisecond}, Deps{Sanitizer: san})

	c.SetInput("first")
	require.Eventually(t, func() bool { return c.Snapshot().Output == "first" }, time.Second, time.Millisecond)

	mu.Lock()
	fail = true
	mu.Unlock()
	c.SetInput("second")

	require.Eventually(t, func() bool { return c.Snapshot().Notice.Kind == NoticeError }, time.Second, time.Millisecond)
	assert.Equal(t, "first", c.Snapshot().Output)
	assert.Contains(t, c.Snapshot().Notice.Message, "backend down")

	require.Eventually(t, func() bool { return c.Snapshot().Notice.Kind == NoticeNone }, time.Second, time.Millisecond)
}

func TestCopyFeedbackDebounce(t *testing.T) {
	clip := &fakeClipboard{}
	c := start(t, Config{CopyFeedback: 200 * time.Millisecond}, Deps{
		Sanitizer: sequencer.SanitizeFunc(stripTracking),
		Clipboard: clip,
	})

	c.SetInput("hello")
	require.Eventually(t, func() bool { return c.Snapshot().HasOutput }, time.Second, time.Millisecond)

	c.Copy()
	require.Eventually(t, func() bool { return c.Snapshot().CopyFeedbackActive }, time.Second, time.Millisecond)

	// A second copy inside the window restarts the delay.
	time.Sleep(100 * time.Millisecond)
	c.Copy()
	require.Eventually(t, func() bool { return clip.count() == 2 }, time.Second, time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.True(t, c.Snapshot().CopyFeedbackActive, "feedback must outlive the first window")

	require.Eventually(t, func() bool { return !c.Snapshot().CopyFeedbackActive }, time.Second, 5*time.Millisecond)
}

func TestCopyDisabledWithoutOutput(t *testing.T) {
	clip := &fakeClipboard{}
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking), Clipboard: clip})

	c.SetInput("   ")
	require.Eventually(t, func() bool { return c.Snapshot().RequestID == 1 }, time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().HasOutput)

	c.Copy()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, clip.count())
	assert.False(t, c.Snapshot().CopyFeedbackActive)
}

func TestCopyFailureRaisesNotice(t *testing.T) {
	clip := &fakeClipboard{err: errors.New("permission denied")}
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking), Clipboard: clip})

	c.SetInput("text")
	require.Eventually(t, func() bool { return c.Snapshot().HasOutput }, time.Second, time.Millisecond)
	c.Copy()

	require.Eventually(t, func() bool { return c.Snapshot().Notice.Kind == NoticeError }, time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().CopyFeedbackActive)
	assert.Equal(t, "text", c.Snapshot().Output)
}

func TestClipboardEventWritesSurfaces(t *testing.T) {
	mon := &fakeMonitor{push: make(chan reconcile.Event, 4)}
	c := start(t, Config{PollInterval: 5 * time.Millisecond}, Deps{
		Sanitizer: sequencer.SanitizeFunc(stripTracking),
		Monitor:   mon,
	})

	mon.push <- reconcile.Event{ID: 3, Original: "https://y.com/?si=abc", Cleaned: "https://y.com/"}
	require.Eventually(t, func() bool { return c.Snapshot().ClipboardID == 3 }, time.Second, time.Millisecond)

	st := c.Snapshot()
	assert.Equal(t, "https://y.com/", st.Output)
	assert.Equal(t, "https://y.com/?si=abc", c.Input().Text())
	assert.Equal(t, []string{"?si=abc"}, st.Document.Removed())

	// The poll delivers the same id again: nothing changes.
	rev := c.Input().Revision()
	mon.mu.Lock()
	mon.latest = &reconcile.Event{ID: 3, Original: "https://y.com/?si=abc", Cleaned: "https://y.com/"}
	mon.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, rev, c.Input().Revision())
	assert.Equal(t, uint64(3), c.Reconciler().LastAppliedID())
}

func TestToggleMonitorRollsBack(t *testing.T) {
	mon := &fakeMonitor{push: make(chan reconcile.Event), setErr: errors.New("denied")}
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking), Monitor: mon})

	var mu sync.Mutex
	var seen []bool
	c.OnChange(func(s State) {
		mu.Lock()
		seen = append(seen, s.MonitorEnabled)
		mu.Unlock()
	})

	c.ToggleMonitor(true)
	require.Eventually(t, func() bool {
		return c.Snapshot().MonitorState == reconcile.ToggleRolledBack
	}, time.Second, time.Millisecond)

	assert.False(t, c.Snapshot().MonitorEnabled)
	assert.Equal(t, NoticeError, c.Snapshot().Notice.Kind)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, true, "optimistic value was shown before rollback")
}

func TestToggleMonitorConfirms(t *testing.T) {
	mon := &fakeMonitor{push: make(chan reconcile.Event)}
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking), Monitor: mon})

	c.ToggleMonitor(true)
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.MonitorEnabled && s.MonitorState == reconcile.ToggleConfirmed
	}, time.Second, time.Millisecond)

	on, _ := mon.MonitorEnabled(context.Background())
	assert.True(t, on)
}

func TestToggleWithoutMonitor(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking)})
	c.ToggleMonitor(true)
	require.Eventually(t, func() bool { return c.Snapshot().Notice.Kind == NoticeError }, time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().MonitorEnabled)
}

func TestNonSubsequenceFallsBack(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(func(context.Context, string) (string, error) {
		return "rewritten", nil
	})})

	c.SetInput("original")
	require.Eventually(t, func() bool { return c.Snapshot().Output == "rewritten" }, time.Second, time.Millisecond)
	st := c.Snapshot()
	assert.True(t, st.HighlightFailed)
	assert.Equal(t, highlight.Plain("original"), st.Document)
}

type toggleOutcome struct {
	applied bool
	err     error
}

// gatedMonitor holds each SetMonitorEnabled call until the test releases
// it with an outcome.
type gatedMonitor struct {
	*fakeMonitor
	pending chan chan toggleOutcome
}

func (g *gatedMonitor) SetMonitorEnabled(ctx context.Context, _ bool) (bool, error) {
	gate := make(chan toggleOutcome)
	g.pending <- gate
	select {
	case out := <-gate:
		return out.applied, out.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestToggleMonitorRollsBackToLastApplied(t *testing.T) {
	mon := &gatedMonitor{
		fakeMonitor: &fakeMonitor{push: make(chan reconcile.Event)},
		pending:     make(chan chan toggleOutcome, 2),
	}
	c := New(Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking), Monitor: mon})

	var mu sync.Mutex
	publishes := 0
	c.OnChange(func(State) {
		mu.Lock()
		publishes++
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return publishes
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})

	// Initial monitor state read.
	require.Eventually(t, func() bool { return count() >= 1 }, time.Second, time.Millisecond)

	c.ToggleMonitor(true)
	first := <-mon.pending
	c.ToggleMonitor(false)
	second := <-mon.pending

	before := count()
	first <- toggleOutcome{applied: true}
	require.Eventually(t, func() bool { return count() > before }, time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().MonitorEnabled, "latest request is still shown")

	second <- toggleOutcome{err: errors.New("denied")}
	require.Eventually(t, func() bool {
		return c.Snapshot().MonitorState == reconcile.ToggleRolledBack
	}, time.Second, time.Millisecond)
	assert.True(t, c.Snapshot().MonitorEnabled, "rolled back to the value the monitor applied")
}

func TestSetInputAtRecordsCaret(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking)})
	in := c.Input()

	c.SetInputAt("https://x.com/a?utm_source=x&id=1 end", true, 34)
	require.Eventually(t, func() bool { return len(in.Segments()) == 3 }, time.Second, time.Millisecond)

	off, ok := in.CaretOffset()
	require.True(t, ok)
	assert.Equal(t, 34, off)
	assert.Equal(t, "https://x.com/a?utm_source=x&id=1 end", in.Text())
}

func TestSetInputAtUnfocused(t *testing.T) {
	c := start(t, Config{}, Deps{Sanitizer: sequencer.SanitizeFunc(stripTracking)})
	in := c.Input()

	c.SetInputAt("https://x.com/a?utm_source=x&id=1", false, 5)
	require.Eventually(t, func() bool { return len(in.Segments()) == 3 }, time.Second, time.Millisecond)

	_, ok := in.CaretOffset()
	assert.False(t, ok)
}
