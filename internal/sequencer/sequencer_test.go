package sequencer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/metrics"
)

// gatedSanitizer blocks each call until its text is released.
type gatedSanitizer struct {
	mu    sync.Mutex
	gates map[string]chan error
}

func newGated() *gatedSanitizer {
	return &gatedSanitizer{gates: make(map[string]chan error)}
}

func (g *gatedSanitizer) gate(text string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[text]
	if !ok {
		ch = make(chan error, 1)
		g.gates[text] = ch
	}
	return ch
}

func (g *gatedSanitizer) Sanitize(ctx context.Context, text string) (string, error) {
	if err := <-g.gate(text); err != nil {
		return "", err
	}
	return strings.ToUpper(text), nil
}

func (g *gatedSanitizer) release(text string, err error) { g.gate(text) <- err }

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) deliver(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func TestSlowThenFast(t *testing.T) {
	g := newGated()
	m := metrics.NewSyncMetrics(metrics.NewRegistry("test"))
	s := New(g, WithMetrics(m))
	rec := &recorder{}
	ctx := context.Background()

	idA := s.Submit(ctx, "a", rec.deliver)
	idB := s.Submit(ctx, "b", rec.deliver)
	require.Less(t, idA, idB)

	g.release("b", nil)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)

	g.release("a", nil)
	require.Eventually(t, func() bool { return m.SanitizeStale.Value() == 1 }, time.Second, time.Millisecond)

	results := rec.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, idB, results[0].RequestID)
	assert.Equal(t, "B", results[0].Text)
	assert.Equal(t, "b", results[0].Source)
}

func TestFailureDeliveredOnlyWhenCurrent(t *testing.T) {
	g := newGated()
	m := metrics.NewSyncMetrics(metrics.NewRegistry("test"))
	s := New(g, WithMetrics(m))
	rec := &recorder{}
	ctx := context.Background()
	boom := errors.New("boom")

	s.Submit(ctx, "old", rec.deliver)
	s.Submit(ctx, "new", rec.deliver)

	g.release("old", boom)
	require.Eventually(t, func() bool { return m.SanitizeStale.Value() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, rec.snapshot())

	g.release("new", boom)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rec.snapshot()[0].Err, boom)
	assert.Equal(t, uint64(1), m.SanitizeFailed.Value())
}

func TestArbitraryCompletionOrder(t *testing.T) {
	g := newGated()
	s := New(g)
	rec := &recorder{}
	ctx := context.Background()

	texts := []string{"t1", "t2", "t3", "t4", "t5"}
	var last uint64
	for _, text := range texts {
		last = s.Submit(ctx, text, rec.deliver)
	}

	for _, i := range []int{2, 4, 0, 3, 1} {
		g.release(texts[i], nil)
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	// Give the stragglers time to complete and be dropped.
	time.Sleep(20 * time.Millisecond)

	results := rec.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, last, results[0].RequestID)
	assert.Equal(t, "T5", results[0].Text)
}

func TestExecutorReceivesContinuation(t *testing.T) {
	posted := make(chan func(), 4)
	s := New(SanitizeFunc(func(_ context.Context, text string) (string, error) {
		return text + "!", nil
	}), WithExecutor(func(fn func()) { posted <- fn }))

	var got []Result
	s.Submit(context.Background(), "x", func(r Result) { got = append(got, r) })

	var fn func()
	select {
	case fn = <-posted:
	case <-time.After(time.Second):
		t.Fatal("continuation was not posted")
	}

	// Nothing is delivered until the owning loop runs the continuation.
	assert.Empty(t, got)
	fn()
	require.Len(t, got, 1)
	assert.Equal(t, "x!", got[0].Text)
}

func TestStalenessCheckedAtDelivery(t *testing.T) {
	posted := make(chan func(), 4)
	s := New(SanitizeFunc(func(_ context.Context, text string) (string, error) {
		return text, nil
	}), WithExecutor(func(fn func()) { posted <- fn }))

	var got []Result
	s.Submit(context.Background(), "first", func(r Result) { got = append(got, r) })
	fn := <-posted

	// A newer submit lands after completion but before the loop runs the
	// continuation; the older result must still be dropped.
	s.Submit(context.Background(), "second", func(r Result) { got = append(got, r) })
	fn()
	assert.Empty(t, got)

	(<-posted)()
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text)
	assert.True(t, s.IsCurrent(got[0].RequestID))
	assert.Equal(t, uint64(2), s.Current())
}
