package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/reconcile"
	"linkcleaner/internal/store"
)

type memClipboard struct {
	mu       sync.Mutex
	text     string
	writes   int
	writeErr error
}

func (c *memClipboard) ReadText(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *memClipboard) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.text = text
	c.writes++
	return nil
}

func (c *memClipboard) set(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

func (c *memClipboard) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func TestCheckCleansAndWritesBack(t *testing.T) {
	clip := &memClipboard{text: "https://x.com/?utm_source=a&id=1"}
	m, err := New(Options{Accessor: clip, Enabled: true})
	require.NoError(t, err)

	ev, ok := m.Check(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.ID)
	assert.Equal(t, "https://x.com/?id=1", ev.Cleaned)
	assert.Equal(t, 1, ev.ParamsRemoved)
	assert.Equal(t, "https://x.com/?id=1", clip.get())

	// Our own write-back is not a new copy.
	_, ok = m.Check(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, clip.writes)
}

func TestCheckIgnoresCleanContent(t *testing.T) {
	clip := &memClipboard{text: "no links here"}
	m, err := New(Options{Accessor: clip, Enabled: true})
	require.NoError(t, err)

	_, ok := m.Check(context.Background())
	assert.False(t, ok)
	_, ok = m.Latest()
	assert.False(t, ok)
}

func TestDisabledRemembersContent(t *testing.T) {
	clip := &memClipboard{text: "https://x.com/?fbclid=1"}
	m, err := New(Options{Accessor: clip})
	require.NoError(t, err)

	_, ok := m.Check(context.Background())
	assert.False(t, ok)

	// Enabling does not retroactively clean what was copied before.
	m.SetEnabled(true)
	_, ok = m.Check(context.Background())
	assert.False(t, ok)

	clip.set("https://y.com/?gclid=2")
	ev, ok := m.Check(context.Background())
	require.True(t, ok)
	assert.Equal(t, "https://y.com/", ev.Cleaned)
}

func TestReadOnlyDoesNotWrite(t *testing.T) {
	clip := &memClipboard{text: "https://x.com/?si=1"}
	m, err := New(Options{Accessor: clip, Enabled: true, ReadOnly: true})
	require.NoError(t, err)

	ev, ok := m.Check(context.Background())
	require.True(t, ok)
	assert.Equal(t, "https://x.com/", ev.Cleaned)
	assert.Equal(t, "https://x.com/?si=1", clip.get())
}

func TestWriteBackFailureEmitsNothing(t *testing.T) {
	clip := &memClipboard{text: "https://x.com/?si=1", writeErr: errors.New("no display")}
	m, err := New(Options{Accessor: clip, Enabled: true})
	require.NoError(t, err)

	_, ok := m.Check(context.Background())
	assert.False(t, ok)
	assert.Zero(t, m.LastID())
}

func TestIDsResumeFromStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Insert(&store.CleanedEvent{ID: 41, Original: "o", Cleaned: "c"}))

	clip := &memClipboard{text: "https://x.com/?utm_medium=a"}
	m, err := New(Options{Accessor: clip, Store: st, Enabled: true})
	require.NoError(t, err)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(41), latest.ID)

	ev, ok := m.Check(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(42), ev.ID)

	stored, err := st.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), stored.ID)
	assert.Equal(t, "https://x.com/", stored.Cleaned)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	clip := &memClipboard{}
	m, err := New(Options{Accessor: clip, Enabled: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := m.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers())

	clip.set("https://x.com/?ref=abc")
	m.Check(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, uint64(1), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event pushed")
	}

	cancel()
	require.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, time.Millisecond)
	_, open := <-events
	assert.False(t, open)
}

func TestStartStop(t *testing.T) {
	clip := &memClipboard{}
	m, err := New(Options{Accessor: clip, Enabled: true, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	m.Start()
	m.Start()
	clip.set("see https://x.com/?igshid=1.")
	require.Eventually(t, func() bool { return m.LastID() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "see https://x.com/.", clip.get())
	m.Stop()
	m.Stop()
}

func TestMonitorDrivesReconciler(t *testing.T) {
	clip := &memClipboard{}
	m, err := New(Options{Accessor: clip, Enabled: true})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []reconcile.Event
	r := reconcile.New(m, func(ev reconcile.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}, reconcile.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, time.Second, time.Millisecond)

	clip.set("https://x.com/?mc_cid=1")
	m.Check(context.Background())
	require.Eventually(t, func() bool { return r.LastAppliedID() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "https://x.com/", got[0].Cleaned)

	off, err := m.SetMonitorEnabled(ctx, false)
	require.NoError(t, err)
	assert.False(t, off)
}

// blockingStore holds Insert until released.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Insert(*store.CleanedEvent) error {
	close(s.entered)
	<-s.release
	return nil
}

func (s *blockingStore) MaxID() (uint64, error) { return 0, nil }

func (s *blockingStore) Latest() (*store.CleanedEvent, error) { return nil, store.ErrNotFound }

func TestSlowStoreDoesNotBlockReaders(t *testing.T) {
	st := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	clip := &memClipboard{text: "https://x.com/?utm_source=a"}
	m, err := New(Options{Accessor: clip, Store: st, Enabled: true})
	require.NoError(t, err)

	checked := make(chan struct{})
	go func() {
		defer close(checked)
		m.Check(context.Background())
	}()
	<-st.entered

	read := make(chan struct{})
	go func() {
		defer close(read)
		assert.True(t, m.Enabled())
		assert.Equal(t, uint64(1), m.LastID())
		ev, ok := m.Latest()
		assert.True(t, ok)
		assert.Equal(t, "https://x.com/", ev.Cleaned)
	}()

	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("readers blocked while the event was being persisted")
	}

	close(st.release)
	<-checked
}
