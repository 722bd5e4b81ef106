package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcleaner/internal/config"
	"linkcleaner/internal/ipc"
)

type memClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *memClipboard) ReadText(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *memClipboard) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

func (c *memClipboard) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) Close() error { return nil }

func (n *countingNotifier) notices() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	// Unix socket paths are length-limited; t.TempDir can be too long.
	sockDir, err := os.MkdirTemp("", "lcd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Monitor.IntervalMs = 50
	cfg.IPC.SocketPath = filepath.Join(sockDir, "d.sock")
	cfg.Store.Path = filepath.Join(dir, "history.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "linkcleanerd.log")
	require.NoError(t, cfg.Validate())
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, opts daemonOptions) (*daemon, context.CancelFunc) {
	t.Helper()
	d, err := newDaemon(cfg, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	require.Eventually(t, func() bool { return ipc.IsSocketListening(cfg.IPC.SocketPath) },
		2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		d.close()
	})
	return d, cancel
}

func dial(t *testing.T, cfg *config.Config) *ipc.Client {
	t.Helper()
	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = "daemon-test"
	c := ipc.NewClient(ccfg)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDaemonCleansClipboard(t *testing.T) {
	cfg := testConfig(t)
	clip := &memClipboard{}
	notes := &countingNotifier{}
	startDaemon(t, cfg, daemonOptions{Accessor: clip, Notifier: notes})

	client := dial(t, cfg)
	ctx := context.Background()

	enabled, err := client.MonitorEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	clip.WriteText(ctx, "read https://example.com/a?utm_source=news&id=7 later")
	require.Eventually(t, func() bool {
		return clip.get() == "read https://example.com/a?id=7 later"
	}, 2*time.Second, 20*time.Millisecond)

	var ev struct {
		ok  bool
		cln string
	}
	require.Eventually(t, func() bool {
		e, ok, err := client.LatestCleaned(ctx)
		ev.ok, ev.cln = ok, e.Cleaned
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "read https://example.com/a?id=7 later", ev.cln)

	history, err := client.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	assert.Eventually(t, func() bool { return notes.notices() == 1 }, 2*time.Second, 20*time.Millisecond)

	out, err := client.Sanitize(ctx, "https://youtu.be/abc?si=xyz")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc", out)
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg, daemonOptions{Accessor: &memClipboard{}})

	second := cfg.Clone()
	second.Store.Path = filepath.Join(t.TempDir(), "other.db")
	d, err := newDaemon(second, daemonOptions{Accessor: &memClipboard{}})
	require.NoError(t, err)
	defer d.close()

	err = d.run(context.Background())
	assert.ErrorIs(t, err, ipc.ErrAlreadyRunning)
	assert.True(t, ipc.IsSocketListening(cfg.IPC.SocketPath))
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	d, _ := startDaemon(t, cfg, daemonOptions{Accessor: &memClipboard{}})

	client := dial(t, cfg)
	toggles := make(chan bool, 1)
	client.SetEventHandler(func(ev *ipc.Event) {
		if ev.Type != ipc.EventMonitorToggled {
			return
		}
		var st ipc.MonitorState
		if ipc.Decode(ev.Data, &st) == nil {
			toggles <- st.Enabled
		}
	})

	next := cfg.Clone()
	next.Logging.Level = "debug"
	next.Monitor.Enabled = false
	d.applyConfig(cfg, next)

	assert.Equal(t, "DEBUG", d.log.Level().String())
	assert.False(t, d.monitor.Enabled())
	select {
	case enabled := <-toggles:
		assert.False(t, enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("no toggle event")
	}
}

func TestRestartNeeded(t *testing.T) {
	old := config.DefaultConfig()

	same := old.Clone()
	same.Logging.Level = "debug"
	same.Monitor.Enabled = false
	same.Store.Retain = 10
	assert.False(t, restartNeeded(old, same))

	moved := old.Clone()
	moved.IPC.SocketPath = "/tmp/elsewhere.sock"
	assert.True(t, restartNeeded(old, moved))

	web := old.Clone()
	web.Web.Enabled = true
	assert.True(t, restartNeeded(old, web))
}

func TestDaemonWithoutHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = ""
	startDaemon(t, cfg, daemonOptions{Accessor: &memClipboard{}})

	client := dial(t, cfg)
	_, err := client.History(context.Background(), 5)
	var remote *ipc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ipc.ErrUnavailable, remote.Code)
}
