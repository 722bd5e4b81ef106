package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"linkcleaner/internal/config"
	"linkcleaner/internal/coordinator"
	"linkcleaner/internal/ipc"
	"linkcleaner/internal/logging"
)

// settleTimeout bounds the wait for the last line's result at EOF.
const settleTimeout = 5 * time.Second

// cmdLive feeds stdin lines into the coordinator as successive edits of
// one input. Results that arrive for superseded lines are dropped, so
// fast input prints only the outputs that are still current. Clipboard
// cleanings from the daemon are printed as they are reconciled.
func cmdLive() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := coordinator.Deps{Logger: logging.Discard()}
	client, err := dialOptional(ctx, cfg)
	if err == nil {
		defer client.Close()
		deps.Sanitizer = client
		deps.Monitor = client
		fmt.Fprintf(os.Stderr, "%susing linkcleanerd at %s%s\n", c.Dim, cfg.IPC.SocketPath, c.Reset)
	} else {
		deps.Sanitizer = newCleaner(cfg)
		fmt.Fprintf(os.Stderr, "%sdaemon not reachable, cleaning locally%s\n", c.Dim, c.Reset)
	}

	if err := runLive(ctx, cfg, deps, os.Stdin, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func dialOptional(ctx context.Context, cfg *config.Config) (*ipc.Client, error) {
	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = "linkcleanerctl live"
	ccfg.ClientVersion = version
	client := ipc.NewClient(ccfg)

	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// runLive drives a coordinator from in and prints applied results to out.
func runLive(ctx context.Context, cfg *config.Config, deps coordinator.Deps, in io.Reader, out io.Writer) error {
	coord := coordinator.New(coordinator.Config{
		CopyFeedback:   cfg.Sync.CopyFeedback(),
		NoticeDuration: cfg.Sync.Notice(),
		PollInterval:   cfg.Sync.PollInterval(),
	}, deps)

	var (
		applied  atomic.Uint64
		progress = make(chan struct{}, 1)
		lastClip uint64
		lastNote string
	)
	signalProgress := func() {
		select {
		case progress <- struct{}{}:
		default:
		}
	}
	coord.OnChange(func(s coordinator.State) {
		if s.RequestID > applied.Load() {
			applied.Store(s.RequestID)
			fmt.Fprintln(out, s.Output)
			signalProgress()
		}
		if s.ClipboardID != 0 && s.ClipboardID != lastClip {
			lastClip = s.ClipboardID
			fmt.Fprintf(out, "clipboard #%d: %s\n", s.ClipboardID, s.Output)
		}
		if s.Notice.Kind == coordinator.NoticeError && s.Notice.Message != lastNote {
			fmt.Fprintln(os.Stderr, s.Notice.Message)
			signalProgress()
		}
		lastNote = s.Notice.Message
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- coord.Run(runCtx) }()

	var last uint64
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		last = coord.SetInput(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	deadline := time.After(settleTimeout)
	for last != 0 && applied.Load() < last {
		select {
		case <-progress:
			if applied.Load() < last && lastFailed(coord) {
				last = 0
			}
		case <-deadline:
			return fmt.Errorf("no result for the last line within %s", settleTimeout)
		case <-ctx.Done():
			last = 0
		}
	}

	cancel()
	return <-done
}

func lastFailed(coord *coordinator.Coordinator) bool {
	return coord.Snapshot().Notice.Kind == coordinator.NoticeError
}
