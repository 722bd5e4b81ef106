package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/config"
	"linkcleaner/internal/health"
	"linkcleaner/internal/ipc"
	"linkcleaner/internal/logging"
	"linkcleaner/internal/metrics"
	"linkcleaner/internal/monitor"
	"linkcleaner/internal/notify"
	"linkcleaner/internal/store"
	"linkcleaner/internal/web"
)

const pruneInterval = 10 * time.Minute

// daemonOptions replaces platform services in tests.
type daemonOptions struct {
	Accessor monitor.Accessor
	Notifier notify.Notifier
}

type daemon struct {
	cfg      *config.Config
	log      *logging.Logger
	logger   *slog.Logger
	registry *metrics.Registry
	sync     *metrics.SyncMetrics
	checker  *health.Checker

	accessor monitor.Accessor
	store    *store.Store
	monitor  *monitor.Monitor
	handler  *ipc.DaemonHandler
	server   *ipc.Server
	web      *web.Server
	notifier notify.Notifier
	retain   atomic.Int64

	closeOnce sync.Once
}

func newDaemon(cfg *config.Config, opts daemonOptions) (*daemon, error) {
	logCfg, err := logging.FromSettings(cfg.Logging, "linkcleanerd")
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	d := &daemon{
		cfg:      cfg,
		log:      log,
		logger:   log.Logger,
		registry: metrics.NewRegistry("linkcleaner"),
		checker:  health.NewChecker(),
		accessor: opts.Accessor,
		notifier: opts.Notifier,
	}
	d.sync = metrics.NewSyncMetrics(d.registry)
	d.retain.Store(int64(cfg.Store.Retain))
	if d.accessor == nil {
		d.accessor = monitor.SystemClipboard()
	}

	if err := d.build(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) build() error {
	cfg := d.cfg

	// Typed nils must not reach the interface-valued options below.
	var (
		events  monitor.EventStore
		ipcHist ipc.History
		webHist web.History
	)
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		d.store = st
		events, ipcHist, webHist = st, st, st
		d.prune()
	}

	cl := cleaner.New(
		cleaner.WithExtraParams(cfg.Monitor.ExtraParams...),
		cleaner.WithExtraPrefixes(cfg.Monitor.ExtraPrefixes...),
	)

	var err error
	d.monitor, err = monitor.New(monitor.Options{
		Accessor: d.accessor,
		Cleaner:  cl,
		Store:    events,
		Interval: cfg.Monitor.Interval(),
		Enabled:  cfg.Monitor.Enabled,
		ReadOnly: cfg.Monitor.ReadOnly,
		MaxBytes: cfg.Monitor.MaxBytes,
		Logger:   d.log.WithComponent("monitor"),
		Metrics:  d.sync,
	})
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	d.handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:  version,
		Cleaner:  cl,
		Monitor:  d.monitor,
		History:  ipcHist,
		Logger:   d.log.WithComponent("ipc"),
		OnToggle: d.toggledFromIPC,
	})

	if cfg.IPC.Enabled {
		perms, err := ipc.ParsePermissions(cfg.IPC.Permissions)
		if err != nil {
			return err
		}
		srvCfg := ipc.DefaultServerConfig(cfg.IPC.SocketPath)
		srvCfg.Version = version
		srvCfg.Permissions = perms
		srvCfg.MaxConnections = cfg.IPC.MaxConnections
		srvCfg.IdleTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second
		srvCfg.Logger = d.log.WithComponent("ipc")
		srvCfg.Metrics = d.sync
		d.server = ipc.NewServer(srvCfg, d.handler)
		d.handler.Bind(d.server)
	}

	if cfg.Web.Enabled {
		d.web, err = web.New(web.Config{
			Addr:           cfg.Web.Listen,
			AllowedOrigins: cfg.Web.AllowedOrigins,
			MaxBodyBytes:   cfg.Web.MaxBodyBytes,
			RateLimit:      cfg.Web.RateLimit,
			RateBurst:      cfg.Web.RateBurst,
		}, web.Deps{
			Cleaner:  cl,
			Monitor:  d.monitor,
			History:  webHist,
			Metrics:  d.registry,
			Sync:     d.sync,
			Health:   d.checker,
			Logger:   d.log.WithComponent("web"),
			OnToggle: d.toggledFromWeb,
		})
		if err != nil {
			return fmt.Errorf("create web server: %w", err)
		}
	}

	if d.notifier == nil {
		d.notifier = notify.Nop{}
		if cfg.Monitor.Notify {
			n, err := notify.New(cfg.Sync.Notice())
			if err != nil {
				d.logger.Warn("desktop notices disabled", "error", err)
			} else {
				d.notifier = n
			}
		}
	}

	d.registerChecks()
	return nil
}

func (d *daemon) registerChecks() {
	if d.store != nil {
		d.checker.Register(&health.Component{
			Name:     "store",
			Critical: true,
			Check:    health.PingCheck(func(context.Context) error { return d.store.Ping() }),
		})
	}
	d.checker.Register(&health.Component{
		Name: "clipboard",
		Check: health.DegradedOn(func(ctx context.Context) error {
			_, err := d.accessor.ReadText(ctx)
			return err
		}, monitor.ErrUnsupported),
	})
	if d.server != nil {
		d.checker.Register(&health.Component{
			Name:     "socket",
			Critical: true,
			Check: health.PingCheck(func(context.Context) error {
				if !ipc.IsSocketListening(d.server.SocketPath()) {
					return errors.New("socket not accepting connections")
				}
				return nil
			}),
		})
	}
}

// run starts every service and blocks until ctx is done or a service
// fails.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				d.logger.Error("service stopped", "service", name, "error", err)
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	spawn("ipc events", d.handler.Forward)
	spawn("notices", d.forwardNotices)
	if d.web != nil {
		spawn("web events", d.web.Forward)
		spawn("http", d.web.ListenAndServe)
	}

	d.monitor.Start()
	d.checker.SetReady(true)
	d.logger.Info("linkcleanerd started",
		"version", version,
		"monitor", d.monitor.Enabled(),
		"read_only", d.monitor.ReadOnly(),
		"history", d.cfg.Store.Path != "")

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			d.prune()
		}
	}

	d.checker.SetReady(false)
	d.monitor.Stop()
	cancel()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (d *daemon) forwardNotices(ctx context.Context) error {
	events, err := d.monitor.Subscribe(ctx)
	if err != nil {
		return err
	}
	notify.Forward(ctx, d.notifier, events, d.log.WithComponent("notify"))
	return nil
}

func (d *daemon) prune() {
	keep := int(d.retain.Load())
	if d.store == nil || keep <= 0 {
		return
	}
	removed, err := d.store.Prune(keep)
	if err != nil {
		d.logger.Warn("prune history failed", "error", err)
		return
	}
	if removed > 0 {
		d.logger.Debug("pruned history", "removed", removed)
	}
}

func (d *daemon) toggledFromIPC(enabled bool) {
	if d.web != nil {
		d.web.NotifyMonitorToggled(enabled)
	}
}

func (d *daemon) toggledFromWeb(enabled bool) {
	d.handler.NotifyMonitorToggled(enabled)
}

// applyConfig takes over the settings that can change at runtime. The
// rest need a restart.
func (d *daemon) applyConfig(old, cfg *config.Config) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil && level != d.log.Level() {
		d.log.SetLevel(level)
		d.logger.Info("log level changed", "level", level)
	}

	if cfg.Monitor.Enabled != old.Monitor.Enabled {
		applied := d.monitor.SetEnabled(cfg.Monitor.Enabled)
		d.handler.NotifyMonitorToggled(applied)
		if d.web != nil {
			d.web.NotifyMonitorToggled(applied)
		}
	}

	if cfg.Store.Retain != old.Store.Retain {
		d.retain.Store(int64(cfg.Store.Retain))
		d.prune()
	}

	if restartNeeded(old, cfg) {
		d.logger.Warn("some config changes take effect after a restart")
	}
}

func restartNeeded(old, cfg *config.Config) bool {
	return old.IPC != cfg.IPC ||
		old.Store.Path != cfg.Store.Path ||
		old.Web.Enabled != cfg.Web.Enabled ||
		old.Web.Listen != cfg.Web.Listen ||
		old.Web.RateLimit != cfg.Web.RateLimit ||
		old.Web.RateBurst != cfg.Web.RateBurst ||
		old.Monitor.IntervalMs != cfg.Monitor.IntervalMs ||
		old.Monitor.ReadOnly != cfg.Monitor.ReadOnly ||
		old.Logging.Output != cfg.Logging.Output ||
		old.Logging.FilePath != cfg.Logging.FilePath
}

// watchReloads rereads the config on SIGHUP and logs reload errors.
func (d *daemon) watchReloads(ctx context.Context, loader *config.Loader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d.logger.Info("reloading config", "path", loader.Path())
			loader.Reload()
		case err := <-loader.Errors():
			d.logger.Error("config reload failed, keeping current settings", "error", err)
		}
	}
}

func (d *daemon) close() {
	d.closeOnce.Do(func() {
		if d.server != nil {
			if err := d.server.Stop(); err != nil {
				d.logger.Warn("stop ipc server", "error", err)
			}
		}
		if d.notifier != nil {
			d.notifier.Close()
		}
		if d.store != nil {
			if err := d.store.Close(); err != nil {
				d.logger.Warn("close history", "error", err)
			}
		}
		d.logger.Info("linkcleanerd stopped")
		d.log.Close()
	})
}
