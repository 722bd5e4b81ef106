// linkcleaner-gui is the desktop window for linkcleaner. It cleans through
// linkcleanerd when the daemon is reachable and follows its clipboard
// cleanings; otherwise it cleans in-process without a clipboard monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"linkcleaner/cmd/linkcleaner-gui/internal/theme"
	"linkcleaner/cmd/linkcleaner-gui/internal/ui"
	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/config"
	"linkcleaner/internal/coordinator"
	"linkcleaner/internal/ipc"
	"linkcleaner/internal/logging"
	"linkcleaner/internal/monitor"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	go func() {
		w := new(app.Window)
		w.Option(app.Title("Link Cleaner"))
		w.Option(app.Size(unit.Dp(720), unit.Dp(640)))

		if err := run(w, cfg); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func run(w *app.Window, cfg *config.Config) error {
	logCfg, err := logging.FromSettings(cfg.Logging, "linkcleaner-gui")
	if err != nil {
		return err
	}
	lg, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := coordinator.Deps{
		Clipboard: monitor.SystemClipboard(),
		Logger:    lg.WithComponent("coordinator"),
	}
	source := "lokal"
	client, err := dial(ctx, cfg, lg)
	if err == nil {
		defer client.Close()
		deps.Sanitizer = client
		deps.Monitor = client
		source = fmt.Sprintf("linkcleanerd %s", client.ServerVersion())
	} else {
		lg.Info("daemon not reachable, cleaning in-process", "error", err)
		deps.Sanitizer = cleaner.New(
			cleaner.WithExtraParams(cfg.Monitor.ExtraParams...),
			cleaner.WithExtraPrefixes(cfg.Monitor.ExtraPrefixes...),
		)
	}

	coord := coordinator.New(coordinator.Config{
		CopyFeedback:   cfg.Sync.CopyFeedback(),
		NoticeDuration: cfg.Sync.Notice(),
		PollInterval:   cfg.Sync.PollInterval(),
	}, deps)
	coord.OnChange(func(coordinator.State) { w.Invalidate() })
	go coord.Run(ctx)

	if client != nil {
		client.SetEventHandler(func(ev *ipc.Event) {
			if ev.Type != ipc.EventMonitorToggled {
				return
			}
			var st ipc.MonitorState
			if ipc.Decode(ev.Data, &st) == nil {
				coord.ObserveMonitor(st.Enabled)
			}
		})
	}

	t := theme.NewTheme(material.NewTheme())
	win := ui.NewWindow(t, coord, client != nil, source)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			win.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

func dial(ctx context.Context, cfg *config.Config, lg *logging.Logger) (*ipc.Client, error) {
	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = "linkcleaner-gui"
	ccfg.ClientVersion = version
	ccfg.Logger = lg.WithComponent("ipc")
	client := ipc.NewClient(ccfg)

	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
