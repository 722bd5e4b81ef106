// linkcleanerd watches the clipboard and strips tracking parameters from
// copied links. It serves the cleaner, the monitor toggle and clipboard
// events to linkcleanerctl and linkcleaner-gui over a Unix socket, and
// optionally to browsers over HTTP.
//
//	linkcleanerd [-config path] [-log-level level]
//	linkcleanerd -version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"linkcleaner/internal/config"
	"linkcleaner/internal/ipc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: "+config.ConfigPath()+")")
	logLevel := flag.String("log-level", "", "override the configured log level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("linkcleanerd", version)
		return
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	d, err := newDaemon(cfg, daemonOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loader.OnChange(d.applyConfig)
	if err := loader.Watch(); err != nil {
		d.logger.Warn("config hot reload disabled", "path", path, "error", err)
	}
	defer loader.Close()
	go d.watchReloads(ctx, loader)

	err = d.run(ctx)
	d.close()
	if errors.Is(err, ipc.ErrAlreadyRunning) {
		fmt.Fprintln(os.Stderr, "linkcleanerd is already running")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
