package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"

	"linkcleaner/internal/cleaner"
	"linkcleaner/internal/config"
	"linkcleaner/internal/highlight"
	"linkcleaner/internal/ipc"
	"linkcleaner/internal/reconcile"
)

// readText joins args, or reads stdin when there are none or the only one
// is "-".
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func newCleaner(cfg *config.Config) *cleaner.Cleaner {
	return cleaner.New(
		cleaner.WithExtraParams(cfg.Monitor.ExtraParams...),
		cleaner.WithExtraPrefixes(cfg.Monitor.ExtraPrefixes...),
	)
}

func cmdClean(args []string) {
	text, err := readText(args, os.Stdin)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Print(newCleaner(loadConfig()).Clean(text))
	if !strings.HasSuffix(text, "\n") {
		fmt.Println()
	}
}

func cmdReport(args []string) {
	text, err := readText(args, os.Stdin)
	if err != nil {
		fatalf("%v", err)
	}
	rep := newCleaner(loadConfig()).CleanWithReport(text)
	if *jsonOutput {
		printJSON(rep)
		return
	}

	fmt.Println(strings.TrimRight(rep.Output, "\n"))
	printSection("REPORT")
	printField("Links", rep.URLsFound)
	printField("Modified", rep.URLsModified)
	printField("Removed", rep.ParamsRemoved)
}

func cmdHighlight(args []string) {
	text, err := readText(args, os.Stdin)
	if err != nil {
		fatalf("%v", err)
	}
	cleaned := newCleaner(loadConfig()).Clean(text)
	doc := highlight.Align(text, cleaned)
	if *jsonOutput {
		printJSON(doc)
		return
	}
	fmt.Println(strings.TrimRight(renderTerminal(doc, c), "\n"))
}

// connect dials the daemon or exits with a hint.
func connect(cfg *config.Config) *ipc.Client {
	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = "linkcleanerctl"
	ccfg.ClientVersion = version
	client := ipc.NewClient(ccfg)

	ctx, cancel := context.WithTimeout(context.Background(), ccfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			printError("linkcleanerd is not running")
			fmt.Fprintf(os.Stderr, "  %sTip%s: start it with: linkcleanerd\n", c.Dim, c.Reset)
			os.Exit(1)
		}
		fatalf("Cannot connect to daemon: %v", err)
	}
	return client
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func cmdStatus() {
	client := connect(loadConfig())
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		fatalf("Failed to get status: %v", err)
	}
	if *jsonOutput {
		printJSON(st)
		return
	}

	printSection("DAEMON")
	printField("Version", c.Cyan+st.Version+c.Reset)
	printField("Started", st.StartedAt.Format(time.RFC3339))
	printField("Uptime", st.Uptime.Round(time.Second))
	printField("Clients", st.Clients)
	printField("Subscribers", st.Subscribers)

	printSection("MONITOR")
	printField("Cleaning", onOff(st.MonitorEnabled))
	if st.ReadOnly {
		printField("Mode", "read-only")
	}
	printField("Last event", st.LastEventID)

	printSection("HISTORY")
	printField("Stored", st.StoredEvents)
	printField("Removed", st.ParamsRemoved)
	fmt.Println()
}

func cmdMonitor(args []string) {
	client := connect(loadConfig())
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()

	var (
		enabled bool
		err     error
	)
	switch {
	case len(args) == 0:
		enabled, err = client.MonitorEnabled(ctx)
	case args[0] == "on":
		enabled, err = client.SetMonitorEnabled(ctx, true)
	case args[0] == "off":
		enabled, err = client.SetMonitorEnabled(ctx, false)
	default:
		fatalf("Usage: linkcleanerctl monitor [on|off]")
	}
	if err != nil {
		fatalf("%v", err)
	}
	if *jsonOutput {
		printJSON(ipc.MonitorState{Enabled: enabled})
		return
	}
	fmt.Printf("Clipboard monitor: %s\n", onOff(enabled))
}

func printEvent(ev reconcile.Event) {
	doc, _ := highlight.AlignChecked(ev.Original, ev.Cleaned)
	fmt.Printf("%s#%d%s %s%s%s  %d removed\n",
		c.Cyan, ev.ID, c.Reset,
		c.Dim, ev.At.Local().Format("15:04:05"), c.Reset,
		ev.ParamsRemoved)
	fmt.Printf("  %s\n", strings.TrimRight(renderTerminal(doc, c), "\n"))
}

func cmdLatest() {
	client := connect(loadConfig())
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()
	ev, ok, err := client.LatestCleaned(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if !ok {
		if *jsonOutput {
			printJSON(nil)
			return
		}
		fmt.Println("Nothing cleaned yet.")
		return
	}
	if *jsonOutput {
		printJSON(ev)
		return
	}
	printEvent(ev)
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", ipc.DefaultHistoryLimit, "number of events")
	fs.Parse(args)

	client := connect(loadConfig())
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()
	events, err := client.History(ctx, *limit)
	if err != nil {
		fatalf("%v", err)
	}
	if *jsonOutput {
		printJSON(events)
		return
	}
	if len(events) == 0 {
		fmt.Println("No history.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tREMOVED\tCLEANED")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
			ev.ID, ev.At.Local().Format("2006-01-02 15:04:05"), ev.ParamsRemoved, truncate(ev.Cleaned, 60))
	}
	w.Flush()
}

// cmdWatch follows the daemon's clipboard events through a reconciler, so
// events missed while the push stream reconnects are caught by polling.
func cmdWatch() {
	cfg := loadConfig()
	client := connect(cfg)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.SetEventHandler(func(ev *ipc.Event) {
		switch ev.Type {
		case ipc.EventMonitorToggled:
			var st ipc.MonitorState
			if ipc.Decode(ev.Data, &st) == nil {
				fmt.Printf("%smonitor%s %s\n", c.Dim, c.Reset, onOff(st.Enabled))
			}
		case ipc.EventDaemonShutdown:
			fmt.Printf("%sdaemon shutting down%s\n", c.Yellow, c.Reset)
		}
	})

	var startID uint64
	if st, err := client.Status(ctx); err == nil {
		startID = st.LastEventID
	}
	rec := reconcile.New(client, func(ev reconcile.Event) {
		if *jsonOutput {
			printJSON(ev)
			return
		}
		printEvent(ev)
	},
		reconcile.WithPollInterval(cfg.Sync.PollInterval()),
		reconcile.WithStartID(startID),
	)

	if !*jsonOutput {
		fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", cfg.IPC.SocketPath)
	}
	if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalf("%v", err)
	}
}

func cmdConfig(args []string) {
	if len(args) == 0 {
		fatalf("Usage: linkcleanerctl config <init|show>")
	}
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("config init", flag.ExitOnError)
		force := fs.Bool("force", false, "overwrite an existing file")
		fs.Parse(args[1:])

		if _, err := os.Stat(path); err == nil && !*force {
			fatalf("%s already exists (use -force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s\n", path)

	case "show":
		cfg := loadConfig()
		if *jsonOutput {
			printJSON(cfg)
			return
		}
		fmt.Printf("# %s\n", path)
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fatalf("%v", err)
		}

	default:
		fatalf("Unknown config command: %s", args[0])
	}
}
