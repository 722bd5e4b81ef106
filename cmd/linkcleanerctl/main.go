// linkcleanerctl is the command-line front end for linkcleaner.
package main

import (
	"flag"
	"fmt"
	"os"

	"linkcleaner/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket (default: from config)")
	jsonOutput = flag.Bool("json", false, "print machine-readable JSON")
	noColor    = flag.Bool("no-color", false, "disable colored output")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	initColors()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "clean":
		cmdClean(args)
	case "report":
		cmdReport(args)
	case "highlight":
		cmdHighlight(args)
	case "status":
		cmdStatus()
	case "monitor":
		cmdMonitor(args)
	case "latest":
		cmdLatest()
	case "history":
		cmdHistory(args)
	case "watch":
		cmdWatch()
	case "live":
		cmdLive()
	case "mcp":
		cmdMCP()
	case "config":
		cmdConfig(args)
	case "version":
		fmt.Println("linkcleanerctl", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `linkcleanerctl - Strip tracking parameters from links

Usage: linkcleanerctl [options] <command> [args]

Commands:
  clean [text]           Print text with tracking parameters removed
  report [text]          Like clean, with counts of what was removed
  highlight [text]       Show the text with removed parts marked
  status                 Show daemon status
  monitor [on|off]       Show or set the clipboard monitor
  latest                 Show the last clipboard cleaning
  history [-n N]         List recent clipboard cleanings
  watch                  Follow clipboard cleanings as they happen
  live                   Clean stdin line by line through the sync core
  mcp                    Serve the cleaner as MCP tools on stdio
  config init [-force]   Write a default config file
  config show            Print the effective config
  version                Print version

Text is read from stdin when no argument is given or the argument is "-".

Options:`)
	flag.PrintDefaults()
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}
	if *socketPath != "" {
		cfg.IPC.SocketPath = *socketPath
	}
	return cfg
}

func fatalf(format string, args ...any) {
	printError(fmt.Sprintf(format, args...))
	os.Exit(1)
}
