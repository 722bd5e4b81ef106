package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"linkcleaner/internal/highlight"
)

// palette holds ANSI escapes; every field is empty when color is off.
type palette struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan, Strike string
}

var c palette

func initColors() {
	if *noColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return
	}
	c = palette{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
		Strike: "\033[9m",
	}
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError%s: %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s\n", c.Bold, title, c.Reset)
}

func printField(name string, value any) {
	fmt.Printf("  %s%-14s%s %v\n", c.Dim, name, c.Reset, value)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encode output: %v", err)
	}
}

// renderTerminal marks removed runs in red strike-through, or with
// [-...-] brackets when color is off.
func renderTerminal(doc highlight.Document, p palette) string {
	var b strings.Builder
	for _, run := range doc.Runs {
		switch {
		case !run.Removed:
			b.WriteString(run.Text)
		case p.Strike == "":
			b.WriteString("[-")
			b.WriteString(run.Text)
			b.WriteString("-]")
		default:
			b.WriteString(p.Red + p.Strike)
			b.WriteString(run.Text)
			b.WriteString(p.Reset)
		}
	}
	return b.String()
}

func onOff(enabled bool) string {
	if enabled {
		return c.Green + "ON" + c.Reset
	}
	return c.Yellow + "OFF" + c.Reset
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
