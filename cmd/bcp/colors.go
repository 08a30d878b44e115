package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ANSI color codes (constants)
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	colorsEnabled = true
)

func init() {
	// Disable colors if NO_COLOR env var is set or output is not a terminal
	if os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout) {
		colorsEnabled = false
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Color helper functions
func colorize(color, text string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + ansiReset
}

func colorRed(text string) string    { return colorize(ansiRed, text) }
func colorGreen(text string) string  { return colorize(ansiGreen, text) }
func colorYellow(text string) string { return colorize(ansiYellow, text) }
func colorBlue(text string) string   { return colorize(ansiBlue, text) }
func colorCyan(text string) string   { return colorize(ansiCyan, text) }
func colorBold(text string) string   { return colorize(ansiBold, text) }
func colorDim(text string) string    { return colorize(ansiDim, text) }

// Output helpers
func printSuccess(message string) {
	fmt.Fprintln(stdout, colorGreen("✓")+" "+message)
}

func printError(message string) {
	fmt.Fprintln(stderr, colorRed("✗")+" "+message)
}

func printWarning(message string) {
	fmt.Fprintln(stdout, colorYellow("⚠")+" "+message)
}

func printInfo(message string) {
	fmt.Fprintln(stdout, colorBlue("ℹ")+" "+message)
}

func printStep(step int, total int, message string) {
	fmt.Fprintf(stdout, "[%s/%d] %s\n", colorCyan(fmt.Sprintf("%d", step)), total, message)
}

func printHeader(title string) {
	fmt.Fprintln(stdout, "\n"+colorBold(colorCyan(title)))
	fmt.Fprintln(stdout, colorDim(strings.Repeat("─", 40)))
}

// printTable pads on the plain text so colored headers stay aligned.
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprint(stdout, colorBold(h)+strings.Repeat(" ", widths[i]-len(h)+2))
	}
	fmt.Fprintln(stdout)

	for _, w := range widths {
		fmt.Fprint(stdout, strings.Repeat("─", w)+"  ")
	}
	fmt.Fprintln(stdout)

	for _, row := range rows {
		for i, cell := range row {
			fmt.Fprintf(stdout, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(stdout)
	}
}

// printProgress reports committed rows on stderr.
func printProgress(table string, committed int64, final bool) {
	if final {
		fmt.Fprintf(stderr, "  %s %d rows committed to %s\n", colorGreen("done"), committed, table)
		return
	}
	fmt.Fprintf(stderr, "  %s %d rows committed\n", colorDim("batch"), committed)
}
