package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusLabelWidth aligns the values of printStatus lines, e.g. in
// `sangam status` and `sangam job`.
const statusLabelWidth = 12

// messages receives every user-facing notice; stdout is kept for command
// output such as answers and file listings so it can be piped.
var messages io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func notice(color, mark, format string, args ...any) {
	fmt.Fprintln(messages, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { notice(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { notice(colorYellow, "!", format, args...) }

func printStep(format string, args ...any) { notice(colorCyan, "→", format, args...) }

// printStatus writes an indented "label: value" line. The label is padded
// before colorizing so ANSI codes do not skew the alignment.
func printStatus(label, format string, args ...any) {
	padded := fmt.Sprintf("%-*s", statusLabelWidth, label+":")
	fmt.Fprintf(messages, "  %s %s\n", colorize(colorBold, padded), fmt.Sprintf(format, args...))
}
