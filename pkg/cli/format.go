// Package cli provides shared formatting helpers for the netpush CLI.
package cli

import (
	"os"
	"strings"
	"time"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green. Returns s unchanged when NO_COLOR is set.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow. Returns s unchanged when NO_COLOR is set.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red. Returns s unchanged when NO_COLOR is set.
func Red(s string) string { return paint("31", s) }

// Bold wraps s in ANSI bold. Returns s unchanged when NO_COLOR is set.
func Bold(s string) string { return paint("1", s) }

// Dim wraps s in ANSI dim. Returns s unchanged when NO_COLOR is set.
func Dim(s string) string { return paint("2", s) }

// Status colors a result or job status: green for success, yellow for
// cancelled or still running, red for everything else.
func Status(s string) string {
	switch s {
	case "success", "finished", "succeeded":
		return Green(s)
	case "cancelled", "running", "unverified":
		return Yellow(s)
	case "", "none", "-":
		return Dim("-")
	}
	return Red(s)
}

// Elapsed renders d rounded for a table column.
func Elapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// Truncate shortens s to width runes, marking the cut with "...".
func Truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
