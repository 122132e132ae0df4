// Package ui holds terminal presentation helpers: a spinner, styles and TTY
// detection. Everything here writes to the writer it is given, so stdout can
// stay reserved for translation output.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleResult = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)

// Title renders a heading.
func Title(s string) string { return styleTitle.Render(s) }

// Muted renders secondary text.
func Muted(s string) string { return styleMuted.Render(s) }

// Result renders a translation for interactive display.
func Result(s string) string { return styleResult.Render(s) }

// Warn prints a warning line.
func Warn(w io.Writer, format string, args ...interface{}) {
	_, _ = warnColor.Fprintf(w, format+"\n", args...)
}

// Error prints an error line, followed by hint when it is not empty.
func Error(w io.Writer, err error, hint string) {
	_, _ = errorColor.Fprintf(w, "Error: %v\n", err)
	if hint != "" {
		fmt.Fprintln(w, Muted(hint))
	}
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// DisableColor turns off color output, for --plain and non-TTY output.
func DisableColor() {
	color.NoColor = true
	lipgloss.SetColorProfile(termenv.Ascii)
}
