package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the Stratum banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	// Layered palette, deepest stratum last
	lines := []struct {
		text  string
		color string
	}{
		{"  ___ _            _             ", "#818cf8"},
		{" / __| |_ _ _ __ _| |_ _  _ _ __ ", "#a78bfa"},
		{" \\__ \\  _| '_/ _` |  _| || | '  \\", "#c084fc"},
		{" |___/\\__|_| \\__,_|\\__|\\_,_|_|_|_|", "#e879f9"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
