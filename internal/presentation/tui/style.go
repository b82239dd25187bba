package tui

import (
	"io"
	"os"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Styler colours CLI output. It degrades to plain text when the output is not a terminal.
type Styler struct {
	profile termenv.Profile
}

// NewStyler detects whether w is a terminal and picks the colour profile accordingly.
func NewStyler(w io.Writer) *Styler {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &Styler{profile: termenv.ColorProfile()}
	}
	return &Styler{profile: termenv.Ascii}
}

// NewPlainStyler never emits escape sequences.
func NewPlainStyler() *Styler {
	return &Styler{profile: termenv.Ascii}
}

// Colored reports whether the styler emits colours.
func (s *Styler) Colored() bool {
	return s.profile != termenv.Ascii
}

var phaseColors = map[domain.Phase]string{
	domain.PhaseInitialized:   "#94a3b8",
	domain.PhasePlanning:      "#818cf8",
	domain.PhaseLabAllocation: "#a78bfa",
	domain.PhaseExecuting:     "#38bdf8",
	domain.PhaseValidating:    "#fbbf24",
	domain.PhaseCompleted:     "#4ade80",
	domain.PhaseFailed:        "#f87171",
	domain.PhaseCancelled:     "#fb923c",
}

// Phase renders a phase name in its colour, bold when terminal.
func (s *Styler) Phase(p domain.Phase) string {
	out := termenv.String(string(p))
	if s.profile == termenv.Ascii {
		return out.String()
	}
	if c, ok := phaseColors[p]; ok {
		out = out.Foreground(s.profile.Color(c))
	}
	if p.IsTerminal() {
		out = out.Bold()
	}
	return out.String()
}

// Success renders ok in green, anything else in red.
func (s *Styler) Success(ok bool, text string) string {
	if s.profile == termenv.Ascii {
		return text
	}
	color := phaseColors[domain.PhaseCompleted]
	if !ok {
		color = phaseColors[domain.PhaseFailed]
	}
	return termenv.String(text).Foreground(s.profile.Color(color)).String()
}

// Faint renders secondary information.
func (s *Styler) Faint(text string) string {
	if s.profile == termenv.Ascii {
		return text
	}
	return termenv.String(text).Faint().String()
}
