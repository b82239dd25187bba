package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// A plain styler gets the notty style so pipes receive no escape sequences.
func NewRenderer(s *Styler) func(string) (string, error) {
	opt := glamour.WithAutoStyle() // Automatically detect light/dark background
	if !s.Colored() {
		opt = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(100))
	if err != nil {
		return func(markdown string) (string, error) {
			return markdown, nil
		}
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}
