package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/stratum/pkg/domain"
)

// GraphOverlay contains dynamic session data to visualize on the graph.
type GraphOverlay struct {
	VisitedPhases []domain.Phase
	CurrentPhase  domain.Phase
	Retries       map[domain.Phase]int
}

// OverlayFor builds the overlay of a session view.
func OverlayFor(s *domain.Session) *GraphOverlay {
	o := &GraphOverlay{CurrentPhase: s.Phase, Retries: make(map[domain.Phase]int)}
	for _, p := range domain.Phases {
		if _, ok := s.History[p]; ok {
			o.VisitedPhases = append(o.VisitedPhases, p)
		}
		if n := s.Entries[p]; n > 1 {
			o.Retries[p] = n - 1
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the session state machine.
// It applies semantic styling:
// - Initialized: ((Circle))
// - Terminal: ([Stadium])
// - Working phases: [Rectangle]
// Forward moves are solid, abort edges to FAILED/CANCELLED are dotted and re-entry is a self loop.
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, phase := range domain.Phases {
		safeID := sanitizeMermaidID(string(phase))

		opener, closer := "[", "]"
		switch {
		case phase == domain.PhaseInitialized:
			opener, closer = "((", "))"
		case phase.IsTerminal():
			opener, closer = "([", "])"
		}

		label := string(phase)
		if overlay != nil && overlay.Retries[phase] > 0 {
			label = fmt.Sprintf("%s <br/> retries: %d", phase, overlay.Retries[phase])
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))
	}

	for _, from := range domain.Phases {
		if from.IsTerminal() {
			continue
		}
		safeFrom := sanitizeMermaidID(string(from))
		for _, to := range domain.Phases {
			if !domain.CanTransition(from, to) {
				continue
			}
			safeTo := sanitizeMermaidID(string(to))
			arrow := "-->"
			switch {
			case from == to:
				arrow = "-- \"retry\" -->"
			case to == domain.PhaseFailed || to == domain.PhaseCancelled:
				arrow = "-.->"
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeFrom, arrow, safeTo))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		for _, p := range overlay.VisitedPhases {
			if p == overlay.CurrentPhase {
				continue
			}
			sb.WriteString(fmt.Sprintf("    class %s visited;\n", sanitizeMermaidID(string(p))))
		}
		if overlay.CurrentPhase != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(string(overlay.CurrentPhase))))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
