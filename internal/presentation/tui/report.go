package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
)

// SessionReport renders a session, and its result when known, as markdown.
func SessionReport(s *domain.Session, result *domain.ExecutionResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Session `%s`\n\n", s.ID)
	fmt.Fprintf(&sb, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Strategy | `%s` |\n", s.StrategyID)
	fmt.Fprintf(&sb, "| Phase | **%s** |\n", s.Phase)
	fmt.Fprintf(&sb, "| Owner | `%s` |\n", s.OwnerNodeID)
	fmt.Fprintf(&sb, "| Created | %s |\n", s.CreateTime.Format(time.RFC3339))
	fmt.Fprintf(&sb, "| Last update | %s |\n", s.LastUpdateTime.Format(time.RFC3339))

	sb.WriteString("\n## Phases\n\n")
	for _, p := range domain.Phases {
		at, ok := s.History[p]
		if !ok {
			continue
		}
		line := fmt.Sprintf("- %s at %s", p, at.Format(time.RFC3339))
		if n := s.Entries[p]; n > 1 {
			line += fmt.Sprintf(" (entered %d times)", n)
		}
		sb.WriteString(line + "\n")
	}

	if len(s.PhaseData) > 0 {
		sb.WriteString("\n## Phase data\n\n")
		keys := make([]string, 0, len(s.PhaseData))
		for k := range s.PhaseData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- `%s`: %v\n", k, s.PhaseData[k])
		}
	}

	if result != nil {
		sb.WriteString("\n## Result\n\n")
		if result.Success {
			sb.WriteString("Succeeded")
		} else {
			fmt.Fprintf(&sb, "Failed (%s): %s", result.ErrorKind, result.ErrorMessage)
		}
		fmt.Fprintf(&sb, " at %s\n", result.CompletionTime.Format(time.RFC3339))
		if result.Payload != nil {
			payload, err := json.MarshalIndent(result.Payload, "", "  ")
			if err == nil {
				fmt.Fprintf(&sb, "\n```json\n%s\n```\n", payload)
			}
		}
	}
	return sb.String()
}
