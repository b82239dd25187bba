package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/aretw0/stratum/internal/presentation/tui"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/migration"
)

// Output formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Printer renders command results in the selected format.
type Printer struct {
	w      io.Writer
	format string
	style  *tui.Styler
}

// NewPrinter creates a printer writing to w. Colours are only used when w is a terminal.
func NewPrinter(w io.Writer, format string) *Printer {
	if format == "" {
		format = FormatText
	}
	return &Printer{w: w, format: format, style: tui.NewStyler(w)}
}

// Sessions prints a listing of session views.
func (p *Printer) Sessions(sessions []*domain.Session) error {
	if p.format == FormatJSON {
		summaries := make([]domain.SessionSummary, 0, len(sessions))
		for _, s := range sessions {
			summaries = append(summaries, s.Summary())
		}
		return PrintJSON(p.w, summaries)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(p.w, "No active sessions found.")
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTRATEGY\tPHASE\tOWNER\tIDLE")
	now := time.Now()
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.StrategyID, p.style.Phase(s.Phase), s.OwnerNodeID,
			p.style.Faint(s.IdleFor(now).Truncate(time.Second).String()))
	}
	return tw.Flush()
}

// Session prints one session, with its result when known.
func (p *Printer) Session(s *domain.Session, result *domain.ExecutionResult) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.w, map[string]any{"session": s, "result": result})
	case FormatMarkdown:
		out, err := tui.NewRenderer(p.style)(tui.SessionReport(s, result))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(p.w, out)
		return err
	}

	fmt.Fprintf(p.w, "Session:   %s\n", s.ID)
	fmt.Fprintf(p.w, "Strategy:  %s\n", s.StrategyID)
	fmt.Fprintf(p.w, "Phase:     %s\n", p.style.Phase(s.Phase))
	fmt.Fprintf(p.w, "Owner:     %s\n", s.OwnerNodeID)
	fmt.Fprintf(p.w, "Created:   %s\n", s.CreateTime.Format(time.RFC3339))
	fmt.Fprintf(p.w, "Updated:   %s\n", s.LastUpdateTime.Format(time.RFC3339))
	if len(s.PhaseData) > 0 {
		fmt.Fprintln(p.w, "Phase data:")
		keys := make([]string, 0, len(s.PhaseData))
		for k := range s.PhaseData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(p.w, "  %s = %v\n", k, s.PhaseData[k])
		}
	}
	if result != nil {
		return p.Result(result)
	}
	return nil
}

// Result prints a stored execution result.
func (p *Printer) Result(r *domain.ExecutionResult) error {
	if p.format == FormatJSON {
		return PrintJSON(p.w, r)
	}
	if r.Success {
		fmt.Fprintf(p.w, "Result:    %s\n", p.style.Success(true, "success"))
	} else {
		fmt.Fprintf(p.w, "Result:    %s (%s) %s\n", p.style.Success(false, "failure"), r.ErrorKind, r.ErrorMessage)
	}
	if r.Payload != nil {
		fmt.Fprintln(p.w, "Payload:")
		return PrintJSON(p.w, r.Payload)
	}
	return nil
}

// Event prints one lifecycle event on a single line.
func (p *Printer) Event(e domain.Event) error {
	if p.format == FormatJSON {
		return PrintJSON(p.w, e)
	}
	line := fmt.Sprintf("%s %-18s session=%s strategy=%s node=%s",
		p.style.Faint(e.Timestamp.Format(time.RFC3339)), e.Type, e.SessionID, e.StrategyID, e.NodeID)
	if phase, ok := e.Payload["phase"].(string); ok {
		line += " phase=" + p.style.Phase(domain.Phase(phase))
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

// Cleanup prints a cleanup pass.
func (p *Printer) Cleanup(r *migration.CleanupReport) error {
	if p.format == FormatJSON {
		return PrintJSON(p.w, map[string]any{
			"cutoff":   r.Cutoff,
			"outcomes": r.Outcomes,
			"errors":   errorStrings(r.Errors),
		})
	}
	fmt.Fprintf(p.w, "Cutoff: %s\n", r.Cutoff.Format(time.RFC3339))
	fmt.Fprintf(p.w, "Abandoned: %d  Active: %d  Pruned: %d  Errors: %d\n",
		r.Count(migration.OutcomeAbandoned), r.Count(migration.OutcomeActive), r.Count(migration.OutcomePruned), len(r.Errors))
	for _, id := range sortedKeys(r.Errors) {
		fmt.Fprintf(p.w, "  %s: %v\n", id, r.Errors[id])
	}
	return nil
}

// Drain prints a node drain.
func (p *Printer) Drain(r *migration.DrainReport) error {
	if p.format == FormatJSON {
		return PrintJSON(p.w, map[string]any{
			"from":     r.From,
			"to":       r.To,
			"outcomes": r.Outcomes,
			"errors":   errorStrings(r.Errors),
		})
	}
	fmt.Fprintf(p.w, "Drained %d session(s) from %s to %s\n", len(r.Outcomes), r.From, r.To)
	for _, id := range sortedKeys(r.Errors) {
		fmt.Fprintf(p.w, "  %s: %v\n", id, r.Errors[id])
	}
	return nil
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errorStrings(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for id, err := range errs {
		out[id] = err.Error()
	}
	return out
}
