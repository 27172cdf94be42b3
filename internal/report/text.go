package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/flarebyte/fabrik/internal/logging"
	"github.com/flarebyte/fabrik/internal/scheduler"
)

type palette struct {
	header lipgloss.Style
	phase  lipgloss.Style
	detail lipgloss.Style
	warn   lipgloss.Style
	status map[scheduler.Status]lipgloss.Style
}

// newPalette binds styles to w so color is dropped when w is not a
// terminal.
func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		header: r.NewStyle().Bold(true),
		phase:  color("#5B8DEF").Bold(true),
		detail: color("#A0AEC0"),
		warn:   color("#F7B801"),
		status: map[scheduler.Status]lipgloss.Style{
			scheduler.StatusSucceeded: color("#4CAF50").Bold(true),
			scheduler.StatusFailed:    color("#FF6B6B").Bold(true),
			scheduler.StatusCanceled:  color("#FF6B6B"),
			scheduler.StatusSkipped:   color("#999999"),
			scheduler.StatusNotRun:    color("#999999"),
			scheduler.StatusWouldRun:  color("#F7B801").Bold(true),
			scheduler.StatusPending:   color("#CCCCCC"),
		},
	}
}

const statusWidth = 9

func writeText(w io.Writer, r *scheduler.Report) error {
	p := newPalette(w)
	var b strings.Builder

	title := "fabrik run " + shortID(r.RunID)
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "%s %s\n", p.header.Render(title), p.detail.Render(fmt.Sprintf("jobs=%d", r.Jobs)))

	phases := 0
	for _, c := range r.Commands {
		if c.Phase+1 > phases {
			phases = c.Phase + 1
		}
	}
	cur := -1
	for _, c := range r.Commands {
		if c.Phase != cur {
			cur = c.Phase
			fmt.Fprintf(&b, "%s\n", p.phase.Render("phase "+logging.PhaseLabel(c.Phase, phases, c.PhaseName)))
		}
		label := fmt.Sprintf("%-*s", statusWidth, c.Status)
		if st, ok := p.status[c.Status]; ok {
			label = st.Render(label)
		}
		fmt.Fprintf(&b, "  %s %s", label, c.Command)
		if d := detail(c); d != "" {
			fmt.Fprintf(&b, "  %s", p.detail.Render(d))
		}
		b.WriteString("\n")
	}
	for _, msg := range r.Warnings {
		fmt.Fprintf(&b, "%s\n", p.warn.Render("warning: "+msg))
	}
	fmt.Fprintf(&b, "%s\n", summary(r))
	if r.Error != "" {
		fmt.Fprintf(&b, "%s\n", p.status[scheduler.StatusFailed].Render("error: "+r.Error))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func detail(c scheduler.CommandReport) string {
	switch c.Status {
	case scheduler.StatusSucceeded:
		return fmt.Sprintf("(%s, %d in, %d out)", c.Duration.Round(time.Millisecond), c.Inputs, c.Outputs)
	case scheduler.StatusFailed:
		return fmt.Sprintf("(exit %d)", c.ExitCode)
	case scheduler.StatusSkipped:
		return string(c.Reason)
	case scheduler.StatusWouldRun:
		if c.ReasonPath != "" {
			return fmt.Sprintf("%s %s", c.Reason, c.ReasonPath)
		}
		return string(c.Reason)
	}
	return ""
}

func summary(r *scheduler.Report) string {
	counts := r.Counts()
	order := []scheduler.Status{
		scheduler.StatusSucceeded, scheduler.StatusSkipped, scheduler.StatusFailed,
		scheduler.StatusNotRun, scheduler.StatusCanceled, scheduler.StatusWouldRun, scheduler.StatusPending,
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	elapsed := ""
	if !r.Started.IsZero() && !r.Finished.IsZero() {
		elapsed = " in " + r.Finished.Sub(r.Started).Round(time.Millisecond).String()
	}
	return "summary: " + strings.Join(parts, ", ") + elapsed
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
