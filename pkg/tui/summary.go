package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/flowgraph/pkg/session"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1f78b4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff7f00"))
	alertStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff0000"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#33a02c"))
)

// WriteSummary reports one published load. Styling is applied only when
// styled is set, so piped output stays plain.
func WriteSummary(w io.Writer, res *session.Result, outputs []string, styled bool) {
	_, _ = io.WriteString(w, summary(res, outputs, styled))
}

func summary(res *session.Result, outputs []string, styled bool) string {
	var sb strings.Builder
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}
	row := func(label, value string) {
		fmt.Fprintf(&sb, "  %s %s\n", style(labelStyle, fmt.Sprintf("%-12s", label+":")), value)
	}

	s := res.Summary
	sb.WriteString(style(titleStyle, "flowgraph") + " " + res.Source + "\n")
	row("hosts", fmt.Sprintf("%d (%d clients, %d servers)", s.Hosts, s.Clients, s.Servers))
	row("flows", fmt.Sprintf("%d", s.Flows))
	row("traffic", fmt.Sprintf("%.0f bytes", s.TotalBytes))
	if s.TopTalker != "" {
		row("top talker", fmt.Sprintf("%s (%.0f bytes)", s.TopTalker, s.TopTalkerBytes))
	}
	if s.Alerting > 0 {
		row("alerting", style(alertStyle, fmt.Sprintf("%d hosts with events", s.Alerting)))
	}
	if s.Anomalous > 0 {
		row("anomalous", style(warnStyle, fmt.Sprintf("%d flows with non-numeric bytes", s.Anomalous)))
	}
	if skipped := res.ParseSkipped + res.Build.Skipped; skipped > 0 {
		row("skipped", style(warnStyle, fmt.Sprintf("%d rows (%d malformed, %d missing address)",
			skipped, res.ParseSkipped, res.Build.Skipped)))
	}
	if len(outputs) > 0 {
		row("wrote", strings.Join(outputs, ", "))
	}
	return sb.String()
}
