package reporter

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/snapspectre/internal/models"
)

type textStyles struct {
	header  lipgloss.Style
	failure lipgloss.Style
	delete  lipgloss.Style
	muted   lipgloss.Style
}

func newTextStyles(r *lipgloss.Renderer) textStyles {
	return textStyles{
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		delete:  r.NewStyle().Foreground(lipgloss.Color("205")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// WriteText writes a human-readable run summary to out. Styling is applied
// only when out is a terminal.
func WriteText(out io.Writer, report *models.Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if out == nil {
		return fmt.Errorf("writer is nil")
	}

	rendered := renderTextReport(report, newTextStyles(lipgloss.NewRenderer(out)))
	if _, err := io.WriteString(out, rendered); err != nil {
		return fmt.Errorf("failed to write text report to output: %w", err)
	}
	return nil
}

func renderTextReport(report *models.Report, styles textStyles) string {
	var b strings.Builder
	meta := report.Metadata

	writeTextSectionHeader(&b, "Snapshot Reconciliation", styles)
	fmt.Fprintf(&b, "Generated: %s\n", formatTextTime(meta.GeneratedAt))
	fmt.Fprintf(&b, "Cutoff: %s (%d days, %s)\n", formatTextTime(meta.Cutoff), meta.RetentionDays, textValue(meta.Timezone))
	fmt.Fprintf(&b, "Retained jobs: %d\n", meta.RegistrySize)
	if meta.Duration != "" {
		fmt.Fprintf(&b, "Duration: %s\n", meta.Duration)
	}
	if meta.DryRun {
		b.WriteString(styles.muted.Render("Dry run: no files were written") + "\n")
	}
	b.WriteString("\n")

	writeTextSectionHeader(&b, "Clusters", styles)
	if len(report.Clusters) == 0 {
		b.WriteString("No clusters processed.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-24s %6s %8s %7s %10s %10s  %s\n",
		"CLUSTER", "KEEP", "DELETE", "IGNORE", "PROTECTED", "MALFORMED", "SCRIPT")
	for _, result := range report.Clusters {
		name := truncateTextValue(result.Cluster, 24)
		if result.Plan == nil {
			reason := result.Error
			if reason == "" {
				reason = "no plan"
			}
			fmt.Fprintf(&b, "%-24s %s\n", name, styles.failure.Render("FAILED: "+reason))
			continue
		}

		tally := result.Plan.Tally
		deleteCount := fmt.Sprintf("%8d", tally.Delete)
		if tally.Delete > 0 {
			deleteCount = styles.delete.Render(deleteCount)
		}
		script := "-"
		if result.ScriptPath != "" {
			script = filepath.Base(result.ScriptPath)
		}
		fmt.Fprintf(&b, "%-24s %6d %s %7d %10d %10d  %s\n",
			name, tally.Keep, deleteCount, tally.Ignore, tally.Protected, tally.Malformed, script)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Deletion candidates: %d\n", report.TotalCandidates())
	if failed := report.FailedClusters(); failed > 0 {
		b.WriteString(styles.failure.Render(fmt.Sprintf("Failed clusters: %d", failed)) + "\n")
	}

	return b.String()
}

func writeTextSectionHeader(b *strings.Builder, title string, styles textStyles) {
	fmt.Fprintf(b, "%s\n", styles.header.Render(title))
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", len(title)))
}

func formatTextTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(TimeLayout)
}

func textValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}

func truncateTextValue(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
