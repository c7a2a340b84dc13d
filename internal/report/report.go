// Package report formats stored runs as markdown and renders them for the
// terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/qloopdev/qloop/internal/runstore"
)

// BuildMarkdown assembles the run report as plain markdown.
func BuildMarkdown(rec runstore.RunRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", rec.RunID)
	fmt.Fprintf(&b, "**Task:** %s\n\n", rec.Task)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", rec.Status)
	fmt.Fprintf(&b, "| Reason | %s |\n", rec.Reason)
	fmt.Fprintf(&b, "| Final score | %.1f |\n", rec.FinalScore)
	fmt.Fprintf(&b, "| Iterations | %d |\n", rec.TotalIterations)
	fmt.Fprintf(&b, "| Duration | %s |\n", rec.Duration.Round(time.Millisecond))
	if rec.Error != "" {
		fmt.Fprintf(&b, "| Error | %s |\n", rec.Error)
	}
	b.WriteString("\n")

	for _, it := range rec.Iterations {
		fmt.Fprintf(&b, "## Iteration %d — %.1f\n\n", it.Iteration, it.Score)

		status := "continued"
		if it.Passed {
			status = "passed"
		}
		if it.Degraded {
			status += " (degraded evidence)"
		}
		fmt.Fprintf(&b, "%s in %s\n\n", status, it.Duration.Round(time.Millisecond))

		ev := it.Evidence
		fmt.Fprintf(&b, "- files modified: %d\n", ev.TotalFilesModified())
		fmt.Fprintf(&b, "- commands run: %d\n", len(ev.CommandsRun))
		if ev.TestsRun {
			fmt.Fprintf(&b, "- tests: %d passed, %d failed\n", ev.TotalTestsPassed(), ev.TotalTestsFailed())
		}
		if len(ev.Findings) > 0 {
			fmt.Fprintf(&b, "- security findings: %d\n", len(ev.Findings))
		}

		if len(it.Improvements) > 0 {
			b.WriteString("\nImprovements needed:\n\n")
			for _, imp := range it.Improvements {
				fmt.Fprintf(&b, "1. %s\n", imp)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Render renders the markdown for the terminal with an adaptive style.
func Render(md string) (string, error) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}
