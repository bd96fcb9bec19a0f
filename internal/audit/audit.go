// Package audit persists the artifacts of a review session: verbatim
// provider output per iteration, a machine-readable consensus record and a
// human-readable report per iteration, and a full history dump at session
// end. Raw output is written before any parsing happens so a human can
// always inspect what a provider actually said when parsing degrades.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/xrev/internal/models"
)

// Trail writes session artifacts under one directory. Every file is keyed
// by iteration (and provider for raw output), so no two writes ever contend
// for the same path.
type Trail struct {
	dir string
}

// New creates the trail directory if needed.
func New(dir string) (*Trail, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &Trail{dir: dir}, nil
}

// Dir returns the trail's directory.
func (t *Trail) Dir() string { return t.dir }

// WriteRaw persists one provider's verbatim output for one iteration.
func (t *Trail) WriteRaw(iteration int, provider, raw string) error {
	name := fmt.Sprintf("iteration_%d_%s_raw.txt", iteration, provider)
	if err := os.WriteFile(filepath.Join(t.dir, name), []byte(raw), 0644); err != nil {
		return fmt.Errorf("write raw output: %w", err)
	}
	return nil
}

// WriteIteration persists the consensus record for one iteration, as JSON
// for machines and Markdown for humans.
func (t *Trail) WriteIteration(rec models.IterationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal iteration record: %w", err)
	}

	jsonName := fmt.Sprintf("iteration_%d_consensus.json", rec.Index)
	if err := os.WriteFile(filepath.Join(t.dir, jsonName), data, 0644); err != nil {
		return fmt.Errorf("write consensus json: %w", err)
	}

	mdName := fmt.Sprintf("iteration_%d_consensus.md", rec.Index)
	if err := os.WriteFile(filepath.Join(t.dir, mdName), []byte(renderIteration(rec)), 0644); err != nil {
		return fmt.Errorf("write consensus report: %w", err)
	}
	return nil
}

// WriteHistory dumps the complete session history at session end.
func (t *Trail) WriteHistory(session *models.ReviewSession) error {
	data, err := json.MarshalIndent(session.Iterations, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(t.dir, "complete_history.json"), data, 0644); err != nil {
		return fmt.Errorf("write session history: %w", err)
	}
	return nil
}

// renderIteration produces the human-readable consensus report.
func renderIteration(rec models.IterationRecord) string {
	var b strings.Builder

	b.WriteString("# Cross-Review Consensus Report\n\n")
	fmt.Fprintf(&b, "**Iteration:** %d\n", rec.Index)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", rec.Timestamp.Format(time.RFC3339))

	b.WriteString("## Quality Scores\n\n")
	for provider, score := range rec.Scores {
		fmt.Fprintf(&b, "- **%s:** %.1f/10\n", provider, score)
	}
	fmt.Fprintf(&b, "- **Average:** %.2f/10 (%d contributing providers)\n\n", rec.AverageScore, rec.Contributors)

	if len(rec.Consensus) == 0 {
		b.WriteString("No consensus issues this iteration.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Consensus Issues (%d)\n\n", len(rec.Consensus))
	b.WriteString("These issues were independently identified by both reviewers:\n\n")

	for i, ci := range rec.Consensus {
		title := ci.Keyword
		if ci.Basis == models.MatchLocality {
			title = fmt.Sprintf("%s:%d", ci.File, ci.Line)
		}
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, title)
		fmt.Fprintf(&b, "**Basis:** %s  \n**Severity:** %s  \n**Priority:** %s\n\n", ci.Basis, ci.Severity, ci.Priority)

		for _, f := range ci.Findings {
			detail, err := json.MarshalIndent(f.Issue, "", "  ")
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "**%s finding:**\n```json\n%s\n```\n\n", f.Provider, detail)
		}
	}

	return b.String()
}
