// Package repair turns consensus issues into fix directives for a
// repair-capable provider.
//
// Whether a fix actually landed is inferred from change-confirmation
// language in the provider's own output. That is a hint, not ground truth:
// verifying the filesystem really changed would need a diffing collaborator,
// which is deliberately out of scope here.
package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/provider"
)

// changeMarkers are the phrases that count as confirmation that the
// provider edited a file.
var changeMarkers = []string{"file update:", "diff", "applied", "fixed"}

// Result reports one repair attempt. Attempted=false means the issue was
// skipped before any provider call (missing file). Applied=false with
// Attempted=true is an unconfirmed repair, not necessarily a failed one.
type Result struct {
	Attempted bool
	Applied   bool
	Raw       string
	Err       error
}

// Applicator sends fix directives to a single repair provider. Repairs are
// serialized by construction: one provider, one call at a time, each call
// running to completion or timeout with no mid-flight cancellation.
type Applicator struct {
	repairer provider.Repairer
	timeout  time.Duration
}

// NewApplicator creates an applicator bound to one repair provider.
func NewApplicator(r provider.Repairer, timeout time.Duration) *Applicator {
	return &Applicator{repairer: r, timeout: timeout}
}

// Apply attempts to fix one consensus issue in dir. Failures are contained
// per issue — the caller moves on to the next issue regardless of Err.
func (a *Applicator) Apply(ctx context.Context, dir string, ci models.ConsensusIssue, iteration int) Result {
	if ci.File != "" {
		if _, err := os.Stat(filepath.Join(dir, ci.File)); err != nil {
			return Result{Attempted: false}
		}
	}

	raw, err := a.repairer.Repair(ctx, dir, BuildDirective(ci), a.timeout)
	if err != nil {
		return Result{Attempted: true, Raw: raw, Err: err}
	}

	return Result{
		Attempted: true,
		Applied:   confirmsChange(raw),
		Raw:       raw,
	}
}

// BuildDirective constructs the fix instruction, embedding both reviewers'
// original findings verbatim so the repair provider sees exactly what each
// reviewer reported.
func BuildDirective(ci models.ConsensusIssue) string {
	var b strings.Builder

	switch ci.Basis {
	case models.MatchLocality:
		fmt.Fprintf(&b, "Fix this issue in %s around line %d:\n\n", ci.File, ci.Line)
	default:
		fmt.Fprintf(&b, "Fix the following %q issue in the codebase:\n\n", ci.Keyword)
	}

	for _, f := range ci.Findings {
		detail, err := json.MarshalIndent(f.Issue, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s found: %s\n\n", f.Provider, detail)
	}

	b.WriteString("Please:\n")
	if ci.File != "" {
		fmt.Fprintf(&b, "1. Read the file %s\n", ci.File)
		if ci.Line > 0 {
			fmt.Fprintf(&b, "2. Locate line %d and the surrounding code\n", ci.Line)
		} else {
			b.WriteString("2. Locate the code both findings describe\n")
		}
	} else {
		b.WriteString("1. Locate the relevant files and lines\n")
		b.WriteString("2. Confirm both findings describe the same problem\n")
	}
	b.WriteString("3. Apply the necessary fix following both recommendations\n")
	b.WriteString("4. Make the change directly to the file\n")
	b.WriteString("5. Confirm the fix was applied\n\n")
	b.WriteString("Make minimal changes - only fix this specific issue.")

	return b.String()
}

// confirmsChange scans provider output for change-confirmation language.
func confirmsChange(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range changeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
