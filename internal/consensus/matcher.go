// Package consensus reconciles two providers' independent issue lists into
// the subset both agree on.
//
// Two strategies exist. Locality matching (same file, line numbers within 5)
// is used when both issues carry position data. Keyword matching compares
// lower-cased descriptions against a small fixed vocabulary and fires on the
// first shared term; it is deliberately coarse and recall-oriented, and is
// the primary source of false-positive consensus — a "validation" issue in
// one file can match an unrelated "validation" issue in another.
package consensus

import (
	"strings"

	"github.com/joescharf/xrev/internal/models"
)

// lineWindow is the maximum line distance for a locality match, inclusive.
const lineWindow = 5

// DefaultVocabulary is the fixed keyword list for description matching.
// Terms cover the code-quality concerns reviewers most often phrase
// differently while meaning the same problem.
var DefaultVocabulary = []string{
	"device", "gpu", "cuda", "hard-coded", "hardcoded",
	"eval", "train", "mode", "dropout", "error handling",
	"exception", "validation",
}

// Matcher finds consensus between pairs of providers' parsed results.
type Matcher struct {
	vocabulary []string
}

// NewMatcher returns a Matcher with the given keyword vocabulary, falling
// back to DefaultVocabulary when none is supplied.
func NewMatcher(vocabulary []string) *Matcher {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	return &Matcher{vocabulary: vocabulary}
}

// Match compares two providers' issues and returns every consensus issue.
// For each left-side issue the first matching right-side issue wins and no
// right-side issue is matched twice. Unmatched issues are dropped, not
// reported. The strategy is chosen per pair by granularity: locality when
// both issues carry file and line, keyword otherwise.
func (m *Matcher) Match(leftProvider string, left []models.Issue, rightProvider string, right []models.Issue) []models.ConsensusIssue {
	var out []models.ConsensusIssue
	used := make([]bool, len(right))

	for _, li := range left {
		for j, ri := range right {
			if used[j] {
				continue
			}
			ci, ok := m.matchPair(li, ri)
			if !ok {
				continue
			}
			ci.Findings = []models.Finding{
				{Provider: leftProvider, Issue: li},
				{Provider: rightProvider, Issue: ri},
			}
			ci.Priority = string(models.SeverityHigh)
			out = append(out, ci)
			used[j] = true
			break
		}
	}

	return out
}

// matchPair applies the granularity-appropriate strategy to one issue pair.
func (m *Matcher) matchPair(a, b models.Issue) (models.ConsensusIssue, bool) {
	if a.HasLocation() && b.HasLocation() {
		return matchLocality(a, b)
	}
	return m.matchKeyword(a, b)
}

// matchLocality matches when the file names are identical and the line
// numbers differ by at most lineWindow.
func matchLocality(a, b models.Issue) (models.ConsensusIssue, bool) {
	if a.File != b.File {
		return models.ConsensusIssue{}, false
	}
	delta := a.Line - b.Line
	if delta < 0 {
		delta = -delta
	}
	if delta > lineWindow {
		return models.ConsensusIssue{}, false
	}
	return models.ConsensusIssue{
		Basis:    models.MatchLocality,
		File:     a.File,
		Line:     a.Line,
		Severity: a.Severity,
	}, true
}

// matchKeyword matches when any vocabulary term appears in both lower-cased
// descriptions. The first shared keyword ends the search for the pair.
func (m *Matcher) matchKeyword(a, b models.Issue) (models.ConsensusIssue, bool) {
	da := strings.ToLower(a.Description)
	db := strings.ToLower(b.Description)

	for _, kw := range m.vocabulary {
		if strings.Contains(da, kw) && strings.Contains(db, kw) {
			return models.ConsensusIssue{
				Basis:    models.MatchKeyword,
				Keyword:  kw,
				File:     a.File,
				Line:     a.Line,
				Severity: a.Severity,
			}, true
		}
	}
	return models.ConsensusIssue{}, false
}
