// Package parse turns a reviewer's raw, loosely structured output into a
// typed result. Extraction runs as an ordered chain of strategies; the first
// one that yields a usable result wins, and the heuristic text-mining
// fallback guarantees that Parse always returns something, so a reviewer
// that ignores the requested format still contributes a signal.
package parse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/xrev/internal/models"
)

// maxHeuristicIssues caps how many severity-prefixed lines the fallback
// collects from free text.
const maxHeuristicIssues = 5

// defaultScore is assumed when no score pattern is found anywhere.
const defaultScore = 5.0

// Parse extracts a ParsedResult from raw reviewer output. It never fails:
// irrecoverable input degrades to a heuristic result rather than an error.
func Parse(raw string) *models.ParsedResult {
	for _, candidate := range candidates(raw) {
		if res, ok := decodeStructured(candidate); ok {
			return res
		}
	}
	return mineText(raw)
}

// candidates returns structured-payload spans to attempt, in order: a
// fenced json block, the first-to-last brace span, and the last balanced
// object in the text. The last-object candidate handles reviewers that
// append their result after a long narrative which itself contains braces —
// searching from the front would capture an example embedded in the
// instructions instead of the real payload.
func candidates(raw string) []string {
	var out []string

	if inner, ok := fencedBlock(raw); ok {
		out = append(out, inner)
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	var wide string
	if first >= 0 && last > first {
		wide = raw[first : last+1]
		out = append(out, wide)
	}

	if span, ok := lastBalancedObject(raw); ok && span != wide {
		out = append(out, span)
	}

	return out
}

// lastBalancedObject returns the final top-level {...} span in the text,
// tracking brace depth and skipping braces inside string literals.
func lastBalancedObject(raw string) (string, bool) {
	var start, depth int
	var inString, escaped bool
	spanStart := -1
	spanEnd := -1

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					spanStart, spanEnd = start, i+1
				}
			}
		}
	}

	if spanStart < 0 {
		return "", false
	}
	return raw[spanStart:spanEnd], true
}

// fencedBlock extracts the interior of the first ```json fence.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, "```json")
	if start < 0 {
		return "", false
	}
	rest := raw[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// wireIssue accepts both field spellings reviewers use (description/issue,
// recommendation/fix).
type wireIssue struct {
	Severity       string `json:"severity"`
	File           string `json:"file"`
	Line           int    `json:"line"`
	Description    string `json:"description"`
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
	Fix            string `json:"fix"`
}

type wireFile struct {
	Path   string      `json:"path"`
	Score  float64     `json:"score"`
	Issues []wireIssue `json:"issues"`
}

type wireResult struct {
	OverallScore   *float64    `json:"overall_score"`
	Files          []wireFile  `json:"files"`
	Issues         []wireIssue `json:"issues"`
	TopIssues      []wireIssue `json:"top_issues"`
	CriticalIssues []wireIssue `json:"critical_issues"`
}

// decodeStructured attempts to decode a candidate span against the expected
// schema. A decode only counts when the object carries a score or at least
// one issue list — an unrelated JSON object must fall through to the next
// strategy instead of producing an empty result.
func decodeStructured(candidate string) (*models.ParsedResult, bool) {
	var w wireResult
	if err := json.Unmarshal([]byte(candidate), &w); err != nil {
		return nil, false
	}

	issues := w.TopIssues
	if len(issues) == 0 {
		issues = w.CriticalIssues
	}
	if len(issues) == 0 {
		issues = w.Issues
	}

	if w.OverallScore == nil && len(issues) == 0 && len(w.Files) == 0 {
		return nil, false
	}

	res := &models.ParsedResult{
		Confidence: models.ConfidenceStrict,
	}

	if w.OverallScore != nil {
		res.Score = clampScore(*w.OverallScore)
		res.HasScore = true
	}

	if len(w.Files) > 0 {
		res.FileScores = make(map[string]float64, len(w.Files))
		for _, f := range w.Files {
			if f.Path == "" {
				continue
			}
			res.FileScores[f.Path] = clampScore(f.Score)
		}
	}

	for _, wi := range issues {
		res.Issues = append(res.Issues, convertIssue(wi))
	}

	// Whole-codebase reviews sometimes report issues only inside the
	// per-file blocks. Fall back to those when the top-level lists are empty.
	if len(res.Issues) == 0 {
		for _, f := range w.Files {
			for _, wi := range f.Issues {
				issue := convertIssue(wi)
				if issue.File == "" {
					issue.File = f.Path
				}
				res.Issues = append(res.Issues, issue)
			}
		}
	}

	return res, true
}

func convertIssue(wi wireIssue) models.Issue {
	desc := wi.Description
	if desc == "" {
		desc = wi.Issue
	}
	rec := wi.Recommendation
	if rec == "" {
		rec = wi.Fix
	}
	return models.Issue{
		File:           wi.File,
		Line:           wi.Line,
		Severity:       models.ParseSeverity(wi.Severity),
		Description:    desc,
		Recommendation: rec,
	}
}

var (
	scoreRe    = regexp.MustCompile(`(?i)score[:\s]+(\d+(?:\.\d+)?)\s*/\s*10`)
	severityRe = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(CRITICAL|HIGH|MEDIUM|LOW)[:\s]+(.+)$`)
)

// mineText is the last-resort heuristic: average every "score N/10" match
// (default 5.0 when none) and collect up to five lines that begin with a
// severity keyword as line-less issues.
func mineText(raw string) *models.ParsedResult {
	res := &models.ParsedResult{
		Confidence: models.ConfidenceHeuristic,
		Score:      defaultScore,
	}

	if matches := scoreRe.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		var sum float64
		var n int
		for _, m := range matches {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			sum += clampScore(v)
			n++
		}
		if n > 0 {
			res.Score = sum / float64(n)
			res.HasScore = true
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		if len(res.Issues) >= maxHeuristicIssues {
			break
		}
		m := severityRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		res.Issues = append(res.Issues, models.Issue{
			Severity:    models.ParseSeverity(m[1]),
			Description: strings.TrimSpace(m[2]),
		})
	}

	return res
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
