package models

import "strings"

// Severity classifies a single review issue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity normalizes a free-form severity string from a reviewer.
// Unknown values default to MEDIUM rather than being dropped.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Confidence records which extraction strategy produced a ParsedResult.
type Confidence string

const (
	// ConfidenceStrict means the result was decoded from a well-formed
	// structured payload.
	ConfidenceStrict Confidence = "strict"
	// ConfidenceHeuristic means the result came from the text-mining
	// fallback and should be treated as a lower-confidence signal.
	ConfidenceHeuristic Confidence = "heuristic"
)

// Issue is a single finding reported by one reviewer. Identity is positional
// within its parent ParsedResult; issues from different providers are never
// the same object — equality is established only by the consensus matcher.
type Issue struct {
	File           string   `json:"file,omitempty"`
	Line           int      `json:"line,omitempty"` // 0 = unknown
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// HasLocation reports whether the issue carries enough position data for
// locality-based consensus matching.
func (i Issue) HasLocation() bool {
	return i.File != "" && i.Line > 0
}

// ParsedResult is the typed form of one reviewer's output. Derived from raw
// text by the parse package and never mutated after construction.
type ParsedResult struct {
	Score      float64            `json:"overall_score"` // 0-10
	HasScore   bool               `json:"has_score"`     // false when the reviewer gave no recoverable score
	FileScores map[string]float64 `json:"file_scores,omitempty"`
	Issues     []Issue            `json:"issues"`
	Confidence Confidence         `json:"confidence"`
}
