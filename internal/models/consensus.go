package models

// MatchBasis is the strategy that established a consensus match.
type MatchBasis string

const (
	// MatchLocality matches issues by identical file and close line numbers.
	MatchLocality MatchBasis = "locality"
	// MatchKeyword matches issues by a shared vocabulary term in both
	// descriptions.
	MatchKeyword MatchBasis = "keyword"
)

// Finding ties an issue back to the provider that reported it, preserving
// the original finding verbatim for repair directives.
type Finding struct {
	Provider string `json:"provider"`
	Issue    Issue  `json:"issue"`
}

// ConsensusIssue is a problem independently reported by two providers in the
// same iteration. Consensus is recomputed fresh every iteration; these are
// never carried across iterations as live objects.
type ConsensusIssue struct {
	Basis    MatchBasis `json:"basis"`
	Keyword  string     `json:"keyword,omitempty"` // set for keyword matches
	File     string     `json:"file,omitempty"`    // set for locality matches
	Line     int        `json:"line,omitempty"`
	Severity Severity   `json:"severity"`
	Findings []Finding  `json:"findings"` // exactly two members
	Priority string     `json:"priority"` // always "HIGH": two independent reports
}
