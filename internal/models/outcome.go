package models

// OutcomeStatus is the classification of a single provider invocation.
type OutcomeStatus string

const (
	// OutcomeSuccess means the provider ran and its output decoded strictly.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomePartial means the provider ran but only the heuristic fallback
	// parse produced a result. Partial outcomes count toward scoring and
	// consensus exactly like success.
	OutcomePartial OutcomeStatus = "partial"
	// OutcomeFailed covers nonzero exits, timeouts, and entitlement denials.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeSkipped means the provider was not invoked this iteration.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeUnavailable means the provider is not installed or reachable.
	OutcomeUnavailable OutcomeStatus = "unavailable"
)

// Contributes reports whether an outcome with this status participates in
// score aggregation and consensus matching.
func (s OutcomeStatus) Contributes() bool {
	return s == OutcomeSuccess || s == OutcomePartial
}

// ReviewOutcome records one provider invocation within one iteration.
// It is created once per invocation and never mutated afterwards.
type ReviewOutcome struct {
	Provider string
	Status   OutcomeStatus
	RawText  string
	Result   *ParsedResult // nil unless Status.Contributes()
	Err      string
}
