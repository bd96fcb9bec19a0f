package models

import "time"

// SessionState is the convergence controller's state for a session.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateReviewing   SessionState = "reviewing"
	StateAggregating SessionState = "aggregating"
	StateMatching    SessionState = "matching_consensus"
	StateDeciding    SessionState = "deciding"
	StateRepairing   SessionState = "repairing"
	StateConverged   SessionState = "converged"
	StateExhausted   SessionState = "exhausted"
	StateAborted     SessionState = "aborted"
)

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	return s == StateConverged || s == StateExhausted || s == StateAborted
}

// IterationRecord summarizes one completed iteration. A record is appended
// to the session history when the iteration's scores are decided; its repair
// counters are filled in before the record is persisted.
type IterationRecord struct {
	ID           string             `json:"id,omitempty"`
	Index        int                `json:"iteration"` // 1-based
	Scores       map[string]float64 `json:"scores"`    // provider -> overall score
	AverageScore float64            `json:"average_score"`
	Contributors int                `json:"contributors"` // providers counted in the average
	Consensus    []ConsensusIssue   `json:"consensus_issues"`
	RepairsTried int                `json:"repairs_attempted"`
	RepairsOK    int                `json:"repairs_applied"`
	Timestamp    time.Time          `json:"timestamp"`
}

// ReviewSession is the process-scoped state for one directory under review.
// Each session is owned by exactly one controller instance; the history is
// append-only and written only at well-defined points in the loop.
type ReviewSession struct {
	ID            string
	Directory     string
	Files         []string
	TargetScore   float64
	MaxIterations int
	State         SessionState
	Iterations    []IterationRecord
	StartedAt     time.Time
	EndedAt       *time.Time
}

// FinalScore returns the last iteration's average score, or 0 when no
// iteration completed. Check Converged or len(Iterations) before treating
// a zero as a quality reading.
func (s *ReviewSession) FinalScore() float64 {
	if len(s.Iterations) == 0 {
		return 0
	}
	return s.Iterations[len(s.Iterations)-1].AverageScore
}

// Converged reports whether the session ended by meeting the target score.
func (s *ReviewSession) Converged() bool {
	return s.State == StateConverged
}
