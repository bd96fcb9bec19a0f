package loop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/xrev/internal/audit"
	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/provider"
)

// scriptedReviewer replays one canned response per call, repeating the last
// response once the script runs out.
type scriptedReviewer struct {
	name      string
	caps      provider.Capability
	available bool
	script    []provider.Response
	calls     int
}

func (s *scriptedReviewer) Name() string { return s.name }
func (s *scriptedReviewer) Capabilities() provider.Capability { return s.caps }
func (s *scriptedReviewer) Available() bool { return s.available }

func (s *scriptedReviewer) Review(ctx context.Context, req provider.Request) provider.Response {
	i := s.calls
	s.calls++
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i]
}

// scriptedRepairer is a scriptedReviewer that also accepts fix directives.
type scriptedRepairer struct {
	scriptedReviewer
	repairOutput string
	directives   []string
}

func (s *scriptedRepairer) Repair(ctx context.Context, dir, directive string, timeout time.Duration) (string, error) {
	s.directives = append(s.directives, directive)
	return s.repairOutput, nil
}

type fakeStore struct {
	created  int
	appended []models.IterationRecord
	finished []models.SessionState
}

func (f *fakeStore) CreateSession(ctx context.Context, s *models.ReviewSession) error {
	f.created++
	return nil
}

func (f *fakeStore) AppendIteration(ctx context.Context, sessionID string, rec *models.IterationRecord) error {
	f.appended = append(f.appended, *rec)
	return nil
}

func (f *fakeStore) FinishSession(ctx context.Context, s *models.ReviewSession) error {
	f.finished = append(f.finished, s.State)
	return nil
}

func jsonResponse(body string) provider.Response {
	return provider.Response{Stdout: body}
}

func newTrail(t *testing.T) *audit.Trail {
	t.Helper()
	tr, err := audit.New(filepath.Join(t.TempDir(), "reviews"))
	require.NoError(t, err)
	return tr
}

func targetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print('hi')\n"), 0644))
	return dir
}

func TestRun_ConvergesFirstIteration(t *testing.T) {
	gemini := &scriptedReviewer{
		name: "gemini", caps: provider.CapReview, available: true,
		script: []provider.Response{jsonResponse(`{"overall_score": 9, "top_issues": []}`)},
	}
	codex := &scriptedReviewer{
		name: "codex", caps: provider.CapReview, available: true,
		script: []provider.Response{jsonResponse(`{"overall_score": 8, "top_issues": []}`)},
	}
	trail := newTrail(t)
	st := &fakeStore{}
	c := New([]provider.Reviewer{gemini, codex}, trail, st, Config{TargetScore: 8.0, MaxIterations: 3})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateConverged, session.State)
	assert.True(t, session.Converged())
	require.Len(t, session.Iterations, 1)
	assert.InDelta(t, 8.5, session.FinalScore(), 0.001)
	assert.Equal(t, 2, session.Iterations[0].Contributors)
	assert.NotNil(t, session.EndedAt)

	assert.Equal(t, 1, st.created)
	require.Len(t, st.appended, 1)
	assert.Equal(t, []models.SessionState{models.StateConverged}, st.finished)

	for _, name := range []string{
		"iteration_1_gemini_raw.txt",
		"iteration_1_codex_raw.txt",
		"iteration_1_consensus.json",
		"iteration_1_consensus.md",
		"complete_history.json",
	} {
		_, err := os.Stat(filepath.Join(trail.Dir(), name))
		assert.NoError(t, err, name)
	}
}

func TestRun_NoProvidersAborts(t *testing.T) {
	offline := &scriptedReviewer{name: "gemini", caps: provider.CapReview, available: false}
	st := &fakeStore{}
	c := New([]provider.Reviewer{offline}, newTrail(t), st, Config{})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	assert.ErrorIs(t, err, ErrNoProviders)

	assert.Equal(t, models.StateAborted, session.State)
	assert.Empty(t, session.Iterations)
	assert.Zero(t, offline.calls)
	assert.Equal(t, []models.SessionState{models.StateAborted}, st.finished)
}

func TestRun_RepairsThenConverges(t *testing.T) {
	lowGemini := `{"overall_score": 6, "top_issues": [
		{"severity": "HIGH", "file": "app.py", "line": 10, "issue": "sql built by string concatenation"}]}`
	lowCodex := `{"overall_score": 6.5, "top_issues": [
		{"severity": "HIGH", "file": "app.py", "line": 12, "issue": "query not parameterized"}]}`
	clean := `{"overall_score": 9, "top_issues": []}`

	gemini := &scriptedReviewer{
		name: "gemini", caps: provider.CapReview, available: true,
		script: []provider.Response{jsonResponse(lowGemini), jsonResponse(clean)},
	}
	codex := &scriptedRepairer{
		scriptedReviewer: scriptedReviewer{
			name: "codex", caps: provider.CapReview | provider.CapRepair, available: true,
			script: []provider.Response{jsonResponse(lowCodex), jsonResponse(clean)},
		},
		repairOutput: "File update: app.py parameterized the query",
	}

	c := New([]provider.Reviewer{gemini, codex}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 3})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateConverged, session.State)
	require.Len(t, session.Iterations, 2)

	first := session.Iterations[0]
	assert.Len(t, first.Consensus, 1, "lines 10 and 12 in the same file must match")
	assert.Equal(t, 1, first.RepairsTried)
	assert.Equal(t, 1, first.RepairsOK)

	require.Len(t, codex.directives, 1)
	assert.Contains(t, codex.directives[0], "app.py")
	assert.Contains(t, codex.directives[0], "string concatenation")

	second := session.Iterations[1]
	assert.Zero(t, second.RepairsTried)
	assert.InDelta(t, 9.0, second.AverageScore, 0.001)
}

func TestRun_ExhaustsAtMaxIterations(t *testing.T) {
	low := jsonResponse(`{"overall_score": 4, "top_issues": []}`)
	gemini := &scriptedReviewer{name: "gemini", caps: provider.CapReview, available: true, script: []provider.Response{low}}
	codex := &scriptedReviewer{name: "codex", caps: provider.CapReview, available: true, script: []provider.Response{low}}

	c := New([]provider.Reviewer{gemini, codex}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 2})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateExhausted, session.State)
	assert.False(t, session.Converged())
	assert.Len(t, session.Iterations, 2)
	assert.Equal(t, 2, gemini.calls)
}

func TestRun_SingleContributorMeansNoConsensus(t *testing.T) {
	withIssue := jsonResponse(`{"overall_score": 5, "top_issues": [
		{"severity": "HIGH", "file": "app.py", "line": 3, "issue": "hardcoded secret"}]}`)
	gemini := &scriptedReviewer{name: "gemini", caps: provider.CapReview, available: true, script: []provider.Response{withIssue}}
	broken := &scriptedReviewer{
		name: "codex", caps: provider.CapReview | provider.CapRepair, available: true,
		script: []provider.Response{{Stderr: "boom", Err: context.DeadlineExceeded}},
	}

	c := New([]provider.Reviewer{gemini, broken}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 1})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	require.Len(t, session.Iterations, 1)
	rec := session.Iterations[0]
	assert.Equal(t, 1, rec.Contributors)
	assert.Empty(t, rec.Consensus, "agreement requires two independent opinions")
	assert.Zero(t, rec.RepairsTried)
}

func TestRun_HeuristicOutputStillContributes(t *testing.T) {
	gemini := &scriptedReviewer{
		name: "gemini", caps: provider.CapReview, available: true,
		script: []provider.Response{jsonResponse(`{"overall_score": 8, "top_issues": []}`)},
	}
	chatty := &scriptedReviewer{
		name: "codex", caps: provider.CapReview, available: true,
		script: []provider.Response{jsonResponse("The code looks decent overall. Score: 8/10.")},
	}

	c := New([]provider.Reviewer{gemini, chatty}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 1})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateConverged, session.State)
	rec := session.Iterations[0]
	assert.Equal(t, 2, rec.Contributors, "heuristic parses count like strict ones")
	assert.InDelta(t, 8.0, rec.AverageScore, 0.001)
}

func TestRun_NoRepairFlagSkipsRepairs(t *testing.T) {
	withIssue := `{"overall_score": 5, "top_issues": [
		{"severity": "HIGH", "file": "app.py", "line": 10, "issue": "no input validation"}]}`
	gemini := &scriptedReviewer{name: "gemini", caps: provider.CapReview, available: true, script: []provider.Response{jsonResponse(withIssue)}}
	codex := &scriptedRepairer{
		scriptedReviewer: scriptedReviewer{
			name: "codex", caps: provider.CapReview | provider.CapRepair, available: true,
			script: []provider.Response{jsonResponse(withIssue)},
		},
		repairOutput: "File update: done",
	}

	c := New([]provider.Reviewer{gemini, codex}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 2, NoRepair: true})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateExhausted, session.State)
	assert.Empty(t, codex.directives)
	for _, rec := range session.Iterations {
		assert.Zero(t, rec.RepairsTried)
	}
}

func TestRun_FailedProvidersYieldZeroContributors(t *testing.T) {
	broken := &scriptedReviewer{
		name: "gemini", caps: provider.CapReview, available: true,
		script: []provider.Response{{Stderr: "crash", Err: context.DeadlineExceeded}},
	}

	c := New([]provider.Reviewer{broken}, newTrail(t), nil, Config{TargetScore: 8.0, MaxIterations: 1})

	session, err := c.Run(context.Background(), targetDir(t), []string{"app.py"})
	require.NoError(t, err)

	assert.Equal(t, models.StateExhausted, session.State)
	rec := session.Iterations[0]
	assert.Zero(t, rec.Contributors)
	assert.Zero(t, rec.AverageScore)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 8.0, cfg.TargetScore)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.ReviewTimeout)
}
