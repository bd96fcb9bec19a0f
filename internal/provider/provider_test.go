package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/xrev/internal/models"
)

// fakeReviewer is a scriptable test double.
type fakeReviewer struct {
	name      string
	caps      Capability
	available bool
	resp      Response
	delay     time.Duration
	calls     int
}

func (f *fakeReviewer) Name() string { return f.name }
func (f *fakeReviewer) Capabilities() Capability { return f.caps }
func (f *fakeReviewer) Available() bool { return f.available }

func (f *fakeReviewer) Review(ctx context.Context, req Request) Response {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Response{Stdout: "partial output", Err: ctx.Err()}
		}
	}
	return f.resp
}

func TestInvoke_Unavailable(t *testing.T) {
	f := &fakeReviewer{name: "gemini", caps: CapReview, available: false}

	start := time.Now()
	out := Invoke(context.Background(), f, Request{Timeout: 30 * time.Second})

	assert.Equal(t, models.OutcomeUnavailable, out.Status)
	assert.Zero(t, f.calls, "unavailable provider must not be invoked")
	assert.Less(t, time.Since(start), time.Second, "must not consume the timeout budget")
}

func TestInvoke_Success(t *testing.T) {
	f := &fakeReviewer{
		name: "gemini", caps: CapReview, available: true,
		resp: Response{Stdout: `{"overall_score": 8}`},
	}

	out := Invoke(context.Background(), f, Request{Timeout: time.Second})
	assert.Equal(t, models.OutcomeSuccess, out.Status)
	assert.Equal(t, `{"overall_score": 8}`, out.RawText)
}

func TestInvoke_Timeout(t *testing.T) {
	f := &fakeReviewer{
		name: "slow", caps: CapReview, available: true,
		delay: time.Second,
	}

	out := Invoke(context.Background(), f, Request{Timeout: 10 * time.Millisecond})
	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, "timeout", out.Err)
	assert.Equal(t, "partial output", out.RawText, "partial output kept for the audit trail")
}

func TestInvoke_EntitlementDenialBeatsZeroExit(t *testing.T) {
	f := &fakeReviewer{
		name: "codex", caps: CapReview | CapRepair, available: true,
		resp: Response{
			Stdout: "To use codex please upgrade to Plus\n",
			Denied: "codex requires a ChatGPT Plus subscription",
		},
	}

	out := Invoke(context.Background(), f, Request{Timeout: time.Second})
	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Contains(t, out.Err, "entitlement denied")
	assert.Contains(t, out.RawText, "upgrade to Plus")
}

func TestInvoke_ProcessError(t *testing.T) {
	f := &fakeReviewer{
		name: "gemini", caps: CapReview, available: true,
		resp: Response{Stderr: "boom", Err: errors.New("exit status 1")},
	}

	out := Invoke(context.Background(), f, Request{Timeout: time.Second})
	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, "exit status 1", out.Err)
	assert.Equal(t, "boom", out.RawText)
}

func TestCodexCLI_DeniedMarkerDetection(t *testing.T) {
	resp := Response{Stdout: "please upgrade to Plus to continue"}
	assert.Contains(t, resp.Raw(), codexDeniedMarker)
}

func TestCapabilityHas(t *testing.T) {
	both := CapReview | CapRepair
	assert.True(t, both.Has(CapReview))
	assert.True(t, both.Has(CapRepair))
	assert.False(t, CapReview.Has(CapRepair))
}

func TestFirstRepairer(t *testing.T) {
	reviewOnly := &fakeReviewer{name: "gemini", caps: CapReview, available: true}
	repairUnavail := &fakeRepairer{fakeReviewer{name: "offline", caps: CapReview | CapRepair, available: false}}
	repairer := &fakeRepairer{fakeReviewer{name: "codex", caps: CapReview | CapRepair, available: true}}

	got := FirstRepairer([]Reviewer{reviewOnly, repairUnavail, repairer})
	require.NotNil(t, got)
	assert.Equal(t, "codex", got.Name())

	assert.Nil(t, FirstRepairer([]Reviewer{reviewOnly}))
}

type fakeRepairer struct {
	fakeReviewer
}

func (f *fakeRepairer) Repair(ctx context.Context, dir, directive string, timeout time.Duration) (string, error) {
	return "File update: done", nil
}

func TestBuildReviewPrompt(t *testing.T) {
	p := BuildReviewPrompt([]string{"main.py", "model.py"})

	assert.Contains(t, p, "main.py, model.py")
	assert.Contains(t, p, "CRITICAL/HIGH/MEDIUM/LOW")
	assert.Contains(t, p, `"overall_score"`)
	assert.Contains(t, p, `"top_issues"`)
	assert.Contains(t, p, "VALID JSON")
}

func TestGeminiCLI_Defaults(t *testing.T) {
	g := NewGeminiCLI("")
	assert.Equal(t, "gemini", g.Bin)
	assert.Equal(t, "gemini", g.Name())
	assert.True(t, g.Capabilities().Has(CapReview))
	assert.False(t, g.Capabilities().Has(CapRepair))
}

func TestCodexCLI_Defaults(t *testing.T) {
	c := NewCodexCLI("")
	assert.Equal(t, "codex", c.Bin)
	assert.True(t, c.Capabilities().Has(CapRepair))
}

func TestClaudeAPI_AvailabilityTracksKey(t *testing.T) {
	assert.False(t, NewClaudeAPI("", "claude-haiku-4-5-20251001").Available())
	assert.True(t, NewClaudeAPI("sk-test", "claude-haiku-4-5-20251001").Available())
}
