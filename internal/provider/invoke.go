package provider

import (
	"context"
	"errors"

	"github.com/joescharf/xrev/internal/models"
)

// Invoke runs one reviewer with a hard timeout and classifies the result.
// Unavailable providers are reported without consuming the timeout budget.
// The returned outcome carries the provider's raw output verbatim; parsing
// and the final Success/Partial distinction happen in the caller, after the
// raw text has been persisted to the audit trail.
func Invoke(ctx context.Context, r Reviewer, req Request) *models.ReviewOutcome {
	out := &models.ReviewOutcome{Provider: r.Name()}

	if !r.Available() {
		out.Status = models.OutcomeUnavailable
		out.Err = "provider not installed or not configured"
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	resp := r.Review(ctx, req)
	out.RawText = resp.Raw()

	switch {
	case resp.Denied != "":
		// Entitlement denial embedded in otherwise-successful output.
		// Classified as failed even when the exit status was zero.
		out.Status = models.OutcomeFailed
		out.Err = "entitlement denied: " + resp.Denied
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.Status = models.OutcomeFailed
		out.Err = "timeout"
	case resp.Err != nil:
		out.Status = models.OutcomeFailed
		out.Err = resp.Err.Error()
	default:
		out.Status = models.OutcomeSuccess
	}

	return out
}
