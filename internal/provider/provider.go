// Package provider adapts external AI reviewers behind a uniform interface,
// hiding whether a reviewer is a local executable or a remote API.
package provider

import (
	"context"
	"time"
)

// Capability tags what a provider can do. Dispatch happens through the
// Reviewer/Repairer interfaces; capabilities exist so callers can report
// and select providers without type assertions at every site.
type Capability uint8

const (
	CapReview Capability = 1 << iota
	CapRepair
)

// Has reports whether c includes want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Request describes one review invocation.
type Request struct {
	Dir     string
	Files   []string
	Prompt  string
	Timeout time.Duration
}

// Response is the raw result of a provider call, before classification.
// Denied carries the provider-specific entitlement failure reason when the
// provider recognized one in its own output (e.g. a subscription-required
// message printed with a zero exit status).
type Response struct {
	Stdout string
	Stderr string
	Denied string
	Err    error
}

// Raw returns the combined output streams verbatim.
func (r Response) Raw() string { return r.Stdout + r.Stderr }

// Reviewer is an external agent that can produce a code assessment.
type Reviewer interface {
	Name() string
	Capabilities() Capability
	// Available reports whether the provider can be invoked at all
	// (binary installed, API key configured). It must be cheap and must
	// not consume the review timeout budget.
	Available() bool
	Review(ctx context.Context, req Request) Response
}

// Repairer is a reviewer that can additionally apply fixes to files under a
// directory. Success is inferred from its output text, never guaranteed.
type Repairer interface {
	Reviewer
	Repair(ctx context.Context, dir, directive string, timeout time.Duration) (string, error)
}

// FirstRepairer returns the first available repair-capable provider, or nil.
func FirstRepairer(reviewers []Reviewer) Repairer {
	for _, r := range reviewers {
		if rep, ok := r.(Repairer); ok && r.Capabilities().Has(CapRepair) && r.Available() {
			return rep
		}
	}
	return nil
}
