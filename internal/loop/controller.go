// Package loop drives the review-and-repair cycle for one session: invoke
// every reviewer, aggregate scores, match consensus, then converge, exhaust,
// or repair and go around again.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/xrev/internal/audit"
	"github.com/joescharf/xrev/internal/consensus"
	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/parse"
	"github.com/joescharf/xrev/internal/provider"
	"github.com/joescharf/xrev/internal/repair"
)

// ErrNoProviders is the only session-fatal error: every configured reviewer
// reported itself unavailable before the first iteration.
var ErrNoProviders = errors.New("no review providers available")

// Store is the subset of session persistence the controller needs. A nil
// Store disables persistence; the session still runs in memory and writes
// its audit trail.
type Store interface {
	CreateSession(ctx context.Context, s *models.ReviewSession) error
	AppendIteration(ctx context.Context, sessionID string, rec *models.IterationRecord) error
	FinishSession(ctx context.Context, s *models.ReviewSession) error
}

// Config holds the loop parameters for one session.
type Config struct {
	TargetScore   float64       // converge when the average reaches this, default 8.0
	MaxIterations int           // default 3
	ReviewTimeout time.Duration // per provider invocation
	RepairTimeout time.Duration // per repair attempt
	Pause         time.Duration // between iterations, 0 disables
	NoRepair      bool          // review-only mode
	Vocabulary    []string      // consensus keywords, empty uses the default set
}

func (c Config) withDefaults() Config {
	if c.TargetScore <= 0 {
		c.TargetScore = 8.0
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.ReviewTimeout <= 0 {
		c.ReviewTimeout = 2 * time.Minute
	}
	if c.RepairTimeout <= 0 {
		c.RepairTimeout = 2 * time.Minute
	}
	return c
}

// Controller owns exactly one session at a time. Providers are invoked
// sequentially to respect external rate limits, and repairs are serialized
// so two providers never rewrite the same file concurrently.
type Controller struct {
	reviewers []provider.Reviewer
	repairer  provider.Repairer
	matcher   *consensus.Matcher
	trail     *audit.Trail
	store     Store
	cfg       Config
	logf      func(format string, args ...any)
}

// New builds a controller. The repairer is picked from the reviewers: the
// first available repair-capable provider, if any.
func New(reviewers []provider.Reviewer, trail *audit.Trail, st Store, cfg Config) *Controller {
	return &Controller{
		reviewers: reviewers,
		repairer:  provider.FirstRepairer(reviewers),
		matcher:   consensus.NewMatcher(cfg.Vocabulary),
		trail:     trail,
		store:     st,
		cfg:       cfg.withDefaults(),
		logf:      func(string, ...any) {},
	}
}

// SetLogf installs a progress callback. The controller never prints on its
// own; the CLI supplies a colored printer here.
func (c *Controller) SetLogf(f func(format string, args ...any)) {
	if f != nil {
		c.logf = f
	}
}

// Run executes the full loop for dir and returns the finished session. The
// session is always returned, even alongside an error, so the caller can
// report whatever progress was made.
func (c *Controller) Run(ctx context.Context, dir string, files []string) (*models.ReviewSession, error) {
	session := &models.ReviewSession{
		ID:            ulid.Make().String(),
		Directory:     dir,
		Files:         files,
		TargetScore:   c.cfg.TargetScore,
		MaxIterations: c.cfg.MaxIterations,
		State:         models.StateIdle,
		StartedAt:     time.Now().UTC(),
	}

	if c.store != nil {
		if err := c.store.CreateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	if countAvailable(c.reviewers) == 0 {
		c.finish(ctx, session, models.StateAborted, nil)
		return session, ErrNoProviders
	}

	for iter := 1; iter <= session.MaxIterations; iter++ {
		if ctx.Err() != nil {
			c.finish(ctx, session, models.StateAborted, nil)
			return session, ctx.Err()
		}

		session.State = models.StateReviewing
		c.logf("iteration %d/%d", iter, session.MaxIterations)
		outcomes := c.review(ctx, iter, session)

		session.State = models.StateAggregating
		scores, avg, contributors := aggregate(outcomes)

		session.State = models.StateMatching
		issues := c.matchAll(outcomes)
		c.logf("  average %.2f/10 across %d providers, %d consensus issues", avg, contributors, len(issues))

		session.State = models.StateDeciding
		session.Iterations = append(session.Iterations, models.IterationRecord{
			Index:        iter,
			Scores:       scores,
			AverageScore: avg,
			Contributors: contributors,
			Consensus:    issues,
			Timestamp:    time.Now().UTC(),
		})
		rec := &session.Iterations[len(session.Iterations)-1]

		if avg >= session.TargetScore && contributors > 0 {
			c.finish(ctx, session, models.StateConverged, rec)
			return session, nil
		}
		if iter == session.MaxIterations {
			c.finish(ctx, session, models.StateExhausted, rec)
			return session, nil
		}

		if len(issues) > 0 && c.repairer != nil && !c.cfg.NoRepair {
			session.State = models.StateRepairing
			rec.RepairsTried, rec.RepairsOK = c.repairAll(ctx, dir, issues, iter)
		}
		c.persistIteration(ctx, session.ID, rec)

		if c.cfg.Pause > 0 {
			select {
			case <-time.After(c.cfg.Pause):
			case <-ctx.Done():
			}
		}
	}

	// Unreachable: the iter == MaxIterations branch always returns first.
	c.finish(ctx, session, models.StateExhausted, nil)
	return session, nil
}

// review invokes every reviewer once, audits the raw output before parsing,
// and downgrades heuristic parses to partial outcomes.
func (c *Controller) review(ctx context.Context, iteration int, s *models.ReviewSession) []*models.ReviewOutcome {
	prompt := provider.BuildReviewPrompt(s.Files)
	req := provider.Request{Dir: s.Directory, Files: s.Files, Prompt: prompt, Timeout: c.cfg.ReviewTimeout}

	var outs []*models.ReviewOutcome
	for _, r := range c.reviewers {
		out := provider.Invoke(ctx, r, req)

		if c.trail != nil && out.RawText != "" {
			if err := c.trail.WriteRaw(iteration, out.Provider, out.RawText); err != nil {
				c.logf("  audit: %v", err)
			}
		}

		if out.Status == models.OutcomeSuccess {
			out.Result = parse.Parse(out.RawText)
			if out.Result.Confidence == models.ConfidenceHeuristic {
				out.Status = models.OutcomePartial
			}
			c.logf("  %s: %.1f/10, %d issues (%s)", out.Provider, out.Result.Score, len(out.Result.Issues), out.Result.Confidence)
		} else {
			c.logf("  %s: %s (%s)", out.Provider, out.Status, out.Err)
		}
		outs = append(outs, out)
	}
	return outs
}

// aggregate computes per-provider scores and their mean over contributing
// outcomes only. Zero contributors yields 0.0 with an explicit count so the
// caller can tell "no signal" from a genuine zero score.
func aggregate(outs []*models.ReviewOutcome) (map[string]float64, float64, int) {
	scores := make(map[string]float64)
	var sum float64
	for _, o := range outs {
		if !o.Status.Contributes() || o.Result == nil {
			continue
		}
		scores[o.Provider] = o.Result.Score
		sum += o.Result.Score
	}
	if len(scores) == 0 {
		return scores, 0, 0
	}
	return scores, sum / float64(len(scores)), len(scores)
}

// matchAll runs the matcher across every pair of contributing providers.
// Fewer than two contributors means the consensus set is empty: agreement
// requires at least two independent opinions.
func (c *Controller) matchAll(outs []*models.ReviewOutcome) []models.ConsensusIssue {
	var ok []*models.ReviewOutcome
	for _, o := range outs {
		if o.Status.Contributes() && o.Result != nil {
			ok = append(ok, o)
		}
	}

	var all []models.ConsensusIssue
	for i := 0; i < len(ok); i++ {
		for j := i + 1; j < len(ok); j++ {
			all = append(all, c.matcher.Match(ok[i].Provider, ok[i].Result.Issues, ok[j].Provider, ok[j].Result.Issues)...)
		}
	}
	return all
}

// repairAll attempts a fix for every consensus issue in order. Individual
// failures never abort the batch.
func (c *Controller) repairAll(ctx context.Context, dir string, issues []models.ConsensusIssue, iteration int) (tried, applied int) {
	app := repair.NewApplicator(c.repairer, c.cfg.RepairTimeout)
	for i, ci := range issues {
		c.logf("  repair %d/%d via %s", i+1, len(issues), c.repairer.Name())
		res := app.Apply(ctx, dir, ci, iteration)
		switch {
		case !res.Attempted:
			c.logf("    skipped: target file not found")
			continue
		case res.Err != nil:
			c.logf("    failed: %v", res.Err)
		case !res.Applied:
			c.logf("    unconfirmed: no change-confirmation in output")
		}
		tried++
		if res.Applied {
			applied++
		}
	}
	return tried, applied
}

// persistIteration writes one finished iteration to the audit trail and the
// store. Persistence errors are reported but never stop the loop.
func (c *Controller) persistIteration(ctx context.Context, sessionID string, rec *models.IterationRecord) {
	if c.trail != nil {
		if err := c.trail.WriteIteration(*rec); err != nil {
			c.logf("  audit: %v", err)
		}
	}
	if c.store != nil {
		if err := c.store.AppendIteration(ctx, sessionID, rec); err != nil {
			c.logf("  store: %v", err)
		}
	}
}

// finish moves the session to a terminal state and flushes everything that
// is still pending: the last iteration record, the history dump, the store.
func (c *Controller) finish(ctx context.Context, s *models.ReviewSession, state models.SessionState, rec *models.IterationRecord) {
	s.State = state
	now := time.Now().UTC()
	s.EndedAt = &now

	if rec != nil {
		c.persistIteration(ctx, s.ID, rec)
	}
	if c.trail != nil {
		if err := c.trail.WriteHistory(s); err != nil {
			c.logf("  audit: %v", err)
		}
	}
	if c.store != nil {
		if err := c.store.FinishSession(ctx, s); err != nil {
			c.logf("  store: %v", err)
		}
	}
}

func countAvailable(reviewers []provider.Reviewer) int {
	n := 0
	for _, r := range reviewers {
		if r.Available() {
			n++
		}
	}
	return n
}
