package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/output"
	"github.com/joescharf/xrev/internal/store"
)

var (
	sessionState string
	sessionLimit int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect past review sessions",
	Long: `Inspect past review sessions.

Running bare 'xrev session' is the same as 'xrev session list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full iteration history for one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionState, "state", "", "Filter by state: converged, exhausted, aborted")
	sessionListCmd.Flags().IntVar(&sessionLimit, "limit", 0, "Maximum number of sessions to show")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx, store.SessionFilter{
		State: models.SessionState(sessionState),
		Limit: sessionLimit,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No sessions recorded. Use 'xrev run <dir>' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Directory", "State", "Score", "Target", "Started"})
	for _, sess := range sessions {
		full, err := s.GetSession(ctx, sess.ID)
		if err != nil {
			full = sess
		}
		table.Append([]string{
			output.Cyan(shortID(sess.ID)),
			sess.Directory,
			output.StateColor(sess.State),
			output.ScoreColor(full.FinalScore()),
			fmt.Sprintf("%.1f", sess.TargetScore),
			timeAgo(sess.StartedAt),
		})
	}
	table.Render()
	return nil
}

func sessionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	session, err := findSession(ctx, s, id)
	if err != nil {
		return err
	}

	ui.Info("Session %s", output.Cyan(session.ID))
	ui.Info("Directory: %s", session.Directory)
	ui.Info("Files: %s", strings.Join(session.Files, ", "))
	ui.Info("State: %s", output.StateColor(session.State))
	ui.Info("Score: %s (target %.1f, max %d iterations)",
		output.ScoreColor(session.FinalScore()), session.TargetScore, session.MaxIterations)
	if session.EndedAt != nil {
		ui.Info("Duration: %s", session.EndedAt.Sub(session.StartedAt).Round(time.Second))
	}

	for _, rec := range session.Iterations {
		fmt.Fprintln(ui.Out)
		ui.Info("Iteration %d: average %s across %d providers", rec.Index, output.ScoreColor(rec.AverageScore), rec.Contributors)
		for provider, score := range rec.Scores {
			ui.VerboseLog("%s: %.1f", provider, score)
		}
		for _, ci := range rec.Consensus {
			title := ci.Keyword
			if ci.Basis == models.MatchLocality {
				title = fmt.Sprintf("%s:%d", ci.File, ci.Line)
			}
			ui.Info("  consensus [%s] %s", output.SeverityColor(ci.Severity), title)
		}
		if rec.RepairsTried > 0 {
			ui.Info("  repairs: %d/%d applied", rec.RepairsOK, rec.RepairsTried)
		}
	}
	return nil
}

// findSession resolves a session by full ID or unique prefix.
func findSession(ctx context.Context, s store.Store, id string) (*models.ReviewSession, error) {
	if session, err := s.GetSession(ctx, id); err == nil {
		return session, nil
	}

	upper := strings.ToUpper(id)
	sessions, err := s.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.ReviewSession
	for _, session := range sessions {
		if strings.HasPrefix(session.ID, upper) {
			matches = append(matches, session)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session not found: %s", id)
	case 1:
		return s.GetSession(ctx, matches[0].ID)
	default:
		return nil, fmt.Errorf("ambiguous session ID %s: matches %d sessions", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// timeAgo renders a timestamp as a coarse relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
