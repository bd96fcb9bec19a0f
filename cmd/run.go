package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/xrev/internal/audit"
	"github.com/joescharf/xrev/internal/discover"
	"github.com/joescharf/xrev/internal/loop"
	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/output"
	"github.com/joescharf/xrev/internal/provider"
)

var (
	runTarget        float64
	runMaxIterations int
	runFiles         []string
	runProviders     []string
	runNoRepair      bool
	runTimeout       int
	runAuditDir      string
)

var runCmd = &cobra.Command{
	Use:   "run [directory]",
	Short: "Run the cross-review loop on a directory",
	Long: `Review a directory with every available provider, find consensus
issues, and repair them iteratively until the average score reaches the
target or the iteration budget is exhausted.

Raw provider output and per-iteration consensus reports are written to
the audit directory (default: a sibling <directory>-reviews).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return runRun(cmd, dir)
	},
}

func init() {
	runCmd.Flags().Float64Var(&runTarget, "target", 0, "Target average score in [0,10] (default from config: 8.0)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Maximum review iterations (default from config: 3)")
	runCmd.Flags().StringSliceVar(&runFiles, "files", nil, "Explicit file subset to review (default: discover core files)")
	runCmd.Flags().StringArrayVar(&runProviders, "provider", nil, "Provider to use, repeatable (default: all configured)")
	runCmd.Flags().BoolVar(&runNoRepair, "no-repair", false, "Review only, never attempt repairs")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "Per-provider timeout in seconds (default from config: 120)")
	runCmd.Flags().StringVar(&runAuditDir, "audit-dir", "", "Directory for audit artifacts")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	files := runFiles
	if len(files) == 0 {
		files, err = discover.CoreFiles(dir)
		if err != nil {
			return err
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no source files found under %s", dir)
	}

	reviewers := getReviewers()
	if len(runProviders) > 0 {
		reviewers, err = filterReviewers(reviewers, runProviders)
		if err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would review %s", dir)
		for _, f := range files {
			ui.DryRunMsg("  file: %s", f)
		}
		for _, r := range reviewers {
			avail := "unavailable"
			if r.Available() {
				avail = "available"
			}
			ui.DryRunMsg("  provider: %s (%s)", r.Name(), avail)
		}
		return nil
	}

	auditDir := runAuditDir
	if auditDir == "" {
		auditDir = dir + "-reviews"
	}
	trail, err := audit.New(auditDir)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		ui.Warning("Session persistence disabled: %v", err)
		s = nil
	}

	cfg := loop.Config{
		TargetScore:   viper.GetFloat64("review.target_score"),
		MaxIterations: viper.GetInt("review.max_iterations"),
		ReviewTimeout: time.Duration(viper.GetInt("review.timeout_seconds")) * time.Second,
		RepairTimeout: time.Duration(viper.GetInt("repair.timeout_seconds")) * time.Second,
		Pause:         time.Duration(viper.GetInt("review.pause_seconds")) * time.Second,
		NoRepair:      runNoRepair,
		Vocabulary:    viper.GetStringSlice("consensus.keywords"),
	}
	if runTarget > 0 {
		cfg.TargetScore = runTarget
	}
	if runMaxIterations > 0 {
		cfg.MaxIterations = runMaxIterations
	}
	if runTimeout > 0 {
		cfg.ReviewTimeout = time.Duration(runTimeout) * time.Second
	}

	// A typed nil inside a non-nil interface would defeat the controller's
	// nil checks, so nil maps to nil explicitly.
	var ls loop.Store
	if s != nil {
		ls = s
	}

	controller := loop.New(reviewers, trail, ls, cfg)
	controller.SetLogf(ui.Info)

	ui.Info("Reviewing %s (%s)", dir, strings.Join(files, ", "))
	session, err := controller.Run(cmd.Context(), dir, files)
	if errors.Is(err, loop.ErrNoProviders) {
		ui.Error("No review providers available. Run 'xrev providers' to see why.")
		return err
	}
	if err != nil {
		return err
	}

	printSummary(session, auditDir)
	if !session.Converged() {
		return fmt.Errorf("did not converge: final score %.2f, target %.1f", session.FinalScore(), session.TargetScore)
	}
	return nil
}

// filterReviewers keeps only the named providers, preserving invocation order.
func filterReviewers(reviewers []provider.Reviewer, names []string) ([]provider.Reviewer, error) {
	var out []provider.Reviewer
	for _, name := range names {
		found := false
		for _, r := range reviewers {
			if strings.EqualFold(r.Name(), name) {
				out = append(out, r)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	}
	return out, nil
}

func printSummary(session *models.ReviewSession, auditDir string) {
	fmt.Fprintln(ui.Out)
	ui.Info("Session %s", output.Cyan(session.ID))
	ui.Info("State: %s", output.StateColor(session.State))
	ui.Info("Score: %s (target %.1f)", output.ScoreColor(session.FinalScore()), session.TargetScore)

	table := ui.Table([]string{"Iter", "Average", "Consensus", "Repairs"})
	for _, rec := range session.Iterations {
		table.Append([]string{
			fmt.Sprintf("%d", rec.Index),
			fmt.Sprintf("%.2f (%d providers)", rec.AverageScore, rec.Contributors),
			fmt.Sprintf("%d", len(rec.Consensus)),
			fmt.Sprintf("%d/%d applied", rec.RepairsOK, rec.RepairsTried),
		})
	}
	table.Render()

	ui.Info("Audit artifacts: %s", auditDir)
}
