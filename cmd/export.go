package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/xrev/internal/store"
)

var (
	exportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session history as JSON, CSV, or Markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "sessions", "Data to export (sessions)")
	rootCmd.AddCommand(exportCmd)
}

func exportRun() error {
	if exportType != "sessions" {
		return fmt.Errorf("unknown export type: %s", exportType)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return err
	}

	// Load histories so the export is self-contained.
	for i, sess := range sessions {
		if full, err := s.GetSession(ctx, sess.ID); err == nil {
			sessions[i] = full
		}
	}

	switch exportFormat {
	case "json":
		type sessionOut struct {
			ID            string   `json:"id"`
			Directory     string   `json:"directory"`
			Files         []string `json:"files"`
			State         string   `json:"state"`
			TargetScore   float64  `json:"target_score"`
			FinalScore    float64  `json:"final_score"`
			MaxIterations int      `json:"max_iterations"`
			Iterations    any      `json:"iterations"`
		}
		out := make([]sessionOut, len(sessions))
		for i, sess := range sessions {
			out[i] = sessionOut{
				ID:            sess.ID,
				Directory:     sess.Directory,
				Files:         sess.Files,
				State:         string(sess.State),
				TargetScore:   sess.TargetScore,
				FinalScore:    sess.FinalScore(),
				MaxIterations: sess.MaxIterations,
				Iterations:    sess.Iterations,
			}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Directory", "State", "FinalScore", "Target", "Iterations", "Started"})
		for _, sess := range sessions {
			w.Write([]string{
				sess.ID, sess.Directory, string(sess.State),
				fmt.Sprintf("%.2f", sess.FinalScore()),
				fmt.Sprintf("%.1f", sess.TargetScore),
				fmt.Sprintf("%d", len(sess.Iterations)),
				sess.StartedAt.Format("2006-01-02T15:04:05Z"),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Sessions")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Directory | State | Score | Iterations |")
		fmt.Fprintln(ui.Out, "|----|-----------|-------|-------|------------|")
		for _, sess := range sessions {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %.2f | %d |\n",
				shortID(sess.ID), sess.Directory, sess.State, sess.FinalScore(), len(sess.Iterations))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}
