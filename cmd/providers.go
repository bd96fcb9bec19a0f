package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/xrev/internal/output"
	"github.com/joescharf/xrev/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured review providers and their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return providersRun()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func providersRun() error {
	table := ui.Table([]string{"Provider", "Available", "Review", "Repair"})

	for _, r := range getReviewers() {
		avail := output.Red("no")
		if r.Available() {
			avail = output.Green("yes")
		}
		table.Append([]string{
			output.Cyan(r.Name()),
			avail,
			capMark(r.Capabilities(), provider.CapReview),
			capMark(r.Capabilities(), provider.CapRepair),
		})
	}

	table.Render()
	return nil
}

func capMark(caps, want provider.Capability) string {
	if caps.Has(want) {
		return "✓"
	}
	return "-"
}
