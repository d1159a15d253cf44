package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <run_id>",
	Short: "Build a verdict report for a completed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		store, err := sqlstore.Open(dbPath)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		defer store.Close()

		run, ok, err := store.GetRun(runID)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		if !ok {
			return exitWith(ExitRunNotFound, fmt.Errorf("run %q not found", runID))
		}
		calls, err := store.ListCalls(runID)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		results, err := store.ListResults(runID)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		doc, err := report.Build(run, calls, results)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		return outputJSON(doc)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
