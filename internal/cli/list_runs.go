package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
)

var listRunsCmd = &cobra.Command{
	Use:   "list-runs",
	Short: "List every run recorded in the audit store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sqlstore.Open(dbPath)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		if jsonOutput {
			return outputJSON(runs)
		}
		for _, run := range runs {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\tsteps=%d/%d/%d/%d\n",
				run.RunID, run.Mode, run.Status,
				run.CompletedSteps, run.DeniedSteps, run.FailedSteps, run.TotalSteps)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listRunsCmd)
}
