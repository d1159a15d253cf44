package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <run_id>",
	Short: "Recreate a run's steps without calling tools, verifying every recorded hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		store, err := sqlstore.Open(dbPath)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		defer store.Close()

		result, err := replay.Replay(store, runID)
		if replayErr, ok := err.(*replay.Error); ok {
			if jsonOutput {
				_ = outputJSON(result)
			}
			return exitWith(ExitReplayMismatch, replayErr)
		} else if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Fprintf(os.Stdout, "origin=%s replay=%s plan_hash_ok=%t mismatches=%d\n",
			result.OriginRunID, result.NewRun.RunID, result.PlanHashOK, len(result.Mismatches))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
