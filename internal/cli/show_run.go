package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
)

var showRunCmd = &cobra.Command{
	Use:   "show-run <run_id>",
	Short: "Show a run and its recorded calls, results, and proposals",
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
		proposals, err := store.ListProposals(runID)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"run": run, "calls": calls, "results": results, "proposals": proposals,
			})
		}

		fmt.Printf("run_id=%s mode=%s status=%s plan_hash=%s policy_hash=%s\n",
			run.RunID, run.Mode, run.Status, run.PlanHash, run.PolicyHash)
		resultByCallID := make(map[string]string, len(results))
		for _, r := range results {
			resultByCallID[r.CallID] = string(r.Status)
		}
		for _, call := range calls {
			fmt.Printf("  step=%d tool=%s status=%s\n", call.StepIndex, call.ToolName, resultByCallID[call.CallID])
		}
		for _, p := range proposals {
			fmt.Printf("  proposal iteration=%d type=%s tool=%s\n", p.Iteration, p.ProposalType, p.ToolName)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showRunCmd)
}
