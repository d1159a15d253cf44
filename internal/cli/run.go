package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/orchestrator"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/planfile"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
)

var (
	runPolicyPath string
	runNoFailFast bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run a plan under a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		planPath := args[0]

		loadedPlan, err := planfile.LoadPlan(planPath)
		if err != nil {
			return exitWith(ExitPlanValidation, err)
		}
		loadedPolicy, err := policy.LoadPolicy(runPolicyPath)
		if err != nil {
			return exitWith(ExitPlanValidation, err)
		}

		store, err := sqlstore.Open(dbPath)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}
		defer store.Close()

		workingDir := currentWorkingDir()
		engine := policy.New(&loadedPolicy.Policy, loadedPolicy.Hash, workingDir)

		registry, err := newRegistry(engine)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		orch := orchestrator.NewPlanOrchestrator(store, registry, engine, workingDir)
		orch.FailFast = !runNoFailFast

		run, err := orch.Run(cmd.Context(), loadedPlan.Plan, loadedPolicy.Policy, loadedPolicy.Hash)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		if jsonOutput {
			return outputJSON(run)
		}
		fmt.Fprintf(os.Stdout, "run_id=%s status=%s completed=%d denied=%d failed=%d\n",
			run.RunID, run.Status, run.CompletedSteps, run.DeniedSteps, run.FailedSteps)

		if run.FailedSteps > 0 {
			return exitWith(2, fmt.Errorf("run %s had %d failed step(s)", run.RunID, run.FailedSteps))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPolicyPath, "policy", "", "path to the policy YAML file (required)")
	runCmd.Flags().BoolVar(&runNoFailFast, "no-fail-fast", false, "continue past the first non-success step")
	_ = runCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(runCmd)
}

func currentWorkingDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
