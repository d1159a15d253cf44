package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/sqlstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/orchestrator"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
)

var (
	agentPolicyPath    string
	agentScriptPath    string
	agentMaxIterations int
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the propose/evaluate/execute agent loop",
}

// scriptedProposal is the on-disk shape of one entry in a --script file.
// Capsule has no live language-model planner (spec.md's explicit scope
// boundary); --script feeds a fixed list of proposals to ScriptedPlanner so
// the agent loop can be exercised deterministically.
type scriptedProposal struct {
	Done      bool           `json:"done"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args"`
	Reasoning string         `json:"reasoning"`
}

var agentRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run an agent loop for task using the scripted planner at --script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := args[0]

		loadedPolicy, err := policy.LoadPolicy(agentPolicyPath)
		if err != nil {
			return exitWith(ExitPlanValidation, err)
		}
		proposals, err := loadScriptedProposals(agentScriptPath)
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

		planner := orchestrator.NewScriptedPlanner(proposals...)
		options := orchestrator.AgentOptions{MaxIterations: agentMaxIterations}
		if loadedPolicy.Policy.GlobalTimeoutSeconds > 0 {
			options.Deadline = time.Duration(loadedPolicy.Policy.GlobalTimeoutSeconds) * time.Second
		}
		orch := orchestrator.NewAgentOrchestrator(store, registry, engine, workingDir, planner, options)

		toolSchemas := map[string]string{}
		for _, name := range registry.Names() {
			toolSchemas[name] = name
		}

		outcome, err := orch.Run(cmd.Context(), task, toolSchemas, loadedPolicy.Policy, loadedPolicy.Hash)
		if err != nil {
			return exitWith(ExitUnrecoverable, err)
		}

		if jsonOutput {
			return outputJSON(outcome)
		}
		fmt.Fprintf(os.Stdout, "run_id=%s status=%s message=%q\n", outcome.Run.RunID, outcome.Status, outcome.Message)
		for _, w := range outcome.PathWarnings {
			fmt.Fprintf(os.Stdout, "warning: %s\n", w)
		}

		if outcome.Run.FailedSteps > 0 {
			return exitWith(2, fmt.Errorf("agent run %s had %d failed step(s)", outcome.Run.RunID, outcome.Run.FailedSteps))
		}
		return nil
	},
}

func loadScriptedProposals(path string) ([]orchestrator.Proposal, error) {
	// #nosec G304 -- path is operator-supplied via --script.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}
	var raw []scriptedProposal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing script file: %w", err)
	}

	proposals := make([]orchestrator.Proposal, 0, len(raw))
	for _, r := range raw {
		if r.Done {
			proposals = append(proposals, orchestrator.Proposal{Kind: orchestrator.ProposalKindDone, Reasoning: r.Reasoning})
			continue
		}
		proposals = append(proposals, orchestrator.Proposal{
			Kind: orchestrator.ProposalKindToolCall, ToolName: r.ToolName, Args: r.Args, Reasoning: r.Reasoning,
		})
	}
	return proposals, nil
}

func init() {
	agentRunCmd.Flags().StringVar(&agentPolicyPath, "policy", "", "path to the policy YAML file (required)")
	agentRunCmd.Flags().StringVar(&agentScriptPath, "script", "", "path to a JSON file of scripted proposals (required)")
	agentRunCmd.Flags().IntVar(&agentMaxIterations, "max-iterations", 0, "override the agent loop's max_iterations (default 50)")
	_ = agentRunCmd.MarkFlagRequired("policy")
	_ = agentRunCmd.MarkFlagRequired("script")
	agentCmd.AddCommand(agentRunCmd)
	rootCmd.AddCommand(agentCmd)
}
