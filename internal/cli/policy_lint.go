package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Operate on policy documents",
}

// policyLintCmd loads a policy and prints its boundary and hash, the same
// operator sanity check relia's "policy lint" subcommand performs
// (cmd/relia-cli/main.go) before a policy is handed to a run.
var policyLintCmd = &cobra.Command{
	Use:   "lint <policy_path>",
	Short: "Load a policy and report its boundary and hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := policy.LoadPolicy(args[0])
		if err != nil {
			return exitWith(ExitPlanValidation, err)
		}

		toolNames := make([]string, 0, len(loaded.Policy.Tools))
		for name := range loaded.Policy.Tools {
			toolNames = append(toolNames, name)
		}

		if jsonOutput {
			return outputJSON(map[string]any{
				"boundary":    loaded.Policy.Boundary,
				"policy_hash": loaded.Hash,
				"tools":       toolNames,
			})
		}
		fmt.Fprintf(os.Stdout, "ok boundary=%s policy_hash=%s tools=%d\n",
			loaded.Policy.Boundary, loaded.Hash, len(toolNames))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyLintCmd)
	rootCmd.AddCommand(policyCmd)
}
