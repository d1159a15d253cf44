// Package cli wires Capsule's cobra command tree. Grounded on relia's
// cmd/relia-cli/main.go (explicit per-subcommand exit codes, a "policy
// lint" verb) restructured onto github.com/spf13/cobra in the style of
// jvs-project-jvs's internal/cli/root.go (SilenceUsage/SilenceErrors, a
// persistent --json flag, outputJSON helper).
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6/§7.
const (
	ExitOK             = 0
	ExitPlanValidation = 2
	ExitUnrecoverable  = 3
	ExitReplayMismatch = 4
	ExitRunNotFound    = 5
)

var (
	jsonOutput bool
	verbose    bool
	dbPath     string

	rootCmd = &cobra.Command{
		Use:   "capsule",
		Short: "Capsule - a local-first policy-gated tool execution runtime",
		Long: `Capsule runs declarative plans or LLM-driven agent loops against a
registry of built-in tools (fs.read, fs.write, http.get, shell.run), gating
every call through a fail-closed Policy Engine and recording every step in
an append-only, replayable audit store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "accepted but has no effect: no command writes log output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "capsule.db", "path to the audit store database file")
}

// Execute runs the root command and terminates the process with the
// resulting exit code, exactly as exitError carries it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(codeOf(err))
	}
}

// exitError carries spec.md §6's precise exit codes through cobra's
// error-returning RunE, the way relia's handleX functions return an int
// exit code directly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func codeOf(err error) int {
	var ee *exitError
	if e, ok := err.(*exitError); ok {
		ee = e
		return ee.code
	}
	return ExitUnrecoverable
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
