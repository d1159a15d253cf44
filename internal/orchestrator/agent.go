package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/idgen"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// AgentStatus is the terminal state of an agent loop (spec.md §4.4).
type AgentStatus string

const (
	AgentStatusCompleted          AgentStatus = "completed"
	AgentStatusRepetitionDetected AgentStatus = "repetition_detected"
	AgentStatusMaxIterations      AgentStatus = "max_iterations"
	AgentStatusTimeout            AgentStatus = "timeout"
	AgentStatusError              AgentStatus = "error"
)

// AgentOptions configures one agent loop, with the defaults spec.md §4.4
// names.
type AgentOptions struct {
	MaxHistoryItems int
	HistoryCharCap  int
	RepetitionN     int
	MaxIterations   int
	Deadline        time.Duration

	// ValidateHallucinatedPaths enables the optional post-completion path
	// scan (spec.md §4.4, "enabled per pack"). Off by default: Capsule has
	// no pack-level toggle to turn it on from, so callers opt in directly.
	ValidateHallucinatedPaths bool
}

func (o AgentOptions) withDefaults() AgentOptions {
	if o.MaxHistoryItems <= 0 {
		o.MaxHistoryItems = 10
	}
	if o.HistoryCharCap <= 0 {
		o.HistoryCharCap = 8000
	}
	if o.RepetitionN <= 0 {
		o.RepetitionN = 3
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 50
	}
	return o
}

// AgentOutcome is what AgentOrchestrator.Run returns once the loop
// terminates.
type AgentOutcome struct {
	Run          types.Run
	Status       AgentStatus
	Message      string
	PathWarnings []string
	FinalAnswer  string
}

// AgentOrchestrator drives the propose -> evaluate -> execute -> learn
// cycle of spec.md §4.4 against an abstract Planner. Structurally it
// mirrors PlanOrchestrator's build/decide/act/record shape, generalized to
// a repeating loop with no fixed step count.
type AgentOrchestrator struct {
	Store      audit.Store
	Registry   *tool.Registry
	Engine     *policy.Engine
	WorkingDir string
	Planner    Planner
	Options    AgentOptions

	activePolicy  *types.Policy
	accessedPaths map[string]struct{}
}

// NewAgentOrchestrator wires the collaborators an agent loop needs.
func NewAgentOrchestrator(store audit.Store, registry *tool.Registry, engine *policy.Engine, workingDir string, planner Planner, options AgentOptions) *AgentOrchestrator {
	return &AgentOrchestrator{
		Store: store, Registry: registry, Engine: engine, WorkingDir: workingDir,
		Planner: planner, Options: options.withDefaults(),
	}
}

// Run drives the agent loop for task against policyDoc/policyHash until a
// terminal condition fires.
func (o *AgentOrchestrator) Run(ctx context.Context, task string, toolSchemas map[string]string, policyDoc types.Policy, policyHash string) (AgentOutcome, error) {
	runID, err := idgen.Generate(o.Store.RunIDExists)
	if err != nil {
		return AgentOutcome{}, fmt.Errorf("generating run id: %w", err)
	}

	policyJSON := mustCanonicalJSON(policyCanonicalView(policyDoc))
	run := types.Run{
		RunID: runID, CreatedAt: time.Now(), PolicyHash: policyHash,
		PlanJSON: "{}", PolicyJSON: policyJSON, Mode: types.ModeAgent, Status: types.RunStatusPending,
	}
	if err := o.Store.CreateRun(run); err != nil {
		return AgentOutcome{}, fmt.Errorf("creating run: %w", err)
	}
	run.Status = types.RunStatusRunning
	if err := o.Store.UpdateRun(run); err != nil {
		return AgentOutcome{}, fmt.Errorf("marking run running: %w", err)
	}

	o.activePolicy = &policyDoc
	o.accessedPaths = make(map[string]struct{})
	counters := make(map[string]int)
	var history []HistoryItem
	var lastResult *types.ToolResult
	var finalAnswer string

	deadline := time.Time{}
	if o.Options.Deadline > 0 {
		deadline = time.Now().Add(o.Options.Deadline)
	}

	for iteration := 0; ; iteration++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return o.finish(run, AgentStatusTimeout, "global deadline exceeded", finalAnswer)
		}
		if iteration >= o.Options.MaxIterations {
			return o.finish(run, AgentStatusMaxIterations, fmt.Sprintf("reached max_iterations=%d", o.Options.MaxIterations), finalAnswer)
		}

		state := State{
			Task: task, ToolSchemas: toolSchemas,
			PolicySummary: summarizePolicy(policyDoc),
			History:       truncateHistory(history, o.Options.MaxHistoryItems, o.Options.HistoryCharCap),
			Iteration:     iteration,
		}

		proposal, err := o.Planner.ProposeNext(ctx, state, lastResult)
		if err != nil {
			run.Status = types.RunStatusFailed
			_ = o.Store.UpdateRun(run)
			return AgentOutcome{Run: run, Status: AgentStatusError, Message: err.Error()}, nil
		}

		if err := o.recordProposal(run.RunID, iteration, proposal); err != nil {
			run.Status = types.RunStatusFailed
			_ = o.Store.UpdateRun(run)
			return AgentOutcome{Run: run, Status: AgentStatusError, Message: err.Error()}, nil
		}

		if proposal.Kind == ProposalKindDone {
			finalAnswer = proposal.Reasoning
			return o.finish(run, AgentStatusCompleted, "planner signaled done", finalAnswer)
		}

		if detectRepetition(history, proposal, o.Options.RepetitionN) {
			return o.finish(run, AgentStatusRepetitionDetected, fmt.Sprintf("same (tool, args) proposed %d times in a row", o.Options.RepetitionN), finalAnswer)
		}

		result, execErr := o.proposeToResult(ctx, run.RunID, iteration, proposal, counters)
		if execErr != nil {
			run.Status = types.RunStatusFailed
			_ = o.Store.UpdateRun(run)
			return AgentOutcome{Run: run, Status: AgentStatusError, Message: execErr.Error()}, nil
		}

		switch result.Status {
		case types.StatusSuccess:
			run.CompletedSteps++
		case types.StatusDenied:
			run.DeniedSteps++
		case types.StatusError:
			run.FailedSteps++
		}
		run.TotalSteps++

		history = append(history, HistoryItem{
			ToolName: proposal.ToolName, InputHashHead: hashHead(result.InputHash),
			Status: result.Status, Excerpt: excerptOf(result),
		})
		lastResult = &result
	}
}

func (o *AgentOrchestrator) finish(run types.Run, status AgentStatus, message, finalAnswer string) (AgentOutcome, error) {
	run.CompletedAt = time.Now()
	switch status {
	case AgentStatusCompleted:
		run.Status = types.RunStatusCompleted
	default:
		run.Status = types.RunStatusFailed
	}
	if err := o.Store.UpdateRun(run); err != nil {
		return AgentOutcome{}, fmt.Errorf("finalizing run: %w", err)
	}

	outcome := AgentOutcome{Run: run, Status: status, Message: message, FinalAnswer: finalAnswer}
	if o.Options.ValidateHallucinatedPaths && finalAnswer != "" {
		outcome.PathWarnings = ExtractPathWarnings(finalAnswer, o.accessedSlice())
	}
	return outcome, nil
}

func (o *AgentOrchestrator) accessedSlice() []string {
	out := make([]string, 0, len(o.accessedPaths))
	for p := range o.accessedPaths {
		out = append(out, p)
	}
	return out
}

func (o *AgentOrchestrator) recordProposal(runID string, iteration int, p Proposal) error {
	id, err := idgen.Generate(nil)
	if err != nil {
		return fmt.Errorf("generating proposal id: %w", err)
	}

	proposalType := types.ProposalToolCall
	if p.Kind == ProposalKindDone {
		proposalType = types.ProposalDone
	}

	argsJSON := ""
	if p.Args != nil {
		argsJSON = mustCanonicalJSON(p.Args)
	}

	return o.Store.RecordProposal(types.PlannerProposal{
		ID: id, RunID: runID, Iteration: iteration, ProposalType: proposalType,
		ToolName: p.ToolName, ArgsJSON: argsJSON, Reasoning: p.Reasoning,
		RawResponse: p.RawResponse, CreatedAt: time.Now(),
	})
}

// proposeToResult evaluates and (on allow) executes one agent-proposed
// tool call, recording the ToolCall/ToolResult pair exactly like a plan
// step (spec.md §4.4 steps 5-6).
func (o *AgentOrchestrator) proposeToResult(ctx context.Context, runID string, iteration int, p Proposal, counters map[string]int) (types.ToolResult, error) {
	callID, err := idgen.Generate(o.Store.CallIDExists)
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("generating call id: %w", err)
	}

	call := types.ToolCall{CallID: callID, RunID: runID, StepIndex: iteration, ToolName: p.ToolName, Args: p.Args, CreatedAt: time.Now()}
	inputHash, err := canon.Hash(call.CanonicalView())
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("hashing call: %w", err)
	}

	decision := o.Engine.Evaluate(ctx, p.ToolName, p.Args, counters)

	var result types.ToolResult
	if !decision.Decision.Allowed {
		now := time.Now()
		result = types.ToolResult{CallID: callID, RunID: runID, Status: types.StatusDenied, Decision: decision.Decision, StartedAt: now, EndedAt: now}
	} else {
		result = o.execute(ctx, call, decision, counters)
		o.trackAccessedPath(p)
	}
	result.InputHash = inputHash

	outputHash, err := canon.Hash(result.CanonicalOutputView())
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("hashing result: %w", err)
	}
	result.OutputHash = outputHash

	if err := o.Store.WithTx(func(tx audit.Tx) error {
		if err := tx.RecordCall(call); err != nil {
			return err
		}
		return tx.RecordResult(result)
	}); err != nil {
		return types.ToolResult{}, fmt.Errorf("recording call/result: %w", err)
	}

	return result, nil
}

func (o *AgentOrchestrator) execute(ctx context.Context, call types.ToolCall, decision policy.Result, counters map[string]int) types.ToolResult {
	t, ok := o.Registry.Lookup(call.ToolName)
	if !ok {
		now := time.Now()
		return types.ToolResult{CallID: call.CallID, RunID: call.RunID, Status: types.StatusError, Error: fmt.Sprintf("tool %q is not registered", call.ToolName), Decision: decision.Decision, StartedAt: now, EndedAt: now}
	}

	tctx := &tool.Context{Policy: o.activePolicy, WorkingDir: o.WorkingDir, RunID: call.RunID, PinnedIP: decision.ResolvedIP}
	startedAt := time.Now()
	out, err := t.Execute(ctx, call.Args, tctx)
	endedAt := time.Now()
	counters[call.ToolName]++

	if err != nil {
		return types.ToolResult{CallID: call.CallID, RunID: call.RunID, Status: types.StatusError, Error: err.Error(), Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt}
	}
	if !out.Success {
		return types.ToolResult{CallID: call.CallID, RunID: call.RunID, Status: types.StatusError, Error: out.Error, Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt}
	}
	return types.ToolResult{CallID: call.CallID, RunID: call.RunID, Status: types.StatusSuccess, Output: out.Data, Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt}
}

func (o *AgentOrchestrator) trackAccessedPath(p Proposal) {
	if p.ToolName != "fs.read" && p.ToolName != "fs.write" {
		return
	}
	if path, ok := p.Args["path"].(string); ok {
		o.accessedPaths[path] = struct{}{}
	}
}

func summarizePolicy(p types.Policy) string {
	names := make([]string, 0, len(p.Tools))
	for name := range p.Tools {
		names = append(names, name)
	}
	return fmt.Sprintf("boundary=%s tools=%s", p.Boundary, strings.Join(names, ","))
}

// truncateHistory drops the oldest items first until the item count and
// the total character count (tool name, input-hash head and excerpt of
// every item) both fit the caps (spec.md §4.4 step 1).
func truncateHistory(history []HistoryItem, maxItems, charCap int) []HistoryItem {
	if len(history) > maxItems {
		history = history[len(history)-maxItems:]
	}
	for len(history) > 0 && totalChars(history) > charCap {
		history = history[1:]
	}
	return history
}

func totalChars(history []HistoryItem) int {
	n := 0
	for _, h := range history {
		n += len(h.Excerpt) + len(h.ToolName) + len(h.InputHashHead)
	}
	return n
}

// detectRepetition reports whether proposal matches the last n-1 history
// entries' (tool_name, canonical-args-hash) on top of itself, i.e. whether
// this would be the nth identical proposal in a row (spec.md §4.4 step 4).
func detectRepetition(history []HistoryItem, proposal Proposal, n int) bool {
	if n <= 1 || len(history) < n-1 {
		return false
	}
	args := proposal.Args
	if args == nil {
		args = map[string]any{}
	}
	callHash, err := canon.Hash(args)
	if err != nil {
		return false
	}
	want := hashHead(callHash)
	tail := history[len(history)-(n-1):]
	for _, h := range tail {
		if h.ToolName != proposal.ToolName || h.InputHashHead != want {
			return false
		}
	}
	return true
}

func hashHead(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}

func excerptOf(result types.ToolResult) string {
	const maxLen = 200
	var s string
	switch result.Status {
	case types.StatusSuccess:
		s = mustCanonicalJSON(result.Output)
	case types.StatusError:
		s = result.Error
	case types.StatusDenied:
		s = result.Decision.Reason
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

var hallucinatedPathPattern = regexp.MustCompile(`(?:/[\w.\-]+)+\.[A-Za-z0-9]{1,8}|[\w.\-]+\.(?:go|py|txt|json|yaml|yml|md|csv)`)

// ExtractPathWarnings scans a planner's free-form final answer for
// path-shaped substrings and reports any that do not appear in accessed
// (spec.md §4.4's optional hallucinated-path validation). It never blocks
// completion; callers only log or display the result.
func ExtractPathWarnings(finalAnswer string, accessed []string) []string {
	seen := make(map[string]struct{}, len(accessed))
	for _, p := range accessed {
		seen[p] = struct{}{}
	}

	matches := hallucinatedPathPattern.FindAllString(finalAnswer, -1)
	var warnings []string
	reported := make(map[string]struct{})
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		if _, already := reported[m]; already {
			continue
		}
		reported[m] = struct{}{}
		warnings = append(warnings, fmt.Sprintf("path %q mentioned in final answer was never accessed", m))
	}
	return warnings
}
