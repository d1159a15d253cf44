// Package orchestrator drives a Plan or an Agent loop through the
// propose/evaluate/execute/record cycle spec.md §4.3/§4.4 describes,
// generalized from relia's AuthorizeService.Authorize build-context,
// decide, act, record shape (internal/api/authorize_service.go) from "one
// authorization decision" to "one step of many."
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/idgen"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// PlanOrchestrator drives a linear Plan to completion, recording every
// step as a ToolCall/ToolResult pair (spec.md §4.3).
type PlanOrchestrator struct {
	Store      audit.Store
	Registry   *tool.Registry
	Engine     *policy.Engine
	WorkingDir string
	// FailFast halts the run after the first non-success result.
	// NewPlanOrchestrator sets it to true; the zero value runs every step.
	FailFast bool

	activePolicy *types.Policy
}

// NewPlanOrchestrator wires the three collaborators a plan run needs.
// FailFast defaults to true (spec.md §4.3).
func NewPlanOrchestrator(store audit.Store, registry *tool.Registry, engine *policy.Engine, workingDir string) *PlanOrchestrator {
	return &PlanOrchestrator{Store: store, Registry: registry, Engine: engine, WorkingDir: workingDir, FailFast: true}
}

// Run executes plan start to finish under policyDoc/policyHash, creating a
// new Run row and appending one ToolCall/ToolResult pair per step.
func (o *PlanOrchestrator) Run(ctx context.Context, plan types.Plan, policyDoc types.Policy, policyHash string) (types.Run, error) {
	planHash, err := canon.Hash(plan.CanonicalView())
	if err != nil {
		return types.Run{}, fmt.Errorf("hashing plan: %w", err)
	}
	policyJSONHash, err := canon.Hash(policyCanonicalView(policyDoc))
	if err != nil {
		return types.Run{}, fmt.Errorf("hashing policy: %w", err)
	}
	if policyJSONHash != policyHash {
		return types.Run{}, fmt.Errorf("policy hash mismatch: loaded policy does not match supplied hash")
	}

	o.activePolicy = &policyDoc

	deadline := time.Time{}
	if policyDoc.GlobalTimeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(policyDoc.GlobalTimeoutSeconds) * time.Second)
	}

	runID, err := idgen.Generate(o.Store.RunIDExists)
	if err != nil {
		return types.Run{}, fmt.Errorf("generating run id: %w", err)
	}

	run := types.Run{
		RunID:      runID,
		CreatedAt:  time.Now(),
		PlanHash:   planHash,
		PolicyHash: policyHash,
		PlanJSON:   mustCanonicalJSON(plan.CanonicalView()),
		PolicyJSON: mustCanonicalJSON(policyCanonicalView(policyDoc)),
		Mode:       types.ModeRun,
		Status:     types.RunStatusPending,
		TotalSteps: len(plan.Steps),
	}
	if err := o.Store.CreateRun(run); err != nil {
		return types.Run{}, fmt.Errorf("creating run: %w", err)
	}

	run.Status = types.RunStatusRunning
	if err := o.Store.UpdateRun(run); err != nil {
		return types.Run{}, fmt.Errorf("marking run running: %w", err)
	}

	counters := make(map[string]int)

	for i, step := range plan.Steps {
		if !deadline.IsZero() && time.Now().After(deadline) {
			if _, execErr := o.recordTimeout(run.RunID, i, step, deadline); execErr != nil {
				run.Status = types.RunStatusFailed
				_ = o.Store.UpdateRun(run)
				return run, execErr
			}
			run.FailedSteps++
			break
		}

		result, execErr := o.runStep(ctx, run.RunID, i, step, counters)
		if execErr != nil {
			run.Status = types.RunStatusFailed
			_ = o.Store.UpdateRun(run)
			return run, execErr
		}

		switch result.Status {
		case types.StatusSuccess:
			run.CompletedSteps++
		case types.StatusDenied:
			run.DeniedSteps++
		case types.StatusError:
			run.FailedSteps++
		}

		if o.FailFast && result.Status != types.StatusSuccess {
			break
		}
	}

	run.CompletedAt = time.Now()
	if run.FailedSteps > 0 {
		run.Status = types.RunStatusFailed
	} else {
		run.Status = types.RunStatusCompleted
	}
	if err := o.Store.UpdateRun(run); err != nil {
		return run, fmt.Errorf("finalizing run: %w", err)
	}

	return run, nil
}

// runStep builds, evaluates, and (on allow) executes a single plan step,
// recording the ToolCall/ToolResult pair atomically. counters is mutated
// in place: spec.md P8 counts only calls with status success/error toward
// max_calls_per_tool, so denied calls never increment it.
func (o *PlanOrchestrator) runStep(ctx context.Context, runID string, stepIndex int, step types.PlanStep, counters map[string]int) (types.ToolResult, error) {
	callID, err := idgen.Generate(o.Store.CallIDExists)
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("generating call id: %w", err)
	}

	call := types.ToolCall{
		CallID:    callID,
		RunID:     runID,
		StepIndex: stepIndex,
		ToolName:  step.Tool,
		Args:      step.Args,
		CreatedAt: time.Now(),
	}

	inputHash, err := canon.Hash(call.CanonicalView())
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("hashing call: %w", err)
	}

	decision := o.Engine.Evaluate(ctx, step.Tool, step.Args, counters)

	var result types.ToolResult
	if !decision.Decision.Allowed {
		now := time.Now()
		result = types.ToolResult{
			CallID: callID, RunID: runID, Status: types.StatusDenied,
			Decision: decision.Decision, StartedAt: now, EndedAt: now, InputHash: inputHash,
		}
	} else {
		result = o.executeAllowed(ctx, call, decision, counters)
		result.InputHash = inputHash
	}

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

// recordTimeout records a step as failed without evaluating or executing
// it because the run's global_timeout_seconds deadline has already
// passed (spec.md §4.1, mirroring the original engine's pre-step timeout
// check).
func (o *PlanOrchestrator) recordTimeout(runID string, stepIndex int, step types.PlanStep, deadline time.Time) (types.ToolResult, error) {
	callID, err := idgen.Generate(o.Store.CallIDExists)
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("generating call id: %w", err)
	}

	call := types.ToolCall{
		CallID: callID, RunID: runID, StepIndex: stepIndex,
		ToolName: step.Tool, Args: step.Args, CreatedAt: time.Now(),
	}
	inputHash, err := canon.Hash(call.CanonicalView())
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("hashing call: %w", err)
	}

	now := time.Now()
	result := types.ToolResult{
		CallID: callID, RunID: runID, Status: types.StatusError,
		Error: fmt.Sprintf("global timeout exceeded: deadline was %s", deadline.Format(time.RFC3339)),
		Decision: types.PolicyDecision{Allowed: false, Reason: "global_timeout_seconds exceeded", RuleHit: "global_timeout_seconds"},
		StartedAt: now, EndedAt: now, InputHash: inputHash,
	}
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

// executeAllowed runs the tool for an allowed call and increments its
// quota counter. Timings exclude policy-evaluation time (spec.md §4.3):
// started_at/ended_at bracket only the Execute call.
func (o *PlanOrchestrator) executeAllowed(ctx context.Context, call types.ToolCall, decision policy.Result, counters map[string]int) types.ToolResult {
	t, ok := o.Registry.Lookup(call.ToolName)
	if !ok {
		now := time.Now()
		return types.ToolResult{
			CallID: call.CallID, RunID: call.RunID, Status: types.StatusError,
			Error: fmt.Sprintf("tool %q is not registered", call.ToolName),
			Decision: decision.Decision, StartedAt: now, EndedAt: now,
		}
	}

	tctx := &tool.Context{Policy: o.activePolicy, WorkingDir: o.WorkingDir, RunID: call.RunID, PinnedIP: decision.ResolvedIP}

	startedAt := time.Now()
	out, err := t.Execute(ctx, call.Args, tctx)
	endedAt := time.Now()
	counters[call.ToolName]++

	if err != nil {
		return types.ToolResult{
			CallID: call.CallID, RunID: call.RunID, Status: types.StatusError,
			Error: err.Error(), Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt,
		}
	}
	if !out.Success {
		return types.ToolResult{
			CallID: call.CallID, RunID: call.RunID, Status: types.StatusError,
			Error: out.Error, Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt,
		}
	}

	return types.ToolResult{
		CallID: call.CallID, RunID: call.RunID, Status: types.StatusSuccess,
		Output: out.Data, Decision: decision.Decision, StartedAt: startedAt, EndedAt: endedAt,
	}
}

func mustCanonicalJSON(v map[string]any) string {
	data, err := canon.Canonicalize(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func policyCanonicalView(p types.Policy) map[string]any {
	return policy.PolicyCanonicalView(p)
}
