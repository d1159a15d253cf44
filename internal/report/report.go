// Package report assembles the canonical, JSON-able report dict for a
// run (spec.md §2's Reporting row: "canonical report dict assembly";
// console rendering is out of scope and lives in internal/cli). Grounded
// on relia's internal/grade/grade.go: evaluate a stored record against a
// set of structural expectations and return a {verdict, reasons} shape —
// generalized here from one receipt's grade to a whole run's step
// breakdown.
package report

import (
	"fmt"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// StepReport summarizes one ToolCall/ToolResult pair.
type StepReport struct {
	StepIndex  int    `json:"step_index"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Build assembles the canonical report for run from its recorded calls
// and results. The returned map is ready for json.Marshal or direct CLI
// printing.
func Build(run types.Run, calls []types.ToolCall, results []types.ToolResult) (map[string]any, error) {
	resultByCallID := make(map[string]types.ToolResult, len(results))
	for _, r := range results {
		resultByCallID[r.CallID] = r
	}

	steps := make([]StepReport, 0, len(calls))
	for _, call := range calls {
		result, ok := resultByCallID[call.CallID]
		if !ok {
			return nil, fmt.Errorf("report: call %s has no recorded result", call.CallID)
		}
		step := StepReport{StepIndex: call.StepIndex, ToolName: call.ToolName, Status: string(result.Status)}
		switch result.Status {
		case types.StatusDenied:
			step.Reason = result.Decision.Reason
		case types.StatusError:
			step.Reason = result.Error
		}
		if !result.StartedAt.IsZero() && !result.EndedAt.IsZero() {
			step.DurationMS = result.EndedAt.Sub(result.StartedAt).Milliseconds()
		}
		steps = append(steps, step)
	}

	verdict, reasons := grade(run, steps)

	return map[string]any{
		"run_id":          run.RunID,
		"mode":            string(run.Mode),
		"status":          string(run.Status),
		"plan_hash":       run.PlanHash,
		"policy_hash":     run.PolicyHash,
		"total_steps":     run.TotalSteps,
		"completed_steps": run.CompletedSteps,
		"denied_steps":    run.DeniedSteps,
		"failed_steps":    run.FailedSteps,
		"created_at":      formatTimeOrEmpty(run.CreatedAt),
		"completed_at":    formatTimeOrEmpty(run.CompletedAt),
		"verdict":         verdict,
		"reasons":         reasons,
		"steps":           steps,
	}, nil
}

// grade applies a small heuristic over a run's step outcomes, the same
// "structural expectations -> {grade, reasons}" shape relia's
// internal/grade package uses for receipts.
func grade(run types.Run, steps []StepReport) (string, []string) {
	var reasons []string

	if run.Status == types.RunStatusRunning {
		reasons = append(reasons, "run_left_running")
		return "incomplete", reasons
	}
	if run.Status == types.RunStatusFailed {
		reasons = append(reasons, "run_failed")
	}
	if run.DeniedSteps > 0 {
		reasons = append(reasons, "had_denied_steps")
	}
	if run.FailedSteps > 0 {
		reasons = append(reasons, "had_failed_steps")
	}

	switch {
	case run.Status == types.RunStatusFailed && run.FailedSteps > 0:
		return "failed", reasons
	case run.DeniedSteps > 0 || run.FailedSteps > 0:
		return "partial", reasons
	default:
		return "clean", reasons
	}
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
