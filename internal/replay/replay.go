// Package replay recreates a prior run's recorded calls and results
// without invoking any tool or the Policy Engine, verifying along the way
// that the replayed hashes match what was originally recorded (spec.md
// §4.6). Grounded on relia's internal/ledger/verify.go recompute-and-compare
// shape (there: one receipt's digest; here: an entire run's call/result
// sequence).
package replay

import (
	"fmt"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/idgen"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/planfile"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// Result is what Replay returns: the new run it created plus any
// mismatches found between the origin data and what replay recomputed.
type Result struct {
	OriginRunID string
	NewRun      types.Run
	PlanHashOK  bool
	Mismatches  []string
}

// Error is a fatal replay error: the origin run is missing, its records
// could not be loaded, or the replay run could not be recorded.
type Error struct {
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("replay error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("replay error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newReplayError(message string, cause error) *Error {
	return &Error{Code: 4000, Message: message, Cause: cause}
}

// Replay reconstructs runID's steps into a brand-new run in mode=replay,
// recomputing every hash along the way. It never calls a tool or the
// Policy Engine (spec.md §4.6: "Replays do not call tools or the Policy
// Engine").
func Replay(store audit.Store, runID string) (Result, error) {
	origin, ok, err := store.GetRun(runID)
	if err != nil {
		return Result{}, newReplayError("loading origin run", err)
	}
	if !ok {
		return Result{}, newReplayError(fmt.Sprintf("run %q not found", runID), nil)
	}

	calls, err := store.ListCalls(runID)
	if err != nil {
		return Result{}, newReplayError("loading origin calls", err)
	}
	results, err := store.ListResults(runID)
	if err != nil {
		return Result{}, newReplayError("loading origin results", err)
	}
	resultByCallID := make(map[string]types.ToolResult, len(results))
	for _, r := range results {
		resultByCallID[r.CallID] = r
	}

	planHashOK := true
	if origin.PlanJSON != "" && origin.PlanJSON != "{}" {
		plan, parseErr := planfile.ParsePlan([]byte(origin.PlanJSON))
		if parseErr == nil {
			recomputed, hashErr := canon.Hash(plan.CanonicalView())
			if hashErr == nil {
				planHashOK = recomputed == origin.PlanHash
			}
		}
	}

	newRunID, err := idgen.Generate(store.RunIDExists)
	if err != nil {
		return Result{}, newReplayError("generating replay run id", err)
	}

	replayRun := types.Run{
		RunID: newRunID, CreatedAt: time.Now(), PlanHash: origin.PlanHash, PolicyHash: origin.PolicyHash,
		PlanJSON: origin.PlanJSON, PolicyJSON: origin.PolicyJSON, Mode: types.ModeReplay,
		Status: types.RunStatusPending, TotalSteps: origin.TotalSteps,
	}
	if err := store.CreateRun(replayRun); err != nil {
		return Result{}, newReplayError("creating replay run", err)
	}
	replayRun.Status = types.RunStatusRunning
	if err := store.UpdateRun(replayRun); err != nil {
		return Result{}, newReplayError("marking replay run running", err)
	}

	var mismatches []string
	for _, originCall := range calls {
		originResult, hasResult := resultByCallID[originCall.CallID]
		if !hasResult {
			mismatches = append(mismatches, fmt.Sprintf("call %s has no recorded result", originCall.CallID))
			continue
		}

		replayCallID, err := idgen.Generate(store.CallIDExists)
		if err != nil {
			return Result{}, newReplayError("generating replay call id", err)
		}

		replayCall := types.ToolCall{
			CallID: replayCallID, RunID: newRunID, StepIndex: originCall.StepIndex,
			ToolName: originCall.ToolName, Args: originCall.Args, CreatedAt: time.Now(),
		}

		recomputedInputHash, err := canon.Hash(replayCall.CanonicalView())
		if err != nil {
			return Result{}, newReplayError("recomputing input hash", err)
		}
		if recomputedInputHash != originResult.InputHash {
			mismatches = append(mismatches, fmt.Sprintf("call %s: input_hash mismatch (origin %s, replay %s)", originCall.CallID, originResult.InputHash, recomputedInputHash))
		}

		now := time.Now()
		replayResult := types.ToolResult{
			CallID: replayCallID, RunID: newRunID, Status: originResult.Status,
			Output: originResult.Output, Error: originResult.Error, Decision: originResult.Decision,
			StartedAt: now, EndedAt: now, InputHash: recomputedInputHash,
		}

		recomputedOutputHash, err := canon.Hash(replayResult.CanonicalOutputView())
		if err != nil {
			return Result{}, newReplayError("recomputing output hash", err)
		}
		if recomputedOutputHash != originResult.OutputHash {
			mismatches = append(mismatches, fmt.Sprintf("call %s: output_hash mismatch (origin %s, replay %s)", originCall.CallID, originResult.OutputHash, recomputedOutputHash))
		}
		replayResult.OutputHash = recomputedOutputHash

		if err := store.WithTx(func(tx audit.Tx) error {
			if err := tx.RecordCall(replayCall); err != nil {
				return err
			}
			return tx.RecordResult(replayResult)
		}); err != nil {
			return Result{}, newReplayError("recording replay call/result", err)
		}

		switch replayResult.Status {
		case types.StatusSuccess:
			replayRun.CompletedSteps++
		case types.StatusDenied:
			replayRun.DeniedSteps++
		case types.StatusError:
			replayRun.FailedSteps++
		}
	}

	replayRun.CompletedAt = time.Now()
	if len(mismatches) > 0 {
		replayRun.Status = types.RunStatusFailed
	} else {
		replayRun.Status = types.RunStatusCompleted
	}
	if err := store.UpdateRun(replayRun); err != nil {
		return Result{}, newReplayError("finalizing replay run", err)
	}

	if len(mismatches) > 0 {
		return Result{OriginRunID: runID, NewRun: replayRun, PlanHashOK: planHashOK, Mismatches: mismatches},
			newReplayError(fmt.Sprintf("%d hash mismatch(es) during replay of run %q", len(mismatches), runID), nil)
	}

	return Result{OriginRunID: runID, NewRun: replayRun, PlanHashOK: planHashOK, Mismatches: mismatches}, nil
}
