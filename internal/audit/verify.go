package audit

import (
	"fmt"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
)

// Mismatch describes a single recomputed hash that disagrees with what was
// stored at call time — evidence the stored record was tampered with or
// written by a buggy writer.
type Mismatch struct {
	CallID   string `json:"call_id"`
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
}

// VerifyReport is the result of VerifyRun.
type VerifyReport struct {
	RunID      string     `json:"run_id"`
	OK         bool       `json:"ok"`
	Mismatches []Mismatch `json:"mismatches"`
}

// VerifyRun recomputes every call's input hash and every result's output
// hash from the stored args/output and compares them against the hashes
// recorded at write time. Grounded on relia's ledger.VerifyReceipt, which
// recomputes a single receipt's digest and compares it against the stored
// value; here the same recompute-and-compare is applied to every row of a
// run (spec.md §4.5 "verify_run(run_id) -> {ok, mismatches}", and P5).
func VerifyRun(store Store, runID string) (VerifyReport, error) {
	report := VerifyReport{RunID: runID, OK: true}

	exists, err := store.RunIDExists(runID)
	if err != nil {
		return VerifyReport{}, NewStorageError("checking run existence", err)
	}
	if !exists {
		return VerifyReport{}, NewStorageError(fmt.Sprintf("run %q not found", runID), nil)
	}

	calls, err := store.ListCalls(runID)
	if err != nil {
		return VerifyReport{}, NewStorageError("listing calls", err)
	}
	results, err := store.ListResults(runID)
	if err != nil {
		return VerifyReport{}, NewStorageError("listing results", err)
	}
	resultByCallID := make(map[string]int, len(results))
	for i, r := range results {
		resultByCallID[r.CallID] = i
	}

	for _, call := range calls {
		computed, err := canon.Hash(call.CanonicalView())
		if err != nil {
			return VerifyReport{}, NewStorageError("recomputing input hash for "+call.CallID, err)
		}

		idx, ok := resultByCallID[call.CallID]
		if !ok {
			report.OK = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				CallID: call.CallID,
				Field:  "result",
				Stored: "<missing>",
			})
			continue
		}
		result := results[idx]

		if computed != result.InputHash {
			report.OK = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				CallID:   call.CallID,
				Field:    "input_hash",
				Stored:   result.InputHash,
				Computed: computed,
			})
		}

		computedOutput, err := canon.Hash(result.CanonicalOutputView())
		if err != nil {
			return VerifyReport{}, NewStorageError("recomputing output hash for "+call.CallID, err)
		}
		if computedOutput != result.OutputHash {
			report.OK = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				CallID:   call.CallID,
				Field:    "output_hash",
				Stored:   result.OutputHash,
				Computed: computedOutput,
			})
		}
	}

	return report, nil
}
