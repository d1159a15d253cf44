package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/memstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func seedRun(t *testing.T, store audit.Store, runID string, call types.ToolCall, result types.ToolResult) {
	t.Helper()
	require.NoError(t, store.CreateRun(types.Run{RunID: runID, CreatedAt: time.Now(), Status: types.RunStatusCompleted}))
	require.NoError(t, store.WithTx(func(tx audit.Tx) error {
		if err := tx.RecordCall(call); err != nil {
			return err
		}
		return tx.RecordResult(result)
	}))
}

func TestVerifyRunOKWhenHashesMatch(t *testing.T) {
	store := memstore.New()
	call := types.ToolCall{CallID: "c1", RunID: "r1", ToolName: "fs.read", Args: map[string]any{"path": "a.txt"}}
	inputHash, err := canon.Hash(call.CanonicalView())
	require.NoError(t, err)

	result := types.ToolResult{CallID: "c1", RunID: "r1", Status: types.StatusSuccess, Output: map[string]any{"size_bytes": 3}, InputHash: inputHash}
	outputHash, err := canon.Hash(result.CanonicalOutputView())
	require.NoError(t, err)
	result.OutputHash = outputHash

	seedRun(t, store, "r1", call, result)

	report, err := audit.VerifyRun(store, "r1")
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Empty(t, report.Mismatches)
}

func TestVerifyRunDetectsTamperedOutputHash(t *testing.T) {
	store := memstore.New()
	call := types.ToolCall{CallID: "c1", RunID: "r1", ToolName: "fs.read", Args: map[string]any{"path": "a.txt"}}
	inputHash, err := canon.Hash(call.CanonicalView())
	require.NoError(t, err)

	result := types.ToolResult{CallID: "c1", RunID: "r1", Status: types.StatusSuccess, Output: map[string]any{"size_bytes": 3}, InputHash: inputHash, OutputHash: "sha256:not-the-real-hash"}

	seedRun(t, store, "r1", call, result)

	report, err := audit.VerifyRun(store, "r1")
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, "output_hash", report.Mismatches[0].Field)
}

func TestVerifyRunUnknownRunFails(t *testing.T) {
	store := memstore.New()
	_, err := audit.VerifyRun(store, "missing")
	require.Error(t, err)
}
