package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func TestCreateAndGetRun(t *testing.T) {
	store := New()
	run := types.Run{RunID: "r1", CreatedAt: time.Now(), Status: types.RunStatusPending}
	require.NoError(t, store.CreateRun(run))

	got, ok, err := store.GetRun("r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.RunStatusPending, got.Status)
}

func TestUpdateRunOfUnknownRunFails(t *testing.T) {
	store := New()
	err := store.UpdateRun(types.Run{RunID: "missing"})
	require.Error(t, err)
}

func TestWithTxRecordsCallAndResult(t *testing.T) {
	store := New()
	call := types.ToolCall{CallID: "c1", RunID: "r1", StepIndex: 0, ToolName: "fs.read"}
	result := types.ToolResult{CallID: "c1", RunID: "r1", Status: types.StatusSuccess}

	err := store.WithTx(func(tx audit.Tx) error {
		require.NoError(t, tx.RecordCall(call))
		return tx.RecordResult(result)
	})
	require.NoError(t, err)

	gotCall, ok, err := store.GetCall("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fs.read", gotCall.ToolName)

	gotResult, ok, err := store.GetResult("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.StatusSuccess, gotResult.Status)
}

func TestListCallsOrderedByStepIndex(t *testing.T) {
	store := New()
	require.NoError(t, store.WithTx(func(tx audit.Tx) error {
		_ = tx.RecordCall(types.ToolCall{CallID: "c2", RunID: "r1", StepIndex: 1, ToolName: "fs.read"})
		_ = tx.RecordCall(types.ToolCall{CallID: "c1", RunID: "r1", StepIndex: 0, ToolName: "fs.read"})
		return nil
	}))

	calls, err := store.ListCalls("r1")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	require.Equal(t, "c1", calls[0].CallID)
	require.Equal(t, "c2", calls[1].CallID)
}

func TestRecordAndListPlannerProposals(t *testing.T) {
	store := New()
	require.NoError(t, store.RecordProposal(types.PlannerProposal{ID: "p1", RunID: "r1", Iteration: 0, ProposalType: types.ProposalToolCall}))
	require.NoError(t, store.RecordProposal(types.PlannerProposal{ID: "p2", RunID: "r1", Iteration: 1, ProposalType: types.ProposalDone}))

	proposals, err := store.ListProposals("r1")
	require.NoError(t, err)
	require.Len(t, proposals, 2)
}

func TestRunIDExists(t *testing.T) {
	store := New()
	require.NoError(t, store.CreateRun(types.Run{RunID: "r1"}))

	exists, err := store.RunIDExists("r1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.RunIDExists("nope")
	require.NoError(t, err)
	require.False(t, exists)
}
