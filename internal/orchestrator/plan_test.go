package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit/memstore"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool/builtin"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func newTestOrchestrator(t *testing.T, pol types.Policy) (*PlanOrchestrator, string, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	registry, err := tool.NewRegistry(builtin.FsRead{}, builtin.FsWrite{})
	require.NoError(t, err)

	policyHash, err := canon.Hash(policy.PolicyCanonicalView(pol))
	require.NoError(t, err)

	engine := policy.New(&pol, policyHash, dir)
	store := memstore.New()
	return NewPlanOrchestrator(store, registry, engine, dir), dir, policyHash
}

func TestPlanOrchestratorRunSucceeds(t *testing.T) {
	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, MaxSizeBytes: 1 << 10}},
		},
	}
	o, _, policyHash := newTestOrchestrator(t, pol)

	plan := types.Plan{Version: "1", Steps: []types.PlanStep{
		{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}},
	}}

	run, err := o.Run(context.Background(), plan, pol, policyHash)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusCompleted, run.Status)
	require.Equal(t, 1, run.CompletedSteps)

	calls, err := o.Store.ListCalls(run.RunID)
	require.NoError(t, err)
	require.Len(t, calls, 1)

	results, err := o.Store.ListResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, types.StatusSuccess, results[0].Status)
}

func TestPlanOrchestratorDeniedStepDoesNotExecute(t *testing.T) {
	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools:    map[string]types.ToolPolicy{},
	}
	o, _, policyHash := newTestOrchestrator(t, pol)

	plan := types.Plan{Version: "1", Steps: []types.PlanStep{
		{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}},
	}}

	run, err := o.Run(context.Background(), plan, pol, policyHash)
	require.NoError(t, err)
	require.Equal(t, 1, run.DeniedSteps)

	results, err := o.Store.ListResults(run.RunID)
	require.NoError(t, err)
	require.Equal(t, types.StatusDenied, results[0].Status)
	require.Equal(t, "deny_by_default", results[0].Decision.RuleHit)
}

func TestPlanOrchestratorFailFastStopsAfterFirstError(t *testing.T) {
	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, MaxSizeBytes: 1 << 10}},
		},
	}
	o, dir, policyHash := newTestOrchestrator(t, pol)
	o.FailFast = true
	// Larger than max_size_bytes: the policy allows the read and the tool fails it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "too-big.txt"), make([]byte, 2<<10), 0o644))

	plan := types.Plan{Version: "1", Steps: []types.PlanStep{
		{Tool: "fs.read", Args: map[string]any{"path": "too-big.txt"}},
		{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}},
	}}

	run, err := o.Run(context.Background(), plan, pol, policyHash)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusFailed, run.Status)
	require.Equal(t, 1, run.FailedSteps)
	require.Equal(t, 0, run.CompletedSteps)

	calls, err := o.Store.ListCalls(run.RunID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
}

func TestPlanOrchestratorRecordTimeoutMarksStepFailedWithDenyDecision(t *testing.T) {
	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, MaxSizeBytes: 1 << 10}},
		},
	}
	o, _, _ := newTestOrchestrator(t, pol)

	result, err := o.recordTimeout("run1", 0, types.PlanStep{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, types.StatusError, result.Status)
	require.False(t, result.Decision.Allowed)
	require.Equal(t, "global_timeout_seconds", result.Decision.RuleHit)
	require.NotEmpty(t, result.InputHash)
	require.NotEmpty(t, result.OutputHash)
}

func TestPlanOrchestratorGlobalTimeoutDoesNotInterfereBeforeDeadline(t *testing.T) {
	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, MaxSizeBytes: 1 << 10}},
		},
		GlobalTimeoutSeconds: 1,
	}
	o, _, policyHash := newTestOrchestrator(t, pol)

	plan := types.Plan{Version: "1", Steps: []types.PlanStep{
		{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}},
	}}

	run, err := o.Run(context.Background(), plan, pol, policyHash)
	require.NoError(t, err)
	require.Equal(t, types.RunStatusCompleted, run.Status)
	require.Equal(t, 1, run.CompletedSteps)
	require.Equal(t, 0, run.FailedSteps)
}

func TestPlanOrchestratorRejectsMismatchedPolicyHash(t *testing.T) {
	pol := types.Policy{Boundary: types.BoundaryDenyByDefault, Tools: map[string]types.ToolPolicy{}}
	o, _, _ := newTestOrchestrator(t, pol)

	plan := types.Plan{Version: "1", Steps: []types.PlanStep{{Tool: "fs.read", Args: map[string]any{"path": "hello.txt"}}}}
	_, err := o.Run(context.Background(), plan, pol, "sha256:wrong")
	require.Error(t, err)
}
