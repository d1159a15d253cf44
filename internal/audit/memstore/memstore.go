// Package memstore is the in-process audit.Store implementation: the
// test double every other package exercises against (the CLI always
// opens a sqlstore). Grounded on relia's internal/ledger/memory_store.go
// (mutex-guarded maps, a tx view converted from the store itself).
package memstore

import (
	"sync"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// Store is a mutex-guarded, in-memory audit.Store.
type Store struct {
	mu        sync.Mutex
	runs      map[string]types.Run
	calls     map[string]types.ToolCall
	results   map[string]types.ToolResult
	proposals map[string][]types.PlannerProposal
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		runs:      make(map[string]types.Run),
		calls:     make(map[string]types.ToolCall),
		results:   make(map[string]types.ToolResult),
		proposals: make(map[string][]types.PlannerProposal),
	}
}

// WithTx runs fn against a tx view backed by the same Store and mutex, so
// a call+result pair written inside fn is visible to readers only once
// WithTx returns (single-writer discipline, spec.md §4.5/§5).
func (s *Store) WithTx(fn func(audit.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{store: s})
}

func (s *Store) CreateRun(run types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *Store) GetRun(runID string) (types.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	return run, ok, nil
}

func (s *Store) UpdateRun(run types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; !ok {
		return audit.NewStorageError("update of unknown run "+run.RunID, nil)
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *Store) ListRuns() ([]types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *Store) RunIDExists(runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[runID]
	return ok, nil
}

func (s *Store) GetCall(callID string) (types.ToolCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	return call, ok, nil
}

func (s *Store) ListCalls(runID string) ([]types.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ToolCall, 0)
	for _, call := range s.calls {
		if call.RunID == runID {
			out = append(out, call)
		}
	}
	return sortCallsByStep(out), nil
}

func (s *Store) CallIDExists(callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[callID]
	return ok, nil
}

func (s *Store) GetResult(callID string) (types.ToolResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[callID]
	return result, ok, nil
}

func (s *Store) ListResults(runID string) ([]types.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ToolResult, 0)
	for _, result := range s.results {
		if result.RunID == runID {
			out = append(out, result)
		}
	}
	return out, nil
}

func (s *Store) RecordProposal(proposal types.PlannerProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[proposal.RunID] = append(s.proposals[proposal.RunID], proposal)
	return nil
}

func (s *Store) ListProposals(runID string) ([]types.PlannerProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PlannerProposal, len(s.proposals[runID]))
	copy(out, s.proposals[runID])
	return out, nil
}

// memTx is the Store itself viewed through the audit.Tx interface; the
// caller already holds s.mu via WithTx, so these writes do not re-lock.
type memTx struct {
	store *Store
}

func (t *memTx) RecordCall(call types.ToolCall) error {
	t.store.calls[call.CallID] = call
	return nil
}

func (t *memTx) RecordResult(result types.ToolResult) error {
	t.store.results[result.CallID] = result
	return nil
}

func sortCallsByStep(calls []types.ToolCall) []types.ToolCall {
	for i := 1; i < len(calls); i++ {
		for j := i; j > 0 && calls[j-1].StepIndex > calls[j].StepIndex; j-- {
			calls[j-1], calls[j] = calls[j], calls[j-1]
		}
	}
	return calls
}
