// Package audit defines the append-only Store interface every backend
// (memstore, sqlstore) implements, plus the StorageError type raised on
// fatal storage failures (spec.md §4.5, §7).
package audit

import (
	"fmt"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// StorageError is the 5xxx-range error a Store raises on schema mismatch
// or database I/O failure. Unlike PolicyDenied/ToolError, it always
// propagates to the CLI boundary (spec.md §7).
type StorageError struct {
	Code    int
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error %d: %s", e.Code, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError builds a StorageError with the standard 5000 code.
func NewStorageError(message string, cause error) *StorageError {
	return &StorageError{Code: 5000, Message: message, Cause: cause}
}

// Store is the append-only audit backend. Implementations: memstore (the
// test double for every other package) and sqlstore (SQLite via
// modernc.org/sqlite, the one the CLI opens). Grounded on relia's
// internal/ledger.Store/Tx split — a Store for top-level callers, a Tx
// for callers that must group writes atomically.
type Store interface {
	WithTx(fn func(Tx) error) error

	CreateRun(run types.Run) error
	GetRun(runID string) (types.Run, bool, error)
	UpdateRun(run types.Run) error
	ListRuns() ([]types.Run, error)
	RunIDExists(runID string) (bool, error)

	GetCall(callID string) (types.ToolCall, bool, error)
	ListCalls(runID string) ([]types.ToolCall, error)
	CallIDExists(callID string) (bool, error)

	GetResult(callID string) (types.ToolResult, bool, error)
	ListResults(runID string) ([]types.ToolResult, error)

	RecordProposal(proposal types.PlannerProposal) error
	ListProposals(runID string) ([]types.PlannerProposal, error)
}

// Tx is the transactional view used to record a ToolCall and its
// ToolResult atomically (spec.md invariant P4: "every call_id has exactly
// one tool_results row", and §4.5: "writes to a call+result pair must be
// atomic").
type Tx interface {
	RecordCall(call types.ToolCall) error
	RecordResult(result types.ToolResult) error
}
