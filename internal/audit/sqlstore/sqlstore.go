// Package sqlstore is the SQLite-backed audit.Store, used for real runs:
// every CLI command opens one (memstore serves as the in-process test double). Grounded on
// relia's internal/ledger/sqlstore/sqlstore.go: modernc.org/sqlite (pure
// Go, no cgo), parameterized SQL, upserts via ON CONFLICT.
package sqlstore

import (
	"bytes"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/audit"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// Store is a SQLite-backed audit.Store. A single *sql.DB is shared by all
// readers; writes go through WithTx to preserve the single-writer
// discipline spec.md §5 requires.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn and applies
// any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, audit.NewStorageError("opening database", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, audit.NewStorageError("enabling foreign keys", err)
	}
	if err := migrate(db); err != nil {
		return nil, audit.NewStorageError("applying migrations", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(fn func(audit.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return audit.NewStorageError("beginning transaction", err)
	}

	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return audit.NewStorageError("committing transaction", err)
	}
	return nil
}

func (s *Store) CreateRun(run types.Run) error {
	_, err := s.db.Exec(`INSERT INTO runs
		(run_id, created_at, completed_at, plan_hash, policy_hash, plan_json, policy_json, mode, status,
		 total_steps, completed_steps, denied_steps, failed_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, formatTime(run.CreatedAt), formatTimePtr(run.CompletedAt), run.PlanHash, run.PolicyHash,
		run.PlanJSON, run.PolicyJSON, string(run.Mode), string(run.Status),
		run.TotalSteps, run.CompletedSteps, run.DeniedSteps, run.FailedSteps)
	if err != nil {
		return audit.NewStorageError("inserting run", err)
	}
	return nil
}

func (s *Store) GetRun(runID string) (types.Run, bool, error) {
	row := s.db.QueryRow(`SELECT run_id, created_at, completed_at, plan_hash, policy_hash, plan_json, policy_json,
		mode, status, total_steps, completed_steps, denied_steps, failed_steps FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return types.Run{}, false, nil
	}
	if err != nil {
		return types.Run{}, false, audit.NewStorageError("querying run", err)
	}
	return run, true, nil
}

func (s *Store) UpdateRun(run types.Run) error {
	res, err := s.db.Exec(`UPDATE runs SET completed_at = ?, status = ?, total_steps = ?, completed_steps = ?,
		denied_steps = ?, failed_steps = ? WHERE run_id = ?`,
		formatTimePtr(run.CompletedAt), string(run.Status), run.TotalSteps, run.CompletedSteps,
		run.DeniedSteps, run.FailedSteps, run.RunID)
	if err != nil {
		return audit.NewStorageError("updating run", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return audit.NewStorageError("checking update result", err)
	}
	if affected == 0 {
		return audit.NewStorageError("update of unknown run "+run.RunID, nil)
	}
	return nil
}

func (s *Store) ListRuns() ([]types.Run, error) {
	rows, err := s.db.Query(`SELECT run_id, created_at, completed_at, plan_hash, policy_hash, plan_json, policy_json,
		mode, status, total_steps, completed_steps, denied_steps, failed_steps FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, audit.NewStorageError("listing runs", err)
	}
	defer rows.Close()

	var out []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, audit.NewStorageError("scanning run row", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) RunIDExists(runID string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&count); err != nil {
		return false, audit.NewStorageError("checking run id", err)
	}
	return count > 0, nil
}

func (s *Store) GetCall(callID string) (types.ToolCall, bool, error) {
	row := s.db.QueryRow(`SELECT call_id, run_id, step_index, tool_name, args_json, created_at FROM tool_calls WHERE call_id = ?`, callID)
	call, err := scanCall(row)
	if err == sql.ErrNoRows {
		return types.ToolCall{}, false, nil
	}
	if err != nil {
		return types.ToolCall{}, false, audit.NewStorageError("querying call", err)
	}
	return call, true, nil
}

func (s *Store) ListCalls(runID string) ([]types.ToolCall, error) {
	rows, err := s.db.Query(`SELECT call_id, run_id, step_index, tool_name, args_json, created_at FROM tool_calls WHERE run_id = ? ORDER BY step_index`, runID)
	if err != nil {
		return nil, audit.NewStorageError("listing calls", err)
	}
	defer rows.Close()

	var out []types.ToolCall
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, audit.NewStorageError("scanning call row", err)
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

func (s *Store) CallIDExists(callID string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM tool_calls WHERE call_id = ?`, callID).Scan(&count); err != nil {
		return false, audit.NewStorageError("checking call id", err)
	}
	return count > 0, nil
}

func (s *Store) GetResult(callID string) (types.ToolResult, bool, error) {
	row := s.db.QueryRow(`SELECT call_id, run_id, status, output_json, error, decision_allowed, decision_reason,
		decision_rule_hit, started_at, ended_at, input_hash, output_hash FROM tool_results WHERE call_id = ?`, callID)
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return types.ToolResult{}, false, nil
	}
	if err != nil {
		return types.ToolResult{}, false, audit.NewStorageError("querying result", err)
	}
	return result, true, nil
}

func (s *Store) ListResults(runID string) ([]types.ToolResult, error) {
	rows, err := s.db.Query(`SELECT call_id, run_id, status, output_json, error, decision_allowed, decision_reason,
		decision_rule_hit, started_at, ended_at, input_hash, output_hash FROM tool_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, audit.NewStorageError("listing results", err)
	}
	defer rows.Close()

	var out []types.ToolResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, audit.NewStorageError("scanning result row", err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func (s *Store) RecordProposal(p types.PlannerProposal) error {
	_, err := s.db.Exec(`INSERT INTO planner_proposals
		(id, run_id, iteration, proposal_type, tool_name, args_json, reasoning, raw_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RunID, p.Iteration, string(p.ProposalType), p.ToolName, p.ArgsJSON, p.Reasoning, p.RawResponse, formatTime(p.CreatedAt))
	if err != nil {
		return audit.NewStorageError("inserting planner proposal", err)
	}
	return nil
}

func (s *Store) ListProposals(runID string) ([]types.PlannerProposal, error) {
	rows, err := s.db.Query(`SELECT id, run_id, iteration, proposal_type, tool_name, args_json, reasoning, raw_response, created_at
		FROM planner_proposals WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, audit.NewStorageError("listing planner proposals", err)
	}
	defer rows.Close()

	var out []types.PlannerProposal
	for rows.Next() {
		var p types.PlannerProposal
		var proposalType string
		var createdAt string
		var toolName, argsJSON, reasoning sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Iteration, &proposalType, &toolName, &argsJSON, &reasoning, &p.RawResponse, &createdAt); err != nil {
			return nil, audit.NewStorageError("scanning proposal row", err)
		}
		p.ProposalType = types.ProposalType(proposalType)
		p.ToolName = toolName.String
		p.ArgsJSON = argsJSON.String
		p.Reasoning = reasoning.String
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) RecordCall(call types.ToolCall) error {
	argsJSON, err := json.Marshal(call.Args)
	if err != nil {
		return audit.NewStorageError("marshaling call args", err)
	}
	_, err = t.tx.Exec(`INSERT INTO tool_calls (call_id, run_id, step_index, tool_name, args_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		call.CallID, call.RunID, call.StepIndex, call.ToolName, string(argsJSON), formatTime(call.CreatedAt))
	if err != nil {
		return audit.NewStorageError("inserting tool call", err)
	}
	return nil
}

func (t *sqlTx) RecordResult(result types.ToolResult) error {
	var outputJSON sql.NullString
	if result.Output != nil {
		data, err := json.Marshal(result.Output)
		if err != nil {
			return audit.NewStorageError("marshaling output", err)
		}
		outputJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := t.tx.Exec(`INSERT INTO tool_results
		(call_id, run_id, status, output_json, error, decision_allowed, decision_reason, decision_rule_hit,
		 started_at, ended_at, input_hash, output_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.CallID, result.RunID, string(result.Status), outputJSON, result.Error,
		boolToInt(result.Decision.Allowed), result.Decision.Reason, nullIfEmpty(result.Decision.RuleHit),
		formatTime(result.StartedAt), formatTime(result.EndedAt), result.InputHash, result.OutputHash)
	if err != nil {
		return audit.NewStorageError("inserting tool result", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (types.Run, error) {
	var run types.Run
	var createdAt string
	var completedAt sql.NullString
	var mode, status string

	err := row.Scan(&run.RunID, &createdAt, &completedAt, &run.PlanHash, &run.PolicyHash, &run.PlanJSON, &run.PolicyJSON,
		&mode, &status, &run.TotalSteps, &run.CompletedSteps, &run.DeniedSteps, &run.FailedSteps)
	if err != nil {
		return types.Run{}, err
	}

	run.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		run.CompletedAt = parseTime(completedAt.String)
	}
	run.Mode = types.RunMode(mode)
	run.Status = types.RunStatus(status)
	return run, nil
}

func scanCall(row scanner) (types.ToolCall, error) {
	var call types.ToolCall
	var argsJSON, createdAt string
	if err := row.Scan(&call.CallID, &call.RunID, &call.StepIndex, &call.ToolName, &argsJSON, &createdAt); err != nil {
		return types.ToolCall{}, err
	}
	if argsJSON != "" {
		args, err := decodeJSONObject(argsJSON)
		if err != nil {
			return types.ToolCall{}, err
		}
		call.Args = args
	}
	call.CreatedAt = parseTime(createdAt)
	return call, nil
}

func scanResult(row scanner) (types.ToolResult, error) {
	var result types.ToolResult
	var outputJSON, errMsg, ruleHit sql.NullString
	var allowed int
	var reason, startedAt, endedAt, status string

	err := row.Scan(&result.CallID, &result.RunID, &status, &outputJSON, &errMsg, &allowed, &reason, &ruleHit,
		&startedAt, &endedAt, &result.InputHash, &result.OutputHash)
	if err != nil {
		return types.ToolResult{}, err
	}

	result.Status = types.ResultStatus(status)
	result.Error = errMsg.String
	result.Decision = types.PolicyDecision{Allowed: allowed != 0, Reason: reason, RuleHit: ruleHit.String}
	result.StartedAt = parseTime(startedAt)
	result.EndedAt = parseTime(endedAt)

	if outputJSON.Valid {
		output, err := decodeJSONObject(outputJSON.String)
		if err != nil {
			return types.ToolResult{}, err
		}
		result.Output = output
	}
	return result, nil
}

// decodeJSONObject unmarshals a JSON object into a map[string]any with
// UseNumber, so integer fields round-trip as json.Number rather than
// float64. canon.writeJSONNumber already handles json.Number; plain
// json.Unmarshal would turn every integer into a float64, which
// canon.Canonicalize rejects outright when the value is later rehashed by
// replay/verify.
func decodeJSONObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
