package types

import "time"

// ResultStatus is the terminal state of a tool call. Timeouts are not a
// distinct status: a tool that times out reports status=error with
// error="timeout" (spec §5).
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusDenied  ResultStatus = "denied"
	StatusError   ResultStatus = "error"
)

// ToolResult is the outcome of executing (or refusing to execute) a
// ToolCall. Output is nil for denied, error, and timeout results.
type ToolResult struct {
	CallID     string         `json:"call_id"`
	RunID      string         `json:"run_id"`
	Status     ResultStatus   `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Decision   PolicyDecision `json:"decision"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	InputHash  string         `json:"input_hash"`
	OutputHash string         `json:"output_hash"`
}

// CanonicalOutputView returns the value hashed into OutputHash. A denied
// or errored call still hashes to a literal null, which is why
// canon.Canonicalize must not strip null map entries.
func (r ToolResult) CanonicalOutputView() any {
	if r.Output == nil {
		return nil
	}
	return r.Output
}
