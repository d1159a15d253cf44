package types

import "time"

// ToolCall is a single proposed invocation of a tool, either the Nth step
// of a Plan or the Nth proposal of an Agent loop.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	RunID     string         `json:"run_id"`
	StepIndex int            `json:"step_index"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args"`
	CreatedAt time.Time      `json:"created_at"`
}

// CanonicalView returns the map form used to compute InputHash: the args
// alone, matching spec.md §3's input_hash = hash(canonical_json(args)).
// ToolName, StepIndex, and CreatedAt are deliberately excluded: the input
// hash identifies what was asked for, not which call site asked for it.
func (c ToolCall) CanonicalView() map[string]any {
	if c.Args == nil {
		return map[string]any{}
	}
	return c.Args
}
