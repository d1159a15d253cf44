package types

import "time"

// ProposalType distinguishes a Planner's two possible outputs: another
// tool call to attempt, or a decision to stop the loop.
type ProposalType string

const (
	ProposalToolCall ProposalType = "tool_call"
	ProposalDone     ProposalType = "done"
)

// PlannerProposal is one iteration's output from a Planner, recorded
// before policy evaluation so a denied or malformed proposal is still
// part of the audit trail.
type PlannerProposal struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Iteration    int          `json:"iteration"`
	ProposalType ProposalType `json:"proposal_type"`
	ToolName     string       `json:"tool_name,omitempty"`
	ArgsJSON     string       `json:"args_json,omitempty"`
	Reasoning    string       `json:"reasoning,omitempty"`
	RawResponse  string       `json:"raw_response,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
