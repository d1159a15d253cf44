package orchestrator

import (
	"context"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// HistoryItem is one compact record appended to State.History after each
// agent iteration (spec.md §4.4 step 6: "tool name, input hash prefix,
// success/error, short output excerpt").
type HistoryItem struct {
	ToolName      string
	InputHashHead string
	Status        types.ResultStatus
	Excerpt       string
}

// State is what a Planner sees at the start of each iteration (spec.md
// §4.4: "state = { task, tool_schemas, policy_summary, history,
// iteration }").
type State struct {
	Task          string
	ToolSchemas   map[string]string
	PolicySummary string
	History       []HistoryItem
	Iteration     int
}

// ProposalKind distinguishes the two shapes a Planner can return.
type ProposalKind int

const (
	ProposalKindToolCall ProposalKind = iota
	ProposalKindDone
)

// Proposal is a Planner's output for one iteration: either another tool
// call to attempt or a decision to stop. RawResponse and Reasoning are
// recorded unconditionally, even when ToolName/Args could not be parsed
// from them (spec.md §4.4 step 2).
type Proposal struct {
	Kind        ProposalKind
	ToolName    string
	Args        map[string]any
	Reasoning   string
	RawResponse string
}

// Planner proposes the next tool call given the current loop state and
// the previous result. Implementations may be a human, a scripted fixture,
// or a language model — the Agent Orchestrator only depends on this
// interface (spec.md §4.4/§9).
type Planner interface {
	ProposeNext(ctx context.Context, state State, lastResult *types.ToolResult) (Proposal, error)
}

// ScriptedPlanner replays a fixed list of proposals in order, then emits
// Done forever once exhausted. It exists to exercise the Agent Orchestrator
// end to end without a live language model (spec.md §4.4: "a human, a
// scripted mock, or a language model"), the same role relia's devSigner
// plays for ed25519 signing in tests — a small, deterministic stand-in for
// a real external dependency.
type ScriptedPlanner struct {
	Proposals []Proposal
	cursor    int
}

// NewScriptedPlanner builds a ScriptedPlanner that plays back proposals in
// order.
func NewScriptedPlanner(proposals ...Proposal) *ScriptedPlanner {
	return &ScriptedPlanner{Proposals: proposals}
}

func (p *ScriptedPlanner) ProposeNext(_ context.Context, _ State, _ *types.ToolResult) (Proposal, error) {
	if p.cursor >= len(p.Proposals) {
		return Proposal{Kind: ProposalKindDone, RawResponse: "scripted planner exhausted"}, nil
	}
	next := p.Proposals[p.cursor]
	p.cursor++
	return next, nil
}
