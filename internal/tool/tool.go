// Package tool defines the contract every built-in tool implements and
// the registry that resolves a tool_name to its implementation.
package tool

import (
	"context"
	"net"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// ArgField describes one argument a tool accepts, for planner/documentation
// consumption (spec.md §4.2: "schema() argument descriptor").
type ArgField struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// ArgSchema is the ordered set of arguments a tool accepts.
type ArgSchema struct {
	Fields []ArgField
}

// Output is what Execute returns. Success=false with Error set is the
// tool's own argument-validation or I/O failure path, distinct from a
// policy denial (which never reaches Execute at all).
type Output struct {
	Success bool
	Data    map[string]any
	Error   string
}

// Context carries everything a tool needs beyond its own args: the
// policy it has already been cleared against, the working directory
// fs.* calls are relative to, the run this call belongs to, and (for
// http.get only) the address the Policy Engine pinned.
type Context struct {
	Policy     *types.Policy
	WorkingDir string
	RunID      string
	PinnedIP   net.IP
}

// Tool is a named, schema-describing executable unit. Implementations
// must not re-decide policy (spec.md §4.2) beyond the mechanical
// post-checks the spec calls out per tool (file size on open, address
// pinning on connect).
type Tool interface {
	Name() string
	Description() string
	Schema() ArgSchema
	Execute(ctx context.Context, args map[string]any, tctx *Context) (Output, error)
}
