package cli

import (
	"context"
	"net"
	"net/url"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/policy"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool/builtin"
)

// newRegistry builds the standard four-tool registry, wiring http.get's
// redirect hook to engine.ReevaluateRedirect so a redirect to a new host
// is re-checked by the Policy Engine before the tool follows it (spec.md
// §4.1 rule 5) without builtin ever importing internal/policy directly.
func newRegistry(engine *policy.Engine) (*tool.Registry, error) {
	httpGet := &builtin.HTTPGet{
		Reevaluate: func(ctx context.Context, toolName string, from, to *url.URL) (net.IP, bool, string, error) {
			result, err := engine.ReevaluateRedirect(ctx, toolName, from, to)
			if err != nil {
				return nil, false, "", err
			}
			return result.ResolvedIP, result.Decision.Allowed, result.Decision.Reason, nil
		},
	}
	return tool.NewRegistry(builtin.FsRead{}, builtin.FsWrite{}, httpGet, builtin.ShellRun{})
}
