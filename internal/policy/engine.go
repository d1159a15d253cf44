package policy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// Result is the engine's full evaluation output. Decision is the part
// that gets stored on the ToolResult; ResolvedIP is extra context the
// http.get tool needs (spec.md §4.1 rule 3: "the resolved address is
// returned to the tool, which must connect to that exact address").
type Result struct {
	Decision   types.PolicyDecision
	ResolvedIP net.IP
}

func allow(ruleHit string) Result {
	return Result{Decision: types.PolicyDecision{Allowed: true, Reason: "allowed", RuleHit: ruleHit}}
}

func deny(reason, ruleHit string) Result {
	return Result{Decision: types.PolicyDecision{Allowed: false, Reason: reason, RuleHit: ruleHit}}
}

// Engine evaluates proposed tool calls against a frozen Policy.
type Engine struct {
	policy     *types.Policy
	policyHash string
	workingDir string
	resolver   Resolver
}

// New returns an Engine bound to pol (already loaded and hashed) and the
// working directory every fs.* call is resolved relative to.
func New(pol *types.Policy, policyHash, workingDir string) *Engine {
	return &Engine{policy: pol, policyHash: policyHash, workingDir: workingDir, resolver: DefaultResolver}
}

// WithResolver overrides the DNS resolver, for tests that need to exercise
// P7 (DNS rebinding) with a fake resolver.
func (e *Engine) WithResolver(r Resolver) *Engine {
	e.resolver = r
	return e
}

// Evaluate is the engine's public contract (spec.md §4.1):
// evaluate(tool_name, args, working_dir, counters) -> Decision. It never
// panics or returns a raw error to the caller from a rule-evaluation
// failure — an error or a recovered panic becomes a denied Result with
// reason "policy evaluation failed: <cause>", matching spec.md §7's
// "fail-closed" contract. fs.* paths resolve against the working
// directory the Engine was built with.
func (e *Engine) Evaluate(ctx context.Context, toolName string, args map[string]any, counters map[string]int) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = deny(fmt.Sprintf("policy evaluation failed: %v", r), "")
		}
	}()
	result, err := e.evaluateOrError(ctx, toolName, args, counters)
	if err != nil {
		return deny(fmt.Sprintf("policy evaluation failed: %v", err), "")
	}
	return result
}

func (e *Engine) evaluateOrError(ctx context.Context, toolName string, args map[string]any, counters map[string]int) (Result, error) {
	if e.policy.MaxCallsPerTool > 0 && uint32(counters[toolName]) >= e.policy.MaxCallsPerTool {
		return deny("quota exceeded", "max_calls_per_tool"), nil
	}

	tp, ok := e.policy.Tools[toolName]
	if !ok {
		// P1: deny-by-default for any tool not listed in policy.
		return deny(fmt.Sprintf("tool %q is not listed in policy", toolName), "deny_by_default"), nil
	}

	switch toolName {
	case "fs.read":
		return e.evaluateFsRead(tp.Fs, args)
	case "fs.write":
		return e.evaluateFsWrite(tp.Fs, args)
	case "http.get":
		return e.evaluateHTTPGet(ctx, tp.Http, args)
	case "shell.run":
		return e.evaluateShellRun(tp.Shell, args)
	default:
		return deny(fmt.Sprintf("tool %q is not a recognized built-in tool", toolName), "deny_by_default"), nil
	}
}

// ReevaluateRedirect re-checks an http.get redirect target before the
// tool follows it (spec.md §4.1 rule 5). newURL is already parsed; fromURL
// is the request that produced the redirect.
func (e *Engine) ReevaluateRedirect(ctx context.Context, toolName string, fromURL, newURL *url.URL) (Result, error) {
	if fromURL.Scheme == "https" && newURL.Scheme == "http" {
		return deny("redirect downgrades https to http", "https_downgrade"), nil
	}
	if strings.EqualFold(fromURL.Hostname(), newURL.Hostname()) {
		// Same host: spec.md §9 open-question decision says this does not
		// count as "different host" and skips re-evaluation.
		return allow("same_host_redirect"), nil
	}

	tp, ok := e.policy.Tools[toolName]
	if !ok || tp.Http == nil {
		return deny(fmt.Sprintf("tool %q is not listed in policy", toolName), "deny_by_default"), nil
	}
	return e.evaluateHTTPGet(ctx, tp.Http, map[string]any{"url": newURL.String()})
}

func canonicalizeFsPath(workingDir, rawPath string, mustExist bool) (string, error) {
	joined := rawPath
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(workingDir, rawPath)
	}

	dir := filepath.Dir(joined)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolving parent directory: %w", err)
	}

	base := filepath.Base(joined)
	candidate := filepath.Join(realDir, base)

	if mustExist {
		real, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			return "", fmt.Errorf("resolving path: %w", err)
		}
		return filepath.Clean(real), nil
	}

	return filepath.Clean(candidate), nil
}

func hasHiddenComponent(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != "" {
			return true
		}
	}
	return false
}
