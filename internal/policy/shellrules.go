package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func (e *Engine) evaluateShellRun(sp *types.ShellPolicy, args map[string]any) (Result, error) {
	cmd, err := asStringSlice(args["cmd"])
	if err != nil || len(cmd) == 0 {
		return deny("args.cmd must be a non-empty list of strings", "shell_args"), nil
	}

	exe := filepath.Base(cmd[0])
	allowed := false
	for _, candidate := range sp.AllowExecutables {
		if candidate == exe {
			allowed = true
			break
		}
	}
	if !allowed {
		return deny(fmt.Sprintf("executable %q is not in allow_executables", exe), "shell_allow_executables"), nil
	}

	for _, token := range sp.DenyTokens {
		for _, arg := range cmd {
			if strings.Contains(arg, token) {
				return deny(fmt.Sprintf("argument contains denied token %q", token), "shell_deny_tokens"), nil
			}
		}
	}

	return allow("shell_allow_executables"), nil
}

// asStringSlice converts a decoded YAML/JSON value into []string,
// rejecting anything that isn't literally a list of strings — this is
// what keeps shell.run from ever accepting a single shell-interpreted
// string (spec.md §4.1 rule 1: "reject any non-list form").
func asStringSlice(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		if strSlice, ok := v.([]string); ok {
			return strSlice, nil
		}
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string elements, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
