package policy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
	"gopkg.in/yaml.v3"
)

// knownToolKinds maps a fully-qualified tool name to the ToolPolicy
// variant it must be configured with. A policy that names any other tool,
// or pairs a tool with the wrong variant, is rejected at load (spec.md
// §3: "Unknown tool names in policy are rejected at load to fail fast").
var knownToolKinds = map[string]string{
	"fs.read":   "fs",
	"fs.write":  "fs",
	"http.get":  "http",
	"shell.run": "shell",
}

// LoadedPolicy is a policy document together with the hash computed over
// its canonical-JSON form and the raw bytes it was parsed from.
type LoadedPolicy struct {
	Policy types.Policy
	Hash   string
	Bytes  []byte
}

// LoadPolicy reads a YAML policy document from path, rejects unknown
// top-level keys, validates every configured tool name against the
// built-in tool set, and computes its content hash.
func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path is operator-supplied via --policy.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, newLoadError("reading policy file", err)
	}

	pol, err := ParsePolicy(data)
	if err != nil {
		return LoadedPolicy{}, err
	}

	hash, err := canon.Hash(PolicyCanonicalView(pol))
	if err != nil {
		return LoadedPolicy{}, newLoadError("hashing policy", err)
	}

	return LoadedPolicy{Policy: pol, Hash: hash, Bytes: data}, nil
}

// ParsePolicy unmarshals a YAML policy document, rejecting unknown
// top-level keys and unknown or mismatched tool names.
func ParsePolicy(data []byte) (types.Policy, error) {
	var raw struct {
		Boundary             string                      `yaml:"boundary"`
		Tools                map[string]types.ToolPolicy `yaml:"tools"`
		GlobalTimeoutSeconds uint32                       `yaml:"global_timeout_seconds"`
		MaxCallsPerTool      uint32                       `yaml:"max_calls_per_tool"`
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return types.Policy{}, newLoadError("parsing policy YAML", err)
	}

	pol := types.Policy{
		Boundary:             types.Boundary(raw.Boundary),
		Tools:                raw.Tools,
		GlobalTimeoutSeconds: raw.GlobalTimeoutSeconds,
		MaxCallsPerTool:      raw.MaxCallsPerTool,
	}

	if pol.Boundary == "" {
		pol.Boundary = types.BoundaryDenyByDefault
	}
	if pol.Boundary != types.BoundaryDenyByDefault {
		return types.Policy{}, newLoadError(fmt.Sprintf("unsupported boundary %q", pol.Boundary), nil)
	}

	for name, tp := range pol.Tools {
		wantKind, ok := knownToolKinds[name]
		if !ok {
			return types.Policy{}, newLoadError(fmt.Sprintf("unknown tool name %q in policy", name), nil)
		}
		if tp.Kind() != wantKind {
			return types.Policy{}, newLoadError(
				fmt.Sprintf("tool %q must be configured with a %s policy, got %s", name, wantKind, describeKind(tp.Kind())), nil)
		}
	}

	return pol, nil
}

func describeKind(kind string) string {
	if kind == "" {
		return "none"
	}
	return kind
}

// PolicyCanonicalView returns the map form of p used for hashing and for
// storing policy_json (spec.md §3).
func PolicyCanonicalView(p types.Policy) map[string]any {
	tools := make(map[string]any, len(p.Tools))
	for name, tp := range p.Tools {
		switch tp.Kind() {
		case "fs":
			tools[name] = map[string]any{
				"allow_paths":    toAnySlice(tp.Fs.AllowPaths),
				"deny_paths":     toAnySlice(tp.Fs.DenyPaths),
				"max_size_bytes": tp.Fs.MaxSizeBytes,
				"allow_hidden":   tp.Fs.AllowHidden,
			}
		case "http":
			tools[name] = map[string]any{
				"allow_domains":      toAnySlice(tp.Http.AllowDomains),
				"deny_private_ips":   tp.Http.DenyPrivateIPs,
				"max_response_bytes": tp.Http.MaxResponseBytes,
				"timeout_seconds":    tp.Http.TimeoutSeconds,
			}
		case "shell":
			tools[name] = map[string]any{
				"allow_executables": toAnySlice(tp.Shell.AllowExecutables),
				"deny_tokens":       toAnySlice(tp.Shell.DenyTokens),
				"timeout_seconds":   tp.Shell.TimeoutSeconds,
				"max_output_bytes":  tp.Shell.MaxOutputBytes,
			}
		}
	}

	return map[string]any{
		"boundary":               string(p.Boundary),
		"tools":                  tools,
		"global_timeout_seconds": p.GlobalTimeoutSeconds,
		"max_calls_per_tool":     p.MaxCallsPerTool,
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
