package types

import "fmt"

// Boundary names the policy's overall posture. Only deny_by_default is
// supported in this version (spec.md §3).
type Boundary string

const (
	BoundaryDenyByDefault Boundary = "deny_by_default"
)

// FsPolicy governs fs.read and fs.write.
type FsPolicy struct {
	AllowPaths    []string `yaml:"allow_paths,omitempty" json:"allow_paths,omitempty"`
	DenyPaths     []string `yaml:"deny_paths,omitempty" json:"deny_paths,omitempty"`
	MaxSizeBytes  uint64   `yaml:"max_size_bytes,omitempty" json:"max_size_bytes,omitempty"`
	AllowHidden   bool     `yaml:"allow_hidden,omitempty" json:"allow_hidden,omitempty"`
}

// HttpPolicy governs http.get.
type HttpPolicy struct {
	AllowDomains      []string `yaml:"allow_domains,omitempty" json:"allow_domains,omitempty"`
	DenyPrivateIPs    bool     `yaml:"deny_private_ips,omitempty" json:"deny_private_ips,omitempty"`
	MaxResponseBytes  uint64   `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty"`
	TimeoutSeconds    uint32   `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// ShellPolicy governs shell.run.
type ShellPolicy struct {
	AllowExecutables []string `yaml:"allow_executables,omitempty" json:"allow_executables,omitempty"`
	DenyTokens       []string `yaml:"deny_tokens,omitempty" json:"deny_tokens,omitempty"`
	TimeoutSeconds   uint32   `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxOutputBytes   uint64   `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty"`
}

// ToolPolicy is the tagged-variant policy for a single named tool. Exactly
// one of Fs/Http/Shell is populated, inferred from the tool name at load
// time (spec.md §9: "tagged policy variants...discriminated union").
type ToolPolicy struct {
	Fs    *FsPolicy    `yaml:"-" json:"fs,omitempty"`
	Http  *HttpPolicy  `yaml:"-" json:"http,omitempty"`
	Shell *ShellPolicy `yaml:"-" json:"shell,omitempty"`
}

// UnmarshalYAML decodes a ToolPolicy from exactly one of the "fs", "http",
// or "shell" keys, discriminating on whichever is present rather than a
// tag field. A document with zero or more than one of those keys is
// rejected.
func (t *ToolPolicy) UnmarshalYAML(unmarshal func(any) error) error {
	var raw struct {
		Fs    *FsPolicy    `yaml:"fs"`
		Http  *HttpPolicy  `yaml:"http"`
		Shell *ShellPolicy `yaml:"shell"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	set := 0
	if raw.Fs != nil {
		set++
	}
	if raw.Http != nil {
		set++
	}
	if raw.Shell != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("tool policy must set exactly one of fs, http, shell (got %d)", set)
	}

	t.Fs, t.Http, t.Shell = raw.Fs, raw.Http, raw.Shell
	return nil
}

// Kind reports which variant is populated: "fs", "http", or "shell".
// Returns "" if none are set.
func (t ToolPolicy) Kind() string {
	switch {
	case t.Fs != nil:
		return "fs"
	case t.Http != nil:
		return "http"
	case t.Shell != nil:
		return "shell"
	default:
		return ""
	}
}

// Policy is the frozen, loaded policy document.
type Policy struct {
	Boundary             Boundary              `yaml:"boundary" json:"boundary"`
	Tools                map[string]ToolPolicy `yaml:"tools" json:"tools"`
	GlobalTimeoutSeconds uint32                `yaml:"global_timeout_seconds,omitempty" json:"global_timeout_seconds,omitempty"`
	MaxCallsPerTool      uint32                `yaml:"max_calls_per_tool,omitempty" json:"max_calls_per_tool,omitempty"`
}

// PolicyDecision is the result of evaluating one proposed tool call.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	RuleHit string `json:"rule_hit,omitempty"`
}
