package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

const validPolicyYAML = `
boundary: deny_by_default
tools:
  fs.read:
    fs:
      allow_paths: ["./**"]
      max_size_bytes: 1048576
  shell.run:
    shell:
      allow_executables: ["echo"]
      deny_tokens: ["rm -rf"]
global_timeout_seconds: 60
max_calls_per_tool: 10
`

func TestLoadPolicyValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPolicyYAML), 0o644))

	loaded, err := LoadPolicy(path)
	require.NoError(t, err)
	require.Equal(t, types.BoundaryDenyByDefault, loaded.Policy.Boundary)
	require.NotEmpty(t, loaded.Hash)
	require.Contains(t, loaded.Policy.Tools, "fs.read")
}

func TestLoadPolicyRejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPolicyYAML+"\nbogus_key: true\n"), 0o644))

	_, err := LoadPolicy(path)
	require.Error(t, err)
}

func TestLoadPolicyRejectsUnknownToolName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	bad := `
boundary: deny_by_default
tools:
  network.fetch:
    http:
      allow_domains: ["*"]
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadPolicy(path)
	require.Error(t, err)
}

func TestLoadPolicyRejectsMismatchedVariant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	bad := `
boundary: deny_by_default
tools:
  fs.read:
    http:
      allow_domains: ["*"]
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadPolicy(path)
	require.Error(t, err)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
