package policy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func newEngine(t *testing.T, workingDir string, pol types.Policy) *Engine {
	t.Helper()
	return New(&pol, "sha256:test", workingDir)
}

func TestEvaluateFsReadAllow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))

	pol := types.Policy{
		Boundary: types.BoundaryDenyByDefault,
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, MaxSizeBytes: 1 << 20}},
		},
	}

	eng := newEngine(t, dir, pol)
	res := eng.Evaluate(context.Background(), "fs.read", map[string]any{"path": "README.md"}, nil)
	require.True(t, res.Decision.Allowed, res.Decision.Reason)
}

func TestEvaluateFsReadDotfileDenied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1"), 0o644))

	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./**"}, AllowHidden: false}},
		},
	}

	eng := newEngine(t, dir, pol)
	res := eng.Evaluate(context.Background(), "fs.read", map[string]any{"path": ".env"}, nil)
	require.False(t, res.Decision.Allowed)
	require.Contains(t, res.Decision.Reason, "hidden")
}

func TestEvaluateFsReadSymlinkEscapeDenied(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))
	require.NoError(t, os.Symlink("/etc", filepath.Join(work, "link")))

	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{AllowPaths: []string{"./work/**"}}},
		},
	}

	eng := newEngine(t, dir, pol)
	res := eng.Evaluate(context.Background(), "fs.read", map[string]any{"path": "work/link/passwd"}, nil)
	require.False(t, res.Decision.Allowed)
}

func TestEvaluateShellAllowExecDenyTokenHit(t *testing.T) {
	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"shell.run": {Shell: &types.ShellPolicy{
				AllowExecutables: []string{"echo"},
				DenyTokens:       []string{"rm -rf"},
			}},
		},
	}

	eng := newEngine(t, t.TempDir(), pol)
	res := eng.Evaluate(context.Background(), "shell.run", map[string]any{
		"cmd": []any{"echo", "hello rm -rf /"},
	}, nil)
	require.False(t, res.Decision.Allowed)
	require.Equal(t, "shell_deny_tokens", res.Decision.RuleHit)
}

func TestEvaluateShellRejectsNonListCmd(t *testing.T) {
	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"shell.run": {Shell: &types.ShellPolicy{AllowExecutables: []string{"echo"}}},
		},
	}

	eng := newEngine(t, t.TempDir(), pol)
	res := eng.Evaluate(context.Background(), "shell.run", map[string]any{"cmd": "echo hi"}, nil)
	require.False(t, res.Decision.Allowed)
}

type fakeResolver struct {
	addrs []net.IPAddr
	err   error
}

func (f fakeResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return f.addrs, f.err
}

func TestEvaluateHTTPGetPrivateIPDenied(t *testing.T) {
	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"http.get": {Http: &types.HttpPolicy{AllowDomains: []string{"*"}, DenyPrivateIPs: true}},
		},
	}

	eng := newEngine(t, t.TempDir(), pol)
	eng.WithResolver(fakeResolver{addrs: []net.IPAddr{{IP: net.ParseIP("169.254.169.254")}}})

	res := eng.Evaluate(context.Background(), "http.get", map[string]any{"url": "http://169.254.169.254/meta"}, nil)
	require.False(t, res.Decision.Allowed)
	require.Contains(t, res.Decision.Reason, "blocked range")
}

func TestEvaluateHTTPGetAllowedPinsResolvedIP(t *testing.T) {
	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"http.get": {Http: &types.HttpPolicy{AllowDomains: []string{"*.example.com"}, DenyPrivateIPs: true}},
		},
	}

	want := net.ParseIP("93.184.216.34")
	eng := newEngine(t, t.TempDir(), pol)
	eng.WithResolver(fakeResolver{addrs: []net.IPAddr{{IP: want}}})

	res := eng.Evaluate(context.Background(), "http.get", map[string]any{"url": "https://api.example.com/v1"}, nil)
	require.True(t, res.Decision.Allowed)
	require.True(t, res.ResolvedIP.Equal(want))
}

func TestEvaluateDenyByDefaultForUnlistedTool(t *testing.T) {
	pol := types.Policy{Tools: map[string]types.ToolPolicy{}}
	eng := newEngine(t, t.TempDir(), pol)

	res := eng.Evaluate(context.Background(), "shell.run", map[string]any{"cmd": []any{"echo"}}, nil)
	require.False(t, res.Decision.Allowed)
	require.Equal(t, "deny_by_default", res.Decision.RuleHit)
}

func TestEvaluateQuotaExceeded(t *testing.T) {
	pol := types.Policy{
		MaxCallsPerTool: 2,
		Tools: map[string]types.ToolPolicy{
			"shell.run": {Shell: &types.ShellPolicy{AllowExecutables: []string{"echo"}}},
		},
	}

	eng := newEngine(t, t.TempDir(), pol)
	counters := map[string]int{"shell.run": 2}
	res := eng.Evaluate(context.Background(), "shell.run", map[string]any{"cmd": []any{"echo"}}, counters)
	require.False(t, res.Decision.Allowed)
	require.Equal(t, "quota exceeded", res.Decision.Reason)
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644))

	pol := types.Policy{
		Tools: map[string]types.ToolPolicy{
			"fs.read": {Fs: &types.FsPolicy{
				AllowPaths: []string{"./**"},
				DenyPaths:  []string{"./secret.txt"},
			}},
		},
	}

	eng := newEngine(t, dir, pol)
	res := eng.Evaluate(context.Background(), "fs.read", map[string]any{"path": "secret.txt"}, nil)
	require.False(t, res.Decision.Allowed)
	require.Equal(t, "fs_deny_paths", res.Decision.RuleHit)
}
