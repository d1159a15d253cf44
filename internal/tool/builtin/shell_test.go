package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

func TestShellRunEchoSucceeds(t *testing.T) {
	out, err := ShellRun{}.Execute(context.Background(), map[string]any{
		"cmd": []any{"echo", "hi"},
	}, &tool.Context{WorkingDir: t.TempDir()})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, 0, out.Data["exit_code"])
	require.Contains(t, out.Data["stdout"], "hi")
}

func TestShellRunRejectsNonListCmd(t *testing.T) {
	_, err := ShellRun{}.Execute(context.Background(), map[string]any{
		"cmd": "echo hi",
	}, &tool.Context{WorkingDir: t.TempDir()})
	require.Error(t, err)
}

func TestShellRunRejectsCwdOutsideWorkingDir(t *testing.T) {
	_, err := ShellRun{}.Execute(context.Background(), map[string]any{
		"cmd": []any{"echo", "hi"},
		"cwd": "/etc",
	}, &tool.Context{WorkingDir: t.TempDir()})
	require.Error(t, err)
}

func TestShellRunStripsSensitiveEnvVars(t *testing.T) {
	out, err := ShellRun{}.Execute(context.Background(), map[string]any{
		"cmd": []any{"env"},
		"env": map[string]any{"SAFE_VAR": "ok", "GITHUB_TOKEN": "leak"},
	}, &tool.Context{WorkingDir: t.TempDir()})
	require.NoError(t, err)
	require.NotContains(t, out.Data["stdout"], "leak")
	require.Contains(t, out.Data["stdout"], "SAFE_VAR=ok")
}
