package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

// sensitiveEnvPattern matches environment variable names the tool strips
// before spawning, even if the caller's env map explicitly sets them —
// mirroring the intent of relia's own tool contracts that never forward
// secrets into a subordinate operation.
var sensitiveEnvPattern = regexp.MustCompile(`(?i)_(TOKEN|SECRET|KEY)$`)

// ShellRun implements shell.run. The policy has already approved
// cmd[0]'s basename and scanned arguments for denied tokens; this tool
// never invokes a shell interpreter (exec.Command with a literal arg
// slice) and enforces the mechanical checks the policy explicitly leaves
// to it: cwd containment and environment filtering (spec.md §4.1 rule 4).
type ShellRun struct{}

func (ShellRun) Name() string        { return "shell.run" }
func (ShellRun) Description() string { return "Run a subprocess with no shell interpretation." }

func (ShellRun) Schema() tool.ArgSchema {
	return tool.ArgSchema{Fields: []tool.ArgField{
		{Name: "cmd", Type: "list<string>", Required: true},
		{Name: "cwd", Type: "string", Required: false},
		{Name: "env", Type: "object", Required: false},
	}}
}

func (ShellRun) Execute(ctx context.Context, args map[string]any, tctx *tool.Context) (tool.Output, error) {
	cmdArgs, err := stringList(args["cmd"])
	if err != nil || len(cmdArgs) == 0 {
		return tool.Output{}, tool.NewValidationError("cmd must be a non-empty list of strings")
	}

	cwd := tctx.WorkingDir
	if rawCwd, ok := args["cwd"].(string); ok && rawCwd != "" {
		joined := rawCwd
		if !filepath.IsAbs(joined) {
			joined = filepath.Join(tctx.WorkingDir, rawCwd)
		}
		resolvedWorkingDir, werr := filepath.EvalSymlinks(tctx.WorkingDir)
		resolvedJoined, jerr := filepath.EvalSymlinks(joined)
		rel, rerr := filepath.Rel(resolvedWorkingDir, resolvedJoined)
		if werr != nil || jerr != nil || rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return tool.Output{}, tool.NewValidationError("cwd must be within working_dir")
		}
		cwd = joined
	}

	env := []string{}
	if rawEnv, ok := args["env"].(map[string]any); ok {
		for k, v := range rawEnv {
			if sensitiveEnvPattern.MatchString(k) {
				continue
			}
			if s, ok := v.(string); ok {
				env = append(env, k+"="+s)
			}
		}
	} else {
		// No env map: the parent environment, minus sensitive names.
		for _, kv := range os.Environ() {
			if name, _, _ := strings.Cut(kv, "="); !sensitiveEnvPattern.MatchString(name) {
				env = append(env, kv)
			}
		}
	}

	sp := shellPolicyFor(tctx)
	timeout := 30 * time.Second
	if sp != nil && sp.TimeoutSeconds > 0 {
		timeout = time.Duration(sp.TimeoutSeconds) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// On timeout the process group gets SIGTERM; if the process has not
	// exited after the grace period, Wait escalates to SIGKILL.
	cmd.Cancel = func() error { return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM) }
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	maxOutput := 0
	if sp != nil {
		maxOutput = int(sp.MaxOutputBytes)
	}
	cmd.Stdout = limitedWriter(&stdout, maxOutput)
	cmd.Stderr = limitedWriter(&stderr, maxOutput)

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut && cmd.Process != nil {
		// Kill whatever is left of the process group after the grace period.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil && exitCode == -1 && !timedOut {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("exec failed: %v", runErr))
	}

	return tool.Output{Success: true, Data: map[string]any{
		"exit_code":   exitCode,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"duration_ms": duration.Milliseconds(),
		"timed_out":   timedOut,
	}}, nil
}

func stringList(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s, nil
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

type shellPolicyShape struct {
	TimeoutSeconds uint32
	MaxOutputBytes uint64
}

func shellPolicyFor(tctx *tool.Context) *shellPolicyShape {
	if tctx == nil || tctx.Policy == nil {
		return nil
	}
	tp, ok := tctx.Policy.Tools["shell.run"]
	if !ok || tp.Shell == nil {
		return nil
	}
	return &shellPolicyShape{TimeoutSeconds: tp.Shell.TimeoutSeconds, MaxOutputBytes: tp.Shell.MaxOutputBytes}
}

// limitedWriter truncates writes past max bytes (0 = unlimited) rather
// than erroring, matching spec.md §4.2: "stdout/stderr truncated to
// max_output_bytes".
func limitedWriter(buf *bytes.Buffer, max int) *truncatingWriter {
	return &truncatingWriter{buf: buf, max: max}
}

type truncatingWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *truncatingWriter) Write(p []byte) (int, error) {
	if w.max <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
