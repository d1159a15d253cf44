package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs rootCmd with args and captures stdout, the same
// pattern jvs-project-jvs's internal/cli/root_test.go uses since the CLI
// writes directly to os.Stdout rather than a configurable writer.
func executeCommand(args ...string) (stdout string, err error) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	rootCmd.SetArgs(args)
	err = rootCmd.Execute()

	_ = w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String(), err
}

func writePolicyFile(t *testing.T, dir string) string {
	path := filepath.Join(dir, "policy.yaml")
	content := `
boundary: deny_by_default
tools:
  fs.read:
    fs:
      allow_paths: ["` + dir + `/**"]
      max_size_bytes: 1048576
  fs.write:
    fs:
      allow_paths: ["` + dir + `/**"]
      max_size_bytes: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writePlanFile(t *testing.T, dir, targetPath string) string {
	path := filepath.Join(dir, "plan.yaml")
	content := `
version: "1"
name: read-one-file
steps:
  - tool: fs.read
    args:
      path: "` + targetPath + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func resetCLIState() {
	jsonOutput = false
	verbose = false
	dbPath = "capsule.db"
}

func TestRunCommandSucceedsAndRecordsRun(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	policyPath := writePolicyFile(t, dir)
	planPath := writePlanFile(t, dir, target)
	dbPath = filepath.Join(dir, "capsule.db")

	stdout, err := executeCommand("run", planPath, "--policy", policyPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "status=completed")
}

func TestRunCommandRejectsMissingPlan(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	policyPath := writePolicyFile(t, dir)
	dbPath = filepath.Join(dir, "capsule.db")

	_, err := executeCommand("run", filepath.Join(dir, "missing.yaml"), "--policy", policyPath, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitPlanValidation, codeOf(err))
}

func TestPolicyLintCommand(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()
	policyPath := writePolicyFile(t, dir)

	stdout, err := executeCommand("policy", "lint", policyPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "boundary=deny_by_default")
	assert.Contains(t, stdout, "policy_hash=")
}

func TestListRunsAndShowRun(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	policyPath := writePolicyFile(t, dir)
	planPath := writePlanFile(t, dir, target)
	dbPath = filepath.Join(dir, "capsule.db")

	_, err := executeCommand("run", planPath, "--policy", policyPath, "--db", dbPath)
	require.NoError(t, err)

	listStdout, err := executeCommand("list-runs", "--db", dbPath)
	require.NoError(t, err)
	require.NotEmpty(t, listStdout)

	runID := splitFirstField(listStdout)
	showStdout, err := executeCommand("show-run", runID, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, showStdout, "run_id="+runID)
}

func TestShowRunNotFound(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "capsule.db")

	// Opening the store creates the schema even with no runs recorded.
	_, err := executeCommand("list-runs", "--db", dbPath)
	require.NoError(t, err)

	_, err = executeCommand("show-run", "does-not-exist", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitRunNotFound, codeOf(err))
}

func TestReplayCommand(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	policyPath := writePolicyFile(t, dir)
	planPath := writePlanFile(t, dir, target)
	dbPath = filepath.Join(dir, "capsule.db")

	_, err := executeCommand("run", planPath, "--policy", policyPath, "--db", dbPath)
	require.NoError(t, err)

	listStdout, err := executeCommand("list-runs", "--db", dbPath)
	require.NoError(t, err)
	runID := splitFirstField(listStdout)

	replayStdout, err := executeCommand("replay", runID, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, replayStdout, "mismatches=0")
}

func TestReportCommand(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	policyPath := writePolicyFile(t, dir)
	planPath := writePlanFile(t, dir, target)
	dbPath = filepath.Join(dir, "capsule.db")

	_, err := executeCommand("run", planPath, "--policy", policyPath, "--db", dbPath)
	require.NoError(t, err)

	listStdout, err := executeCommand("list-runs", "--db", dbPath)
	require.NoError(t, err)
	runID := splitFirstField(listStdout)

	reportStdout, err := executeCommand("report", runID, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, reportStdout, "\"verdict\"")
}

func TestAgentRunCommandCompletesOnDone(t *testing.T) {
	resetCLIState()
	dir := t.TempDir()

	policyPath := writePolicyFile(t, dir)
	dbPath = filepath.Join(dir, "capsule.db")

	scriptPath := filepath.Join(dir, "script.json")
	require.NoError(t, os.WriteFile(scriptPath, []byte(`[{"done": true, "reasoning": "nothing to do"}]`), 0o644))

	stdout, err := executeCommand("agent", "run", "say hello", "--policy", policyPath, "--script", scriptPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "status=completed")
}

// splitFirstField returns the text before the first tab or newline in s,
// matching list-runs' tab-separated human-readable output.
func splitFirstField(s string) string {
	for i, r := range s {
		if r == '\t' || r == '\n' {
			return s[:i]
		}
	}
	return s
}
