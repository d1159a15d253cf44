package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

func TestFsReadReturnsContentAndSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	out, err := FsRead{}.Execute(context.Background(), map[string]any{"path": "a.txt"}, &tool.Context{WorkingDir: dir})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "hello", out.Data["content"])
	require.Equal(t, 5, out.Data["size_bytes"])
	require.Equal(t, "utf-8", out.Data["encoding"])
}

func TestFsReadMissingPathIsValidationError(t *testing.T) {
	_, err := FsRead{}.Execute(context.Background(), map[string]any{}, &tool.Context{WorkingDir: t.TempDir()})
	require.Error(t, err)
	require.IsType(t, &tool.ValidationError{}, err)
}

func TestFsWriteCreatesFile(t *testing.T) {
	dir := t.TempDir()
	out, err := FsWrite{}.Execute(context.Background(), map[string]any{
		"path": "out.txt", "content": "data",
	}, &tool.Context{WorkingDir: dir})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, 4, out.Data["bytes_written"])

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "data", string(got))
}

func TestFsWriteAppendMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("first;"), 0o644))

	_, err := FsWrite{}.Execute(context.Background(), map[string]any{
		"path": "log.txt", "content": "second", "append": true,
	}, &tool.Context{WorkingDir: dir})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first;second", string(got))
}

func TestFsWriteRejectsMissingParentDir(t *testing.T) {
	dir := t.TempDir()
	_, err := FsWrite{}.Execute(context.Background(), map[string]any{
		"path": "nope/out.txt", "content": "x",
	}, &tool.Context{WorkingDir: dir})
	require.Error(t, err)
}
