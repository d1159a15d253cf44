// Package builtin implements Capsule's four built-in tools: fs.read,
// fs.write, http.get, and shell.run.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

// FsRead implements fs.read.
type FsRead struct{}

func (FsRead) Name() string        { return "fs.read" }
func (FsRead) Description() string { return "Read a file's contents." }

func (FsRead) Schema() tool.ArgSchema {
	return tool.ArgSchema{Fields: []tool.ArgField{
		{Name: "path", Type: "string", Required: true},
		{Name: "encoding", Type: "string", Required: false, Description: `default "utf-8"`},
	}}
}

func (FsRead) Execute(ctx context.Context, args map[string]any, tctx *tool.Context) (tool.Output, error) {
	rawPath, ok := args["path"].(string)
	if !ok || rawPath == "" {
		return tool.Output{}, tool.NewValidationError("path is missing or not a string")
	}

	path := rawPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(tctx.WorkingDir, rawPath)
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("path could not be resolved: %v", err))
	}

	info, err := os.Stat(real)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("stat failed: %v", err))
	}

	fp := fsPolicyFor(tctx, "fs.read")
	if fp != nil && fp.MaxSizeBytes > 0 && uint64(info.Size()) > fp.MaxSizeBytes {
		return tool.Output{}, tool.NewValidationError("file exceeds max_size_bytes")
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("read failed: %v", err))
	}

	encoding, _ := args["encoding"].(string)
	if encoding == "" {
		encoding = "utf-8"
	}

	if encoding == "utf-8" && !utf8.Valid(data) {
		// Decode failure fallback: return raw bytes, report binary.
		return tool.Output{Success: true, Data: map[string]any{
			"content":    data,
			"size_bytes": len(data),
			"encoding":   "binary",
		}}, nil
	}

	return tool.Output{Success: true, Data: map[string]any{
		"content":    string(data),
		"size_bytes": len(data),
		"encoding":   encoding,
	}}, nil
}

// FsWrite implements fs.write.
type FsWrite struct{}

func (FsWrite) Name() string        { return "fs.write" }
func (FsWrite) Description() string { return "Write (or append to) a file." }

func (FsWrite) Schema() tool.ArgSchema {
	return tool.ArgSchema{Fields: []tool.ArgField{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string", Required: true},
		{Name: "encoding", Type: "string", Required: false},
		{Name: "append", Type: "bool", Required: false},
	}}
}

func (FsWrite) Execute(ctx context.Context, args map[string]any, tctx *tool.Context) (tool.Output, error) {
	rawPath, ok := args["path"].(string)
	if !ok || rawPath == "" {
		return tool.Output{}, tool.NewValidationError("path is missing or not a string")
	}
	content, ok := args["content"].(string)
	if !ok {
		return tool.Output{}, tool.NewValidationError("content is missing or not a string")
	}
	appendMode, _ := args["append"].(bool)

	path := rawPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(tctx.WorkingDir, rawPath)
	}

	dir := filepath.Dir(path)
	if _, err := filepath.EvalSymlinks(dir); err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("parent directory does not exist: %v", err))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("open failed: %v", err))
	}
	defer f.Close()

	n, err := f.Write([]byte(content))
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("write failed: %v", err))
	}

	return tool.Output{Success: true, Data: map[string]any{
		"bytes_written": n,
		"path":          path,
	}}, nil
}

// fsPolicyFor fetches the FsPolicy for toolName from the call's policy, if
// present. Used for the read-side size pre-check spec.md §4.1 rule 8
// assigns to the tool (not the engine).
func fsPolicyFor(tctx *tool.Context, toolName string) *fsPolicyShape {
	if tctx == nil || tctx.Policy == nil {
		return nil
	}
	tp, ok := tctx.Policy.Tools[toolName]
	if !ok || tp.Fs == nil {
		return nil
	}
	return &fsPolicyShape{MaxSizeBytes: tp.Fs.MaxSizeBytes}
}

type fsPolicyShape struct {
	MaxSizeBytes uint64
}
