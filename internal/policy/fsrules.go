package policy

import (
	"fmt"
	"path/filepath"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

func (e *Engine) evaluateFsRead(fp *types.FsPolicy, args map[string]any) (Result, error) {
	rawPath, ok := args["path"].(string)
	if !ok || rawPath == "" {
		return deny("args.path is missing or not a string", "fs_args"), nil
	}

	canonical, err := canonicalizeFsPath(e.workingDir, rawPath, true)
	if err != nil {
		return deny(fmt.Sprintf("path could not be resolved: %v", err), "fs_canonicalize"), nil
	}

	return e.evaluateFsPath(fp, canonical)
}

func (e *Engine) evaluateFsWrite(fp *types.FsPolicy, args map[string]any) (Result, error) {
	rawPath, ok := args["path"].(string)
	if !ok || rawPath == "" {
		return deny("args.path is missing or not a string", "fs_args"), nil
	}

	// Writes only require the parent directory to exist; the file itself
	// may not (spec.md §4.1 rule 2).
	canonical, err := canonicalizeFsPath(e.workingDir, rawPath, false)
	if err != nil {
		return deny(fmt.Sprintf("parent directory could not be resolved: %v", err), "fs_canonicalize"), nil
	}

	result, err := e.evaluateFsPath(fp, canonical)
	if err != nil || !result.Decision.Allowed {
		return result, err
	}

	if fp.MaxSizeBytes > 0 {
		content, _ := args["content"].(string)
		if uint64(len(content)) > fp.MaxSizeBytes {
			return deny("content exceeds max_size_bytes", "fs_max_size"), nil
		}
	}

	return result, nil
}

func (e *Engine) evaluateFsPath(fp *types.FsPolicy, canonical string) (Result, error) {
	if !fp.AllowHidden && hasHiddenComponent(canonical) {
		return deny("path contains a hidden (dotfile) component", "fs_allow_hidden"), nil
	}

	matchedAllow := ""
	for _, pattern := range fp.AllowPaths {
		resolvedPattern, err := resolveGlobBase(e.workingDir, pattern)
		if err != nil {
			// Base does not exist or escapes resolution; this allow
			// pattern simply cannot match anything real.
			continue
		}
		if GlobMatch(canonical, resolvedPattern) {
			matchedAllow = pattern
			break
		}
	}
	if matchedAllow == "" {
		return deny("path does not match any allow_paths pattern", "fs_allow_paths"), nil
	}

	for _, pattern := range fp.DenyPaths {
		resolvedPattern, err := resolveGlobBase(e.workingDir, pattern)
		if err != nil {
			continue
		}
		if GlobMatch(canonical, resolvedPattern) {
			return deny("path matches a deny_paths pattern", "fs_deny_paths"), nil
		}
	}

	return allow("fs_allow_paths"), nil
}

// resolveGlobBase resolves the literal, wildcard-free prefix of pattern
// (relative to workingDir) through symlinks and reattaches the wildcard
// suffix, so that a symlink inside an allow-listed directory pointing
// outside the workspace can never smuggle a match through (spec.md §4.1
// rule 6, the symlink escape check).
func resolveGlobBase(workingDir, pattern string) (string, error) {
	base, suffix := splitGlobBase(pattern)

	joined := base
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(workingDir, base)
	}

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}

	if suffix == "" {
		return filepath.Clean(real), nil
	}
	return filepath.Clean(real) + "/" + suffix, nil
}

// splitGlobBase splits pattern into the literal prefix (up to, not
// including, the first path segment containing a wildcard) and the
// remaining wildcard suffix.
func splitGlobBase(pattern string) (base, suffix string) {
	segs := splitSegments(filepath.ToSlash(pattern))
	isWild := func(s string) bool {
		for _, r := range s {
			if r == '*' || r == '?' {
				return true
			}
		}
		return false
	}

	i := 0
	for i < len(segs) && !isWild(segs[i]) {
		i++
	}

	baseSegs := segs[:i]
	suffixSegs := segs[i:]

	leading := ""
	if filepath.IsAbs(pattern) {
		leading = "/"
	}

	base = leading + joinSegments(baseSegs)
	suffix = joinSegments(suffixSegs)
	return base, suffix
}

func joinSegments(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
