package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opengemini/gemproxy/internal/agent"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	return r.resolveRoot(r.Root, path)
}

// ResolveContext behaves like Resolve, but resolves against the project root
// set on ctx by a project_path= directive (see agent.WithProjectRoot) when
// one is present, falling back to the resolver's boot-time workspace root
// otherwise. All built-in file/exec/vcs tools should call this instead of
// Resolve so that a request-scoped project root actually takes effect.
func (r Resolver) ResolveContext(ctx context.Context, path string) (string, error) {
	root := r.Root
	if projectRoot := agent.ProjectRootFromContext(ctx); projectRoot != "" {
		root = projectRoot
	}
	return r.resolveRoot(root, path)
}

func (r Resolver) resolveRoot(rootIn, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(rootIn)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	realRoot := realpath(rootAbs)
	realTarget := realpath(targetAbs)

	rel, err := filepath.Rel(realRoot, realTarget)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// realpath resolves symlinks where possible, falling back to the input path
// for components that don't yet exist (e.g. a file about to be created).
func realpath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir, base := filepath.Split(path)
	if dir == "" || dir == path {
		return path
	}
	return filepath.Join(realpath(filepath.Clean(dir)), base)
}
