// Package vaultpath normalizes client-supplied vault paths and guards
// against directory traversal. Every component validates a path here
// before touching the filesystem or the index.
package vaultpath

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mjelva/kbase/internal/apperr"
)

// Root is the canonical path of the vault root.
const Root = "/"

// Clean normalizes raw to canonical form: forward slashes, vault-relative,
// leading slash, no trailing slash (except the root itself). Any ".."
// segment, in either separator form, fails with ErrInvalidPath.
func Clean(raw string) (string, error) {
	// Windows-style separators are never legitimate in a vault path and
	// are a common traversal obfuscation, so normalize before checking.
	p := strings.ReplaceAll(raw, `\`, "/")
	// A literal ".." segment is the only traversal vector; names that merely
	// contain dots ("a..b.md") are legal. path.Clean never introduces a ".."
	// segment that was not already present.
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("vaultpath: %q: %w", raw, apperr.ErrInvalidPath)
		}
	}
	return path.Clean("/" + p), nil
}

// Name returns the last segment of a canonical path. The root maps to "/".
func Name(canonical string) string {
	if canonical == Root {
		return Root
	}
	return path.Base(canonical)
}

// Parent returns the canonical path of the containing directory, and false
// for the root (which has no parent).
func Parent(canonical string) (string, bool) {
	if canonical == Root {
		return "", false
	}
	dir := path.Dir(canonical)
	return dir, true
}

// IsAncestor reports whether ancestor contains p (strictly).
func IsAncestor(ancestor, p string) bool {
	if ancestor == Root {
		return p != Root
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Resolver maps canonical vault paths to absolute filesystem paths,
// failing closed when a resolved path escapes the vault root.
type Resolver struct {
	root string // absolute vault root
}

// NewResolver creates a Resolver for the given vault root directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vaultpath: resolve root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// RootDir returns the absolute vault root.
func (r *Resolver) RootDir() string {
	return r.root
}

// Abs validates raw and returns the absolute filesystem path it denotes.
// The check runs on the resolved absolute path, not the raw string: even a
// path that slipped past Clean must still land under the vault root.
func (r *Resolver) Abs(raw string) (string, error) {
	canonical, err := Clean(raw)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(filepath.Join(r.root, filepath.FromSlash(canonical)))
	if err != nil {
		return "", fmt.Errorf("vaultpath: resolve %q: %w", raw, err)
	}
	if abs != r.root && !strings.HasPrefix(abs, r.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("vaultpath: %q escapes vault root: %w", raw, apperr.ErrInvalidPath)
	}
	return abs, nil
}

// Rel converts an absolute filesystem path under the vault root back to
// canonical form.
func (r *Resolver) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("vaultpath: rel %q: %w", abs, err)
	}
	if rel == "." {
		return Root, nil
	}
	return Clean(filepath.ToSlash(rel))
}
