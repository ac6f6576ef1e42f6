package index

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// Scanner walks the vault directory tree and produces index nodes. The full
// walk is the only whole-tree filesystem traversal in the system; everything
// else the index does is a point or subtree operation.
type Scanner struct {
	resolver *vaultpath.Resolver
	excluded map[string]struct{}
	logger   *slog.Logger
}

// NewScanner creates a Scanner. Directories whose name appears in excluded,
// and any dot-prefixed entry, are invisible to the index at every depth.
func NewScanner(resolver *vaultpath.Resolver, excluded []string, logger *slog.Logger) *Scanner {
	ex := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		ex[name] = struct{}{}
	}
	return &Scanner{resolver: resolver, excluded: ex, logger: logger}
}

// Skips reports whether an entry name is excluded from indexing.
func (s *Scanner) Skips(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := s.excluded[name]
	return ok
}

// Scan performs a single recursive walk of the vault and returns one node
// per visible entry, root included. A read error on a single entry skips
// that entry and continues; it never aborts the scan.
func (s *Scanner) Scan() ([]Node, error) {
	return s.ScanSubtree(vaultpath.Root)
}

// ScanSubtree walks only the subtree rooted at the given canonical path,
// returning nodes in walk order (every parent before its children).
func (s *Scanner) ScanSubtree(canonical string) ([]Node, error) {
	root, err := s.resolver.Abs(canonical)
	if err != nil {
		return nil, err
	}
	var out []Node

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("scan: entry skipped",
				slog.String("path", p),
				slog.String("error", walkErr.Error()))
			return nil
		}
		if p != root && s.Skips(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		canonical, relErr := s.resolver.Rel(p)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			s.logger.Warn("scan: stat failed",
				slog.String("path", canonical),
				slog.String("error", infoErr.Error()))
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		out = append(out, nodeFromInfo(canonical, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index: scan: %w", err)
	}
	return out, nil
}

// ProbeEntry stats a single vault path and returns its node.
func (s *Scanner) ProbeEntry(canonical string) (Node, error) {
	abs, err := s.resolver.Abs(canonical)
	if err != nil {
		return Node{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Node{}, fmt.Errorf("index: probe %s: %w", canonical, apperr.ErrNotFound)
		}
		return Node{}, fmt.Errorf("index: probe %s: %w", canonical, err)
	}
	return nodeFromInfo(canonical, info), nil
}

// DiskProbe is the cheap filesystem state sample compared against the
// store's summary by the staleness detector.
type DiskProbe struct {
	Count         int
	MaxModifiedAt int64
	RootSig       uint64
}

// Probe samples the current on-disk state: a recursive visible-entry count,
// the maximum modification time, and a signature over the root directory's
// immediate listing. The signature catches same-count drift such as a
// top-level rename.
func (s *Scanner) Probe() (DiskProbe, error) {
	root := s.resolver.RootDir()
	p := DiskProbe{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if path != root && s.Skips(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		p.Count++
		if info, err := d.Info(); err == nil {
			if mt := info.ModTime().Unix(); mt > p.MaxModifiedAt {
				p.MaxModifiedAt = mt
			}
		}
		return nil
	})
	if err != nil {
		return DiskProbe{}, fmt.Errorf("index: probe walk: %w", err)
	}

	sig, err := s.rootSignature()
	if err != nil {
		return DiskProbe{}, err
	}
	p.RootSig = sig
	return p, nil
}

// rootSignature hashes the root directory's immediate listing in sorted
// order: one line of name, kind, and mtime per entry.
func (s *Scanner) rootSignature() (uint64, error) {
	root := s.resolver.RootDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("index: read root: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	h := xxhash.New()
	for _, e := range entries {
		if s.Skips(e.Name()) {
			continue
		}
		var mtime int64
		if info, err := e.Info(); err == nil {
			mtime = info.ModTime().Unix()
		}
		fmt.Fprintf(h, "%s|%t|%d\n", e.Name(), e.IsDir(), mtime)
	}
	return h.Sum64(), nil
}

func nodeFromInfo(canonical string, info fs.FileInfo) Node {
	n := Node{
		Path:       canonical,
		Name:       vaultpath.Name(canonical),
		Kind:       KindFile,
		ModifiedAt: info.ModTime().Unix(),
	}
	if parent, ok := vaultpath.Parent(canonical); ok {
		n.ParentPath = parent
	}
	if info.IsDir() {
		n.Kind = KindDirectory
	} else {
		n.Size = info.Size()
	}
	return n
}
