// Package noteservice is the read façade and mutation entry point over the
// vault: every operation validates its path, touches the filesystem first,
// and then applies the matching incremental index mutation.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/checksum"
	"github.com/mjelva/kbase/internal/index"
	"github.com/mjelva/kbase/internal/vault"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified,omitempty"`
}

// Service coordinates vault storage and the index.
type Service struct {
	store    vault.Provider
	idx      index.TreeIndex
	scanner  *index.Scanner
	detector *index.Detector
	logger   *slog.Logger
}

// NewService creates a new Service.
func NewService(store vault.Provider, idx index.TreeIndex, scanner *index.Scanner, detector *index.Detector, logger *slog.Logger) *Service {
	return &Service{store: store, idx: idx, scanner: scanner, detector: detector, logger: logger}
}

// ListTree returns the subtree rooted at path. depth limits descent; pass a
// negative depth for the full tree. A cheap staleness check runs first, so
// a drifted index heals before it is served.
func (s *Service) ListTree(_ context.Context, path string, depth int) (*index.Tree, error) {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return nil, err
	}
	if rebuilt, err := s.detector.RebuildIfStale(); err != nil {
		s.logger.Warn("stale check failed", slog.String("error", err.Error()))
	} else if rebuilt {
		// Not an error, but frequent recovery means the change-event
		// bridge is falling behind; keep it visible.
		s.logger.Info("stale index recovered before query", slog.String("path", canonical))
	}
	return s.idx.Subtree(canonical, depth)
}

// GetMetadata returns the index node at path.
func (s *Service) GetMetadata(_ context.Context, path string) (index.Node, error) {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return index.Node{}, err
	}
	return s.idx.Get(canonical)
}

// SearchByName returns up to limit nodes whose name contains query,
// case-insensitively. Content search is delegated to external tooling and
// never touches the index.
func (s *Service) SearchByName(_ context.Context, query string, limit int) ([]index.Node, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)
	out := []index.Node{}
	s.idx.Walk(func(n index.Node) bool {
		if n.Path == vaultpath.Root {
			return true
		}
		if strings.Contains(strings.ToLower(n.Name), needle) {
			out = append(out, n)
		}
		return len(out) < limit
	})
	return out, nil
}

// GetNote reads a note's content and metadata from the vault.
func (s *Service) GetNote(_ context.Context, path string) (*NoteDetail, error) {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Stat(canonical)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fmt.Errorf("noteservice: %s is a directory: %w", canonical, apperr.ErrInvalidPath)
	}
	data, err := s.store.Read(canonical)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:     canonical,
		Content:  string(data),
		Checksum: checksum.Sum(data),
		Size:     info.Size,
		Modified: info.ModTime.Unix(),
	}, nil
}

// CreateNote writes a new note and inserts it into the index.
func (s *Service) CreateNote(ctx context.Context, path string, content []byte) (*NoteDetail, error) {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Stat(canonical); err == nil {
		return nil, fmt.Errorf("noteservice: create %s: %w", canonical, apperr.ErrConflict)
	}
	if err := s.store.Write(canonical, content); err != nil {
		return nil, err
	}
	s.syncIndexed(canonical)
	return s.GetNote(ctx, canonical)
}

// UpdateNote overwrites a note's content with optimistic concurrency: a
// non-empty ifMatch must equal the current content checksum.
func (s *Service) UpdateNote(ctx context.Context, path string, content []byte, ifMatch string) (*NoteDetail, error) {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.Read(canonical)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, fmt.Errorf("noteservice: update %s: checksum mismatch: %w", canonical, apperr.ErrConflict)
	}
	if err := s.store.Write(canonical, content); err != nil {
		return nil, err
	}
	s.syncIndexed(canonical)
	return s.GetNote(ctx, canonical)
}

// DeleteNote removes a note from the vault and the index.
func (s *Service) DeleteNote(_ context.Context, path string) error {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return err
	}
	info, err := s.store.Stat(canonical)
	if err != nil {
		return err
	}
	if info.IsDir {
		return fmt.Errorf("noteservice: delete %s is a directory: %w", canonical, apperr.ErrInvalidPath)
	}
	if err := s.store.Remove(canonical, false); err != nil {
		return err
	}
	s.syncRemoved(canonical)
	return nil
}

// CreateDir creates a directory in the vault and the index.
func (s *Service) CreateDir(_ context.Context, path string) error {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return err
	}
	if canonical == vaultpath.Root {
		return fmt.Errorf("noteservice: mkdir root: %w", apperr.ErrConflict)
	}
	if err := s.store.Mkdir(canonical); err != nil {
		return err
	}
	s.syncIndexed(canonical)
	return nil
}

// DeleteDir removes a directory. Non-empty directories require recursive.
func (s *Service) DeleteDir(_ context.Context, path string, recursive bool) error {
	canonical, err := vaultpath.Clean(path)
	if err != nil {
		return err
	}
	if canonical == vaultpath.Root {
		return fmt.Errorf("noteservice: delete root: %w", apperr.ErrInvalidPath)
	}
	info, err := s.store.Stat(canonical)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return fmt.Errorf("noteservice: %s is not a directory: %w", canonical, apperr.ErrInvalidPath)
	}
	if err := s.store.Remove(canonical, recursive); err != nil {
		return err
	}
	s.syncRemoved(canonical)
	return nil
}

// MoveEntry relocates a file or directory, then rewrites the affected index
// subtree in place.
func (s *Service) MoveEntry(_ context.Context, src, dst string) error {
	cSrc, err := vaultpath.Clean(src)
	if err != nil {
		return err
	}
	cDst, err := vaultpath.Clean(dst)
	if err != nil {
		return err
	}
	if _, err := s.store.Stat(cSrc); err != nil {
		return err
	}
	if err := s.store.Move(cSrc, cDst); err != nil {
		return err
	}
	// The filesystem move may have created the destination's parent chain;
	// index it first so the in-place subtree rewrite has a parent to land on.
	if parent, ok := vaultpath.Parent(cDst); ok {
		if _, err := s.idx.Get(parent); err != nil {
			if _, ensErr := index.EnsureIndexed(s.idx, s.scanner, parent); ensErr != nil {
				s.flagStale("index move parent", parent, ensErr)
			}
		}
	}
	if err := s.idx.Move(cSrc, cDst); err != nil {
		// Out-of-sync index: reconcile both ends against the disk instead
		// of serving a tree with the entry still at its old path.
		if rmErr := s.idx.Remove(cSrc, true); rmErr != nil && !errors.Is(rmErr, apperr.ErrNotFound) {
			s.flagStale("move", cSrc, rmErr)
			return nil
		}
		s.syncIndexed(cDst)
		if info, statErr := s.store.Stat(cDst); statErr == nil && info.IsDir {
			s.syncSubtree(cDst)
		}
		s.syncParent(cSrc)
		return nil
	}
	s.syncParent(cSrc)
	s.syncParent(cDst)
	return nil
}

// CopyEntry duplicates a file or directory, then indexes the copy.
func (s *Service) CopyEntry(_ context.Context, src, dst string) error {
	cSrc, err := vaultpath.Clean(src)
	if err != nil {
		return err
	}
	cDst, err := vaultpath.Clean(dst)
	if err != nil {
		return err
	}
	if err := s.store.Copy(cSrc, cDst); err != nil {
		return err
	}
	s.syncIndexed(cDst)
	if info, statErr := s.store.Stat(cDst); statErr == nil && info.IsDir {
		s.syncSubtree(cDst)
	}
	return nil
}

// RebuildIndex forces a full rescan and returns the resulting node count.
func (s *Service) RebuildIndex(_ context.Context) (int, error) {
	return s.detector.Rebuild()
}

// Health returns the index's operational summary.
func (s *Service) Health(_ context.Context) index.HealthStatus {
	return s.detector.Health()
}

// syncIndexed mirrors a created or updated entry into the index. The
// filesystem write already succeeded, so an index failure only flags the
// index stale; it never fails the caller's operation.
func (s *Service) syncIndexed(canonical string) {
	if _, err := index.EnsureIndexed(s.idx, s.scanner, canonical); err != nil {
		s.flagStale("upsert", canonical, err)
		return
	}
	s.syncParent(canonical)
}

// syncRemoved mirrors a deletion into the index; an already-absent path is
// a no-op since the index may lag the filesystem.
func (s *Service) syncRemoved(canonical string) {
	if err := s.idx.Remove(canonical, true); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.flagStale("remove", canonical, err)
		return
	}
	s.syncParent(canonical)
}

// syncParent refreshes the containing directory's index metadata after a
// mutation. Entry churn bumps the parent's mtime on disk, and the staleness
// probe folds directory mtimes into its maximum: without the refresh every
// incremental delete or move would read as drift and force a full rescan.
func (s *Service) syncParent(canonical string) {
	parent, ok := vaultpath.Parent(canonical)
	if !ok {
		return
	}
	if _, err := index.EnsureIndexed(s.idx, s.scanner, parent); err != nil {
		s.flagStale("refresh parent", parent, err)
		return
	}
	s.detector.ObserveMutation()
}

// syncSubtree inserts every descendant of a freshly copied directory.
func (s *Service) syncSubtree(canonical string) {
	nodes, err := s.scanner.ScanSubtree(canonical)
	if err != nil {
		s.flagStale("scan subtree", canonical, err)
		return
	}
	for _, n := range nodes {
		if n.Path == canonical {
			continue
		}
		if err := s.idx.Insert(n); err != nil && !errors.Is(err, apperr.ErrConflict) {
			s.flagStale("insert", n.Path, err)
			return
		}
	}
}

func (s *Service) flagStale(op, path string, err error) {
	s.logger.Warn("index mutation failed, flagging stale",
		slog.String("op", op),
		slog.String("path", path),
		slog.String("error", err.Error()))
	s.detector.MarkStale()
}
