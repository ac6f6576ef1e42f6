package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// Op identifies a filesystem change.
type Op string

// Filesystem change operations.
const (
	OpCreated  Op = "created"
	OpModified Op = "modified"
	OpDeleted  Op = "deleted"
	OpRenamed  Op = "renamed"
)

// Event is one debounced filesystem change. OldPath is set only for renames.
type Event struct {
	Op      Op
	Path    string
	OldPath string
}

// Notifier receives a downstream change notification after a successful
// index mutation. Delivery is best-effort; clients can always re-query.
type Notifier func(op Op, path, oldPath string)

// Bridge applies filesystem change events to the index through the same
// mutation entry points direct API calls use, then notifies subscribers.
// Application is idempotent: the filesystem is definitionally ahead of a
// lagging index, so a delete of an absent path is a silent no-op and a
// create of a present path degrades to a metadata update.
type Bridge struct {
	idx     TreeIndex
	scanner *Scanner
	logger  *slog.Logger
	notify  Notifier
}

// NewBridge creates a Bridge. notify may be nil.
func NewBridge(idx TreeIndex, scanner *Scanner, logger *slog.Logger, notify Notifier) *Bridge {
	return &Bridge{idx: idx, scanner: scanner, logger: logger, notify: notify}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (b *Bridge) Run(ctx context.Context, events <-chan Event) {
	b.logger.Info("bridge: started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge: stopped")
			return
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("bridge: event stream closed")
				return
			}
			b.Apply(ev)
		}
	}
}

// Apply processes a single event. Errors are logged, never returned: a
// failed application flags nothing fatal, the staleness detector recovers
// any resulting drift.
func (b *Bridge) Apply(ev Event) {
	path, err := vaultpath.Clean(ev.Path)
	if err != nil {
		b.logger.Warn("bridge: bad event path", slog.String("path", ev.Path))
		return
	}

	switch ev.Op {
	case OpCreated, OpModified:
		if err := b.applyUpsert(path); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				// Vanished between the event and the probe. The delete
				// event is on its way; drop the old entry now.
				_ = b.idx.Remove(path, true)
				return
			}
			b.logger.Warn("bridge: upsert failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return
		}
		b.refreshParent(path)
		b.emit(ev.Op, path, "")

	case OpDeleted:
		if err := b.idx.Remove(path, true); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return // already gone, no-op
			}
			b.logger.Warn("bridge: remove failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return
		}
		b.refreshParent(path)
		b.emit(OpDeleted, path, "")

	case OpRenamed:
		oldPath, err := vaultpath.Clean(ev.OldPath)
		if err != nil {
			b.logger.Warn("bridge: bad event path", slog.String("path", ev.OldPath))
			return
		}
		if err := b.idx.Move(oldPath, path); err != nil {
			// Out-of-order delivery or partial prior application: fall
			// back to re-probing both ends instead of failing hard.
			b.logger.Debug("bridge: move fell back to reprobe",
				slog.String("old", oldPath),
				slog.String("new", path),
				slog.String("error", err.Error()))
			b.reprobe(oldPath)
			b.reprobe(path)
		}
		b.refreshParent(oldPath)
		b.refreshParent(path)
		b.emit(OpRenamed, path, oldPath)
	}
}

// refreshParent re-probes the containing directory's metadata. Entry churn
// bumps the parent's mtime on disk; the index has to track that or the
// staleness probe's mtime maximum drifts ahead of it.
func (b *Bridge) refreshParent(path string) {
	parent, ok := vaultpath.Parent(path)
	if !ok {
		return
	}
	if _, err := EnsureIndexed(b.idx, b.scanner, parent); err != nil {
		b.logger.Debug("bridge: parent refresh failed",
			slog.String("path", parent),
			slog.String("error", err.Error()))
	}
}

// applyUpsert probes path on disk and makes the index reflect it.
func (b *Bridge) applyUpsert(path string) error {
	_, err := EnsureIndexed(b.idx, b.scanner, path)
	if err != nil {
		return err
	}
	// A freshly created directory may already contain entries (moved in
	// wholesale, or events raced); index its contents too.
	if n, getErr := b.idx.Get(path); getErr == nil && n.IsDir() {
		nodes, scanErr := b.scanner.ScanSubtree(path)
		if scanErr != nil {
			return scanErr
		}
		for _, child := range nodes {
			if child.Path == path {
				continue
			}
			if insErr := b.idx.Insert(child); insErr != nil && !errors.Is(insErr, apperr.ErrConflict) {
				return insErr
			}
		}
	}
	return nil
}

// reprobe reconciles a single path against the disk: indexed if present,
// removed if gone.
func (b *Bridge) reprobe(path string) {
	if _, err := b.scanner.ProbeEntry(path); err != nil {
		_ = b.idx.Remove(path, true)
		return
	}
	if err := b.applyUpsert(path); err != nil {
		b.logger.Warn("bridge: reprobe failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func (b *Bridge) emit(op Op, path, oldPath string) {
	if b.notify != nil {
		b.notify(op, path, oldPath)
	}
}

// EnsureIndexed probes the entry at canonical path and makes the index
// contain it: inserting missing ancestor directories top-down, degrading an
// insert conflict to a metadata update. Shared by the bridge and the CRUD
// service so there is a single mutation code path.
func EnsureIndexed(idx TreeIndex, sc *Scanner, canonical string) (Node, error) {
	n, err := sc.ProbeEntry(canonical)
	if err != nil {
		return Node{}, err
	}

	// Walk up to the nearest indexed ancestor, then insert downward.
	missing := []Node{n}
	parent := n.ParentPath
	for parent != "" {
		if _, err := idx.Get(parent); err == nil {
			break
		}
		pn, probeErr := sc.ProbeEntry(parent)
		if probeErr != nil {
			return Node{}, fmt.Errorf("index: ensure %s: ancestor %s: %w", canonical, parent, probeErr)
		}
		missing = append(missing, pn)
		parent = pn.ParentPath
	}
	for i := len(missing) - 1; i >= 0; i-- {
		m := missing[i]
		if err := idx.Insert(m); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				if updErr := idx.UpdateMeta(m.Path, m.Size, m.ModifiedAt); updErr != nil {
					return Node{}, updErr
				}
				continue
			}
			return Node{}, err
		}
	}
	return n, nil
}
