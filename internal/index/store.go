// Package index maintains an in-memory mirror of the vault directory tree.
// It is populated by a full scan at startup and kept current through
// incremental mutations, so routine file operations never pay for a rescan.
package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// Store holds the materialized vault tree keyed by canonical path.
//
// Concurrency model: a single readers-writer lock scoped to the whole tree.
// Move and rebuild touch many nodes atomically, so per-node locking cannot
// work here. Rebuild assembles the replacement tree off to the side and only
// takes the write lock for the final swap.
//
// Paths are stored in lexicographic order, which makes every subtree the
// contiguous key range with prefix "path/". All recursive operations are
// range scans over that order; nothing chases parent/child pointers.
type Store struct {
	mu     sync.RWMutex
	nodes  *btree.Map[string, Node]
	maxMod int64
}

// NewStore creates an empty index containing only the root directory.
func NewStore() *Store {
	return &Store{nodes: seedRoot(nil)}
}

func rootNode() Node {
	return Node{
		Path: vaultpath.Root,
		Name: vaultpath.Root,
		Kind: KindDirectory,
	}
}

// seedRoot builds a fresh map from nodes, guaranteeing the root entry and a
// directory entry for every referenced parent.
func seedRoot(nodes []Node) *btree.Map[string, Node] {
	m := btree.NewMap[string, Node](0)
	m.Set(vaultpath.Root, rootNode())
	for _, n := range nodes {
		if n.Path == vaultpath.Root {
			n.Kind = KindDirectory
			n.Name = vaultpath.Root
			n.ParentPath = ""
		}
		m.Set(n.Path, n)
	}
	// Backfill ancestor directories for any orphaned entry. A correct
	// scanner output never needs this, but a partial node set must still
	// produce a structurally consistent tree.
	for _, n := range nodes {
		p := n.ParentPath
		for p != "" && p != vaultpath.Root {
			if _, ok := m.Get(p); ok {
				break
			}
			parent, _ := vaultpath.Parent(p)
			m.Set(p, Node{
				Path:       p,
				Name:       vaultpath.Name(p),
				ParentPath: parent,
				Kind:       KindDirectory,
			})
			p = parent
		}
	}
	return m
}

// Rebuild atomically replaces the entire index content with the given node
// set and returns the resulting node count. Concurrent readers see either
// the old-complete or new-complete tree, never a partial one: the new map
// is built without the lock and swapped in under it.
func (s *Store) Rebuild(nodes []Node) int {
	fresh := seedRoot(nodes)
	var maxMod int64
	fresh.Scan(func(_ string, n Node) bool {
		if n.ModifiedAt > maxMod {
			maxMod = n.ModifiedAt
		}
		return true
	})

	s.mu.Lock()
	s.nodes = fresh
	s.maxMod = maxMod
	s.mu.Unlock()
	return fresh.Len()
}

// Get returns the node at the given canonical path.
func (s *Store) Get(path string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes.Get(path)
	if !ok {
		return Node{}, fmt.Errorf("index: get %s: %w", path, apperr.ErrNotFound)
	}
	return n, nil
}

// Subtree returns the tree rooted at path. maxDepth limits descent:
// 0 returns the node itself with no children, negative means unlimited.
func (s *Store) Subtree(path string, maxDepth int) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.nodes.Get(path)
	if !ok {
		return nil, fmt.Errorf("index: subtree %s: %w", path, apperr.ErrNotFound)
	}
	out := &Tree{Node: root}
	if !root.IsDir() || maxDepth == 0 {
		return out, nil
	}

	prefix := path + "/"
	if path == vaultpath.Root {
		prefix = vaultpath.Root
	}
	rootDepth := strings.Count(prefix, "/")

	// Keys are sorted, so a parent always precedes its descendants and a
	// single ascending pass can attach each node to an already-built parent.
	byPath := map[string]*Tree{path: out}
	s.nodes.Ascend(prefix, func(k string, n Node) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		depth := strings.Count(k, "/") - rootDepth + 1
		if maxDepth >= 0 && depth > maxDepth {
			return true
		}
		t := &Tree{Node: n}
		if parent, ok := byPath[n.ParentPath]; ok {
			parent.Children = append(parent.Children, t)
			byPath[k] = t
		}
		return true
	})
	return out, nil
}

// Insert adds a new leaf node. The path must not exist yet and the parent
// must already be an indexed directory.
func (s *Store) Insert(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes.Get(n.Path); ok {
		return fmt.Errorf("index: insert %s: %w", n.Path, apperr.ErrConflict)
	}
	parent, ok := s.nodes.Get(n.ParentPath)
	if !ok {
		return fmt.Errorf("index: insert %s: parent %s: %w", n.Path, n.ParentPath, apperr.ErrNotFound)
	}
	if !parent.IsDir() {
		return fmt.Errorf("index: insert %s: parent %s is a file: %w", n.Path, n.ParentPath, apperr.ErrConflict)
	}
	s.nodes.Set(n.Path, n)
	s.bumpMod(n.ModifiedAt)
	return nil
}

// UpdateMeta refreshes size and modification time in place.
func (s *Store) UpdateMeta(path string, size, modifiedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes.Get(path)
	if !ok {
		return fmt.Errorf("index: update %s: %w", path, apperr.ErrNotFound)
	}
	n.Size = size
	n.ModifiedAt = modifiedAt
	s.nodes.Set(path, n)
	s.bumpMod(modifiedAt)
	return nil
}

// Remove deletes a node. A non-empty directory requires recursive=true,
// which removes the whole subtree.
func (s *Store) Remove(path string, recursive bool) error {
	if path == vaultpath.Root {
		return fmt.Errorf("index: remove root: %w", apperr.ErrInvalidPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes.Get(path)
	if !ok {
		return fmt.Errorf("index: remove %s: %w", path, apperr.ErrNotFound)
	}
	if n.IsDir() {
		keys := s.subtreeKeys(path)
		if len(keys) > 0 && !recursive {
			return fmt.Errorf("index: remove %s: %w", path, apperr.ErrNotEmpty)
		}
		for _, k := range keys {
			s.nodes.Delete(k)
		}
	}
	s.nodes.Delete(path)
	return nil
}

// Move relocates a node and, for a directory, its entire subtree, rewriting
// the path and parent of every affected node.
func (s *Store) Move(oldPath, newPath string) error {
	if oldPath == vaultpath.Root || newPath == vaultpath.Root {
		return fmt.Errorf("index: move root: %w", apperr.ErrInvalidPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes.Get(oldPath); !ok {
		return fmt.Errorf("index: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	if _, ok := s.nodes.Get(newPath); ok {
		return fmt.Errorf("index: move to %s: %w", newPath, apperr.ErrConflict)
	}
	if vaultpath.IsAncestor(oldPath, newPath) {
		return fmt.Errorf("index: move %s into itself: %w", oldPath, apperr.ErrConflict)
	}
	newParent, _ := vaultpath.Parent(newPath)
	parent, ok := s.nodes.Get(newParent)
	if !ok {
		return fmt.Errorf("index: move to %s: parent %s: %w", newPath, newParent, apperr.ErrNotFound)
	}
	if !parent.IsDir() {
		return fmt.Errorf("index: move to %s: parent %s is a file: %w", newPath, newParent, apperr.ErrConflict)
	}

	keys := append([]string{oldPath}, s.subtreeKeys(oldPath)...)
	moved := make([]Node, 0, len(keys))
	for _, k := range keys {
		node, _ := s.nodes.Get(k)
		s.nodes.Delete(k)
		node.Path = newPath + strings.TrimPrefix(k, oldPath)
		node.Name = vaultpath.Name(node.Path)
		node.ParentPath, _ = vaultpath.Parent(node.Path)
		moved = append(moved, node)
	}
	for _, node := range moved {
		s.nodes.Set(node.Path, node)
	}
	return nil
}

// Summary returns the incrementally-maintained aggregate state used for
// staleness detection. It never traverses the tree.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{Count: s.nodes.Len(), MaxModifiedAt: s.maxMod}
}

// Walk iterates every node in path order until fn returns false. The lock
// is held for the duration; fn must not call back into the store.
func (s *Store) Walk(fn func(Node) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.nodes.Scan(func(_ string, n Node) bool {
		return fn(n)
	})
}

// subtreeKeys collects every key strictly below path. Caller holds the lock.
func (s *Store) subtreeKeys(path string) []string {
	prefix := path + "/"
	var keys []string
	s.nodes.Ascend(prefix, func(k string, _ Node) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		keys = append(keys, k)
		return true
	})
	return keys
}

// bumpMod keeps the running modification-time maximum. Deletes do not lower
// it; the staleness probe catches those through count and signature changes.
func (s *Store) bumpMod(t int64) {
	if t > s.maxMod {
		s.maxMod = t
	}
}
