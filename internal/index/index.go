package index

// TreeIndex defines the operations the façade and the change-event bridge
// need from the index. Consumers should depend on this interface rather
// than the concrete *Store to facilitate testing with fakes.
type TreeIndex interface {
	Rebuild(nodes []Node) int
	Get(path string) (Node, error)
	Subtree(path string, maxDepth int) (*Tree, error)
	Insert(n Node) error
	UpdateMeta(path string, size, modifiedAt int64) error
	Remove(path string, recursive bool) error
	Move(oldPath, newPath string) error
	Summary() Summary
	Walk(fn func(Node) bool)
}

// Verify *Store satisfies TreeIndex at compile time.
var _ TreeIndex = (*Store)(nil)
