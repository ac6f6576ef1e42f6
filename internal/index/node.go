package index

// Kind distinguishes files from directories in the index.
type Kind string

// Node kinds.
const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Node is one file or directory entry as tracked by the index. Paths are
// canonical (vault-relative, leading slash); the root is "/". ParentPath is
// empty only for the root. Timestamps are Unix seconds; zero means the
// filesystem did not expose the value.
type Node struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	ParentPath string `json:"parent_path,omitempty"`
	Kind       Kind   `json:"type"`
	Size       int64  `json:"size,omitempty"`
	CreatedAt  int64  `json:"created,omitempty"`
	ModifiedAt int64  `json:"modified,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// Tree is a node together with its materialized children, as returned by
// subtree queries. Children carry no defined order; sorting is the caller's
// presentation concern.
type Tree struct {
	Node
	Children []*Tree `json:"children,omitempty"`
}

// Summary is the cheap aggregate the staleness detector compares against a
// filesystem probe.
type Summary struct {
	Count         int
	MaxModifiedAt int64
}
