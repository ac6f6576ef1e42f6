// Package vault defines the vault file-system abstraction.
package vault

import "time"

// EntryInfo is lightweight metadata about one vault entry.
type EntryInfo struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Provider is the interface for vault file and directory operations.
// All paths are canonical vault paths (leading slash, forward slashes);
// implementations validate them against the vault root before any access.
type Provider interface {
	// Stat returns metadata for the entry at path.
	Stat(path string) (EntryInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Mkdir creates a directory (and missing parents) at path.
	Mkdir(path string) error
	// Remove deletes the entry at path. A non-empty directory requires
	// recursive=true.
	Remove(path string, recursive bool) error
	// Move renames oldPath to newPath, creating the destination parent.
	Move(oldPath, newPath string) error
	// Copy duplicates the entry at src to dst; directories recursively.
	Copy(src, dst string) error
}
