package vault

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// FS implements Provider backed by the local file system.
type FS struct {
	resolver *vaultpath.Resolver
}

// NewFS creates a new FS provider over the given resolver's root.
// The root directory must already exist.
func NewFS(resolver *vaultpath.Resolver) (*FS, error) {
	info, err := os.Stat(resolver.RootDir())
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", resolver.RootDir())
	}
	return &FS{resolver: resolver}, nil
}

// Stat returns metadata for the entry at path.
func (f *FS) Stat(path string) (EntryInfo, error) {
	abs, err := f.resolver.Abs(path)
	if err != nil {
		return EntryInfo{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return EntryInfo{}, fmt.Errorf("vault: stat %s: %w", path, apperr.ErrNotFound)
		}
		return EntryInfo{}, fmt.Errorf("vault: stat %s: %w", path, err)
	}
	return entryInfo(info), nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolver.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: read %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file, fsync, rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolver.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kbase-tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("vault: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	success = true
	return nil
}

// Mkdir creates a directory (and missing parents) at path.
func (f *FS) Mkdir(path string) error {
	abs, err := f.resolver.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("vault: mkdir %s: %w", path, apperr.ErrConflict)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", path, err)
	}
	return nil
}

// Remove deletes the entry at path. Deleting a non-empty directory without
// recursive fails with ErrNotEmpty.
func (f *FS) Remove(path string, recursive bool) error {
	abs, err := f.resolver.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("vault: remove %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("vault: remove %s: %w", path, err)
	}
	if info.IsDir() {
		if recursive {
			if err := os.RemoveAll(abs); err != nil {
				return fmt.Errorf("vault: remove %s: %w", path, err)
			}
			return nil
		}
		entries, readErr := os.ReadDir(abs)
		if readErr != nil {
			return fmt.Errorf("vault: remove %s: %w", path, readErr)
		}
		if len(entries) > 0 {
			return fmt.Errorf("vault: remove %s: %w", path, apperr.ErrNotEmpty)
		}
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("vault: remove %s: %w", path, err)
	}
	return nil
}

// Move renames an entry within the vault, creating the destination parent.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, absNew, err := f.resolvePair(oldPath, newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("vault: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("vault: move %s: %w", oldPath, apperr.ErrNotFound)
		}
		return fmt.Errorf("vault: move: %w", err)
	}
	return nil
}

// Copy duplicates src at dst. Directories are copied recursively, symlinks
// are not followed.
func (f *FS) Copy(src, dst string) error {
	absSrc, absDst, err := f.resolvePair(src, dst)
	if err != nil {
		return err
	}
	info, err := os.Stat(absSrc)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("vault: copy %s: %w", src, apperr.ErrNotFound)
		}
		return fmt.Errorf("vault: copy %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return fmt.Errorf("vault: mkdir for copy: %w", err)
	}
	if info.IsDir() {
		return copyDir(absSrc, absDst)
	}
	return copyFile(absSrc, absDst, info.Mode())
}

// resolvePair validates a source/destination pair, refusing a destination
// that already exists or sits inside the source.
func (f *FS) resolvePair(src, dst string) (string, string, error) {
	absSrc, err := f.resolver.Abs(src)
	if err != nil {
		return "", "", err
	}
	absDst, err := f.resolver.Abs(dst)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(absDst); err == nil {
		return "", "", fmt.Errorf("vault: destination %s: %w", dst, apperr.ErrConflict)
	}
	cSrc, _ := vaultpath.Clean(src)
	cDst, _ := vaultpath.Clean(dst)
	if vaultpath.IsAncestor(cSrc, cDst) {
		return "", "", fmt.Errorf("vault: destination inside source: %w", apperr.ErrConflict)
	}
	return absSrc, absDst, nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, p)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil // skip symlinks and specials
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		return copyFile(p, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("vault: copy open: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("vault: copy create: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("vault: copy: %w", err)
	}
	return out.Close()
}

func entryInfo(info os.FileInfo) EntryInfo {
	e := EntryInfo{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
	if !info.IsDir() {
		e.Size = info.Size()
	}
	return e
}
