package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mjelva/kbase/internal/apperr"
	"github.com/mjelva/kbase/internal/vaultpath"
)

func newTestFS(t *testing.T) (string, *FS) {
	t.Helper()
	dir := t.TempDir()
	resolver, err := vaultpath.NewResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	f, err := NewFS(resolver)
	if err != nil {
		t.Fatal(err)
	}
	return dir, f
}

func TestWriteReadRoundTrip(t *testing.T) {
	_, f := newTestFS(t)

	if err := f.Write("/notes/a.md", []byte("# hello")); err != nil {
		t.Fatal(err)
	}
	data, err := f.Read("/notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# hello" {
		t.Errorf("content = %q", data)
	}

	info, err := f.Stat("/notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if info.IsDir || info.Size != int64(len("# hello")) || info.Name != "a.md" {
		t.Errorf("info = %+v", info)
	}
}

func TestWriteOverwrites(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := f.Write("/a.md", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	data, _ := f.Read("/a.md")
	if string(data) != "v2" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".kbase-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadMissing(t *testing.T) {
	_, f := newTestFS(t)
	if _, err := f.Read("/missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("read missing: %v, want ErrNotFound", err)
	}
	if _, err := f.Stat("/missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stat missing: %v, want ErrNotFound", err)
	}
}

func TestTraversalRejectedEverywhere(t *testing.T) {
	_, f := newTestFS(t)
	bad := "../escape.md"

	checks := map[string]error{
		"stat":  func() error { _, err := f.Stat(bad); return err }(),
		"read":  func() error { _, err := f.Read(bad); return err }(),
		"write": f.Write(bad, []byte("x")),
		"mkdir": f.Mkdir(bad),
		"rm":    f.Remove(bad, false),
		"move":  f.Move(bad, "/ok.md"),
		"copy":  f.Copy(bad, "/ok.md"),
	}
	for op, err := range checks {
		if !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("%s: %v, want ErrInvalidPath", op, err)
		}
	}
}

func TestMkdir(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Mkdir("/a/b/c"); err != nil {
		t.Fatal(err)
	}
	info, err := f.Stat("/a/b/c")
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir {
		t.Error("created entry is not a directory")
	}
	if err := f.Mkdir("/a/b/c"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("re-mkdir: %v, want ErrConflict", err)
	}
}

func TestRemove(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/dir/a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := f.Remove("/dir", false); !errors.Is(err, apperr.ErrNotEmpty) {
		t.Errorf("remove non-empty: %v, want ErrNotEmpty", err)
	}
	if err := f.Remove("/dir/a.md", false); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove("/dir", false); err != nil {
		t.Fatalf("remove now-empty dir: %v", err)
	}
	if err := f.Remove("/dir", false); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("remove missing: %v, want ErrNotFound", err)
	}
}

func TestRemoveRecursive(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/dir/sub/a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove("/dir", true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Stat("/dir"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("recursive remove left the directory")
	}
}

func TestMove(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("content")); err != nil {
		t.Fatal(err)
	}

	if err := f.Move("/a.md", "/archive/a.md"); err != nil {
		t.Fatal(err)
	}
	data, err := f.Read("/archive/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Errorf("content = %q", data)
	}
	if _, err := f.Stat("/a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("source still exists after move")
	}
}

func TestMoveErrors(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Write("/b.md", []byte("y")); err != nil {
		t.Fatal(err)
	}
	if err := f.Mkdir("/dir"); err != nil {
		t.Fatal(err)
	}

	if err := f.Move("/a.md", "/b.md"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("move onto existing: %v, want ErrConflict", err)
	}
	if err := f.Move("/missing.md", "/dst.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("move missing: %v, want ErrNotFound", err)
	}
	if err := f.Move("/dir", "/dir/inside"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("move into own subtree: %v, want ErrConflict", err)
	}
}

func TestCopyFile(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("original")); err != nil {
		t.Fatal(err)
	}

	if err := f.Copy("/a.md", "/copy.md"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/a.md", "/copy.md"} {
		data, err := f.Read(p)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "original" {
			t.Errorf("%s content = %q", p, data)
		}
	}
}

func TestCopyDir(t *testing.T) {
	dir, f := newTestFS(t)
	if err := f.Write("/src/a.md", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := f.Write("/src/sub/b.md", []byte("b")); err != nil {
		t.Fatal(err)
	}
	// Symlinks are skipped, not followed.
	if err := os.Symlink(filepath.Join(dir, "src", "a.md"), filepath.Join(dir, "src", "link.md")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := f.Copy("/src", "/dst"); err != nil {
		t.Fatal(err)
	}
	for p, want := range map[string]string{"/dst/a.md": "a", "/dst/sub/b.md": "b"} {
		data, err := f.Read(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != want {
			t.Errorf("%s content = %q", p, data)
		}
	}
	if _, err := f.Stat("/dst/link.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("symlink was copied")
	}
}

func TestCopyErrors(t *testing.T) {
	_, f := newTestFS(t)
	if err := f.Write("/a.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Mkdir("/dir"); err != nil {
		t.Fatal(err)
	}

	if err := f.Copy("/missing.md", "/dst.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("copy missing: %v, want ErrNotFound", err)
	}
	if err := f.Copy("/a.md", "/dir"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("copy onto existing: %v, want ErrConflict", err)
	}
	if err := f.Copy("/dir", "/dir/inside"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("copy into own subtree: %v, want ErrConflict", err)
	}
}
