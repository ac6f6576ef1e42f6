package vaultpath

import (
	"errors"
	"strings"
	"testing"

	"github.com/mjelva/kbase/internal/apperr"
)

func TestClean_Normalizes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a.md", "/a.md"},
		{"/a.md", "/a.md"},
		{"folder/b.md", "/folder/b.md"},
		{"folder//b.md", "/folder/b.md"},
		{"./folder/./b.md", "/folder/b.md"},
		{"folder/", "/folder"},
		{`folder\b.md`, "/folder/b.md"},
		{"a..b.md", "/a..b.md"},
		{"notes/..hidden..md", "/notes/..hidden..md"},
	}
	for _, tc := range cases {
		got, err := Clean(tc.in)
		if err != nil {
			t.Errorf("Clean(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClean_RejectsTraversal(t *testing.T) {
	cases := []string{
		"..",
		"../etc/passwd",
		"a/../../etc/passwd",
		"/a/../..",
		`..\..\windows`,
		`a\..\..\b`,
	}
	for _, in := range cases {
		got, err := Clean(in)
		if err == nil {
			t.Errorf("Clean(%q) = %q, want error", in, got)
			continue
		}
		if !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("Clean(%q): error %v, want ErrInvalidPath", in, err)
		}
	}
}

func TestClean_ResultNeverContainsDotDot(t *testing.T) {
	inputs := []string{"a", "a/b/c", "/x/y", "weird..name.md", "a/..b/c", "..a/b"}
	for _, in := range inputs {
		got, err := Clean(in)
		if err != nil {
			continue
		}
		for _, seg := range strings.Split(got, "/") {
			if seg == ".." {
				t.Errorf("Clean(%q) = %q contains a .. segment", in, got)
			}
		}
		if !strings.HasPrefix(got, "/") {
			t.Errorf("Clean(%q) = %q missing leading slash", in, got)
		}
	}
}

func TestNameAndParent(t *testing.T) {
	if Name("/") != "/" {
		t.Errorf("Name(/) = %q", Name("/"))
	}
	if Name("/folder/b.md") != "b.md" {
		t.Errorf("Name = %q, want b.md", Name("/folder/b.md"))
	}
	if _, ok := Parent("/"); ok {
		t.Error("root should have no parent")
	}
	p, ok := Parent("/folder/b.md")
	if !ok || p != "/folder" {
		t.Errorf("Parent = %q, %v", p, ok)
	}
	p, _ = Parent("/a.md")
	if p != "/" {
		t.Errorf("Parent(/a.md) = %q, want /", p)
	}
}

func TestIsAncestor(t *testing.T) {
	cases := []struct {
		ancestor, p string
		want        bool
	}{
		{"/", "/a", true},
		{"/", "/", false},
		{"/a", "/a/b", true},
		{"/a", "/a", false},
		{"/a", "/ab", false},
		{"/a/b", "/a", false},
	}
	for _, tc := range cases {
		if got := IsAncestor(tc.ancestor, tc.p); got != tc.want {
			t.Errorf("IsAncestor(%q, %q) = %v, want %v", tc.ancestor, tc.p, got, tc.want)
		}
	}
}

func TestResolver_Abs(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	abs, err := r.Abs("/folder/b.md")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if !strings.HasPrefix(abs, root) {
		t.Errorf("resolved path %q not under root %q", abs, root)
	}

	for _, in := range []string{"../outside.md", "../../etc/passwd", `..\..\x`} {
		if _, err := r.Abs(in); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("Abs(%q): error %v, want ErrInvalidPath", in, err)
		}
	}
}

func TestResolver_RelRoundTrip(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/", "/a.md", "/folder/b.md"} {
		abs, err := r.Abs(p)
		if err != nil {
			t.Fatalf("Abs(%q): %v", p, err)
		}
		back, err := r.Rel(abs)
		if err != nil {
			t.Fatalf("Rel(%q): %v", abs, err)
		}
		if back != p {
			t.Errorf("round trip %q -> %q -> %q", p, abs, back)
		}
	}
}
