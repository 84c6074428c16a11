package mkfs

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Tags are properties of a source [Root] that are inherited by all sources
// found under that root.
type Tags uint

const (
	// Sources are only used for tests
	TestOnly Tags = (1 << iota)
	// Sources are only included when something requires what they provide
	LoadAsNeeded
)

func (t Tags) Has(f Tags) bool { return t&f == f }

func (t Tags) String() string {
	var parts []string
	if t.Has(TestOnly) {
		parts = append(parts, "test-only")
	}
	if t.Has(LoadAsNeeded) {
		parts = append(parts, "load-as-needed")
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Root is a canonical directory that contains sources.
type Root struct {
	Dir  string `json:"dir"`
	Tags Tags   `json:"tags,omitempty"`
}

// NewRoot canonicalizes dir. The directory need not exist.
func NewRoot(dir string, tags Tags) (Root, error) {
	cdir, err := Canonical(dir)
	if err != nil {
		return Root{}, err
	}
	return Root{Dir: cdir, Tags: tags}, nil
}

func (r Root) String() string { return r.Dir + r.Tags.String() }

// Source identifies a file by its canonical absolute path, the root it was
// found in and its slash separated path relative to that root. Sources are
// equal if they have the same canonical path.
type Source struct {
	Path string `json:"path"`
	Root Root   `json:"root"`
	Rel  string `json:"rel"`
}

// NewSource creates the source for rel inside root.
func NewSource(root Root, rel string) (Source, error) {
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return Source{}, fmt.Errorf("source path '%s' not inside root %s", rel, root.Dir)
	}
	cpath, err := Canonical(filepath.Join(root.Dir, filepath.FromSlash(rel)))
	if err != nil {
		return Source{}, err
	}
	return Source{Path: cpath, Root: root, Rel: rel}, nil
}

func (s Source) Tags() Tags { return s.Root.Tags }

func (s Source) Equal(t Source) bool { return s.Path == t.Path }

func (s Source) String() string { return s.Path }

// Ext returns the extension of the source including the dot.
func (s Source) Ext() string { return path.Ext(s.Rel) }

// Extensionless returns the relative path without extension.
func (s Source) Extensionless() string {
	return strings.TrimSuffix(s.Rel, s.Ext())
}

// CompareSources orders sources by canonical path.
func CompareSources(a, b Source) int { return strings.Compare(a.Path, b.Path) }

// Canonical returns the absolute, symlink-free form of p. If p does not exist
// the absolute, cleaned path is returned.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if res, err := filepath.EvalSymlinks(abs); err == nil {
		return res, nil
	}
	return abs, nil
}
