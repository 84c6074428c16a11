package mkfs

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects directory entries during a scan. The path is slash separated
// and relative to the scanned root.
type Filter interface {
	Ok(path string, entry fs.DirEntry) (bool, error)
}

type FilterFunc func(string, fs.DirEntry) (bool, error)

func (ff FilterFunc) Ok(p string, e fs.DirEntry) (bool, error) {
	return ff(p, e)
}

type IsDir bool

func (d IsDir) Ok(_ string, e fs.DirEntry) (bool, error) {
	return e.IsDir() == bool(d), nil
}

// NameMatch matches the base name of an entry.
type NameMatch string

func (p NameMatch) Ok(_ string, e fs.DirEntry) (bool, error) {
	return doublestar.Match(string(p), e.Name())
}

// Glob matches the relative path with doublestar syntax, e.g. "**/*.js".
type Glob string

func (g Glob) Ok(p string, _ fs.DirEntry) (bool, error) {
	return doublestar.Match(string(g), p)
}

// CheckGlobs reports all invalid patterns at once.
func CheckGlobs(patterns ...string) error {
	var bad []string
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			bad = append(bad, "'"+p+"'")
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid glob patterns: %s", strings.Join(bad, ", "))
	}
	return nil
}

func Not(f Filter) Filter {
	return FilterFunc(func(p string, e fs.DirEntry) (bool, error) {
		ok, err := f.Ok(p, e)
		return !ok, err
	})
}

type All []Filter

func (fs All) Ok(p string, e fs.DirEntry) (bool, error) {
	for _, f := range fs {
		if ok, err := f.Ok(p, e); err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

type Any []Filter

func (fs Any) Ok(p string, e fs.DirEntry) (bool, error) {
	for _, f := range fs {
		if ok, err := f.Ok(p, e); err != nil {
			return ok, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

func globs(patterns []string) Any {
	res := make(Any, len(patterns))
	for i, p := range patterns {
		res[i] = Glob(p)
	}
	return res
}
