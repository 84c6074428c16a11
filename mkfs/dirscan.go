package mkfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"git.fractalqb.de/fractalqb/mkplan/chash"
)

// Scanner finds the sources of a file set. The main and test partitions are
// each sorted by canonical path.
type Scanner interface {
	Key() string
	Scan(ctx context.Context) (main, test []Source, err error)
}

// DirScan scans root directories recursively for files matching any of the
// Include patterns and none of the Exclude patterns. Without Include patterns
// "**/*.Ext" is used, or all files if Ext is empty. Sources of roots tagged
// [TestOnly] go into the test partition. Roots that do not exist are skipped.
type DirScan struct {
	Roots   []Root
	Include []string
	Exclude []string
	Ext     string
}

var _ Scanner = DirScan{}

// Key identifies the scan configuration, not the scanned files.
func (d DirScan) Key() string {
	w := chash.NewWriter()
	w.Count(len(d.Roots))
	for _, r := range d.Roots {
		w.String(r.Dir)
		w.String(strconv.FormatUint(uint64(r.Tags), 10))
	}
	w.Count(len(d.Include))
	for _, p := range d.Include {
		w.String(p)
	}
	w.Count(len(d.Exclude))
	for _, p := range d.Exclude {
		w.String(p)
	}
	w.String(d.Ext)
	return w.Sum().String()
}

func (d DirScan) includes() []string {
	switch {
	case len(d.Include) > 0:
		return d.Include
	case d.Ext == "":
		return []string{"**"}
	case d.Ext[0] == '.':
		return []string{"**/*" + d.Ext}
	}
	return []string{"**/*." + d.Ext}
}

func (d DirScan) Filter() Filter {
	f := All{IsDir(false), globs(d.includes())}
	if len(d.Exclude) > 0 {
		f = append(f, Not(globs(d.Exclude)))
	}
	return f
}

func (d DirScan) Scan(ctx context.Context) (main, test []Source, err error) {
	if err := CheckGlobs(append(d.includes(), d.Exclude...)...); err != nil {
		return nil, nil, err
	}
	filter := d.Filter()
	seen := make(map[string]bool)
	for _, root := range d.Roots {
		err := d.ls(ctx, root.Dir, filter, func(rel string) error {
			src, err := NewSource(root, rel)
			if err != nil {
				return err
			}
			if seen[src.Path] {
				return nil
			}
			seen[src.Path] = true
			if root.Tags.Has(TestOnly) {
				test = append(test, src)
			} else {
				main = append(main, src)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	slices.SortFunc(main, CompareSources)
	slices.SortFunc(test, CompareSources)
	return main, test, nil
}

func (d DirScan) ls(ctx context.Context, root string, f Filter, do func(string) error) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ok, err := f.Ok(rel, e); err != nil {
			return err
		} else if ok {
			return do(rel)
		}
		return nil
	})
}
