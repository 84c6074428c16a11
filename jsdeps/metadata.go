package jsdeps

import (
	"context"
	"maps"
	"os"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
)

// Entry is the dep-info of a source and the hash of the content it was
// extracted from.
type Entry struct {
	Source mkfs.Source `json:"source"`
	Hash   chash.Hash  `json:"hash"`
	Info   DepInfo     `json:"info"`
}

// Infos maps canonical source paths to their entries.
type Infos map[string]Entry

// Paths returns the sorted source paths.
func (is Infos) Paths() []string { return slices.Sorted(maps.Keys(is)) }

// UpdateFromSources returns the entries for srcs. The entry of prior is
// reused for every source with unchanged content, all other sources are
// extracted again using up to jobs goroutines. It also returns the number of
// reused entries. All failures are reported together.
func UpdateFromSources(ctx context.Context, prior Infos, srcs []mkfs.Source, jobs int) (Infos, int, error) {
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	var (
		res    = xsync.NewMapOf[string, Entry]()
		fails  = xsync.NewMapOf[string, error]()
		reused atomic.Int32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, src := range srcs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return mkerr.Wrap(mkerr.ProcessExecution, err, "dep-info of %s", src)
			}
			content, err := os.ReadFile(src.Path)
			if err != nil {
				fails.Store(src.Path, mkerr.Wrap(mkerr.IO, err, "dep-info of %s", src.Rel))
				return nil
			}
			h := chash.Of(content)
			if old, ok := prior[src.Path]; ok && old.Hash == h && old.Source == src {
				res.Store(src.Path, old)
				reused.Add(1)
				return nil
			}
			info, err := Extract(src.Rel, content)
			if err != nil {
				fails.Store(src.Path, err)
				return nil
			}
			res.Store(src.Path, Entry{Source: src, Hash: h, Info: info})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if fails.Size() > 0 {
		var errs *mkerr.MultiError
		fails.Range(func(_ string, err error) bool {
			errs = errs.Append(err)
			return true
		})
		errs.Sort()
		return nil, 0, errs
	}
	infos := make(Infos, res.Size())
	res.Range(func(p string, e Entry) bool {
		infos[p] = e
		return true
	})
	return infos, int(reused.Load()), nil
}
