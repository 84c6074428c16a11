package ingred

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"sync/atomic"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
)

// FileSet is a set of sources split into a main and a test partition. A file
// set starts unresolved and is resolved exactly once, either by
// [FileSet.Resolve] or by [FileSet.SetFiles]. The first call claims the set;
// any further call is an invariant violation. Steps that share a set use
// [FileSet.Ensure] instead.
type FileSet struct {
	ingredientBase
	scan    mkfs.Scanner
	claimed atomic.Bool
	state   atomic.Pointer[fileSetState]
	done    chan struct{}
}

func newFileSet(key PlanKey, scan mkfs.Scanner) *FileSet {
	return &FileSet{
		ingredientBase: ingredientBase{key},
		scan:           scan,
		done:           make(chan struct{}),
	}
}

type fileSetState struct {
	main, test []mkfs.Source
	problem    error
}

// NotResolved is returned when the content of a file set is accessed before
// resolution. If the resolution failed, Problem is the cause.
type NotResolved struct {
	Key     PlanKey
	Problem error
}

func (e NotResolved) Error() string {
	if e.Problem == nil {
		return string(e.Key) + " never set"
	}
	return string(e.Key) + " never set: " + e.Problem.Error()
}

func (e NotResolved) Unwrap() error { return e.Problem }

func (NotResolved) Is(target error) bool {
	_, ok := target.(NotResolved)
	return ok
}

func (*FileSet) Kind() Kind { return KindFileSet }

// Resolve scans the file set. A scan failure is recorded as the problem of
// the set and returned.
func (f *FileSet) Resolve(ctx context.Context) error {
	if f.scan == nil {
		return mkerr.New(mkerr.Invariant, "%s has no scanner", f.key)
	}
	if err := f.claim(); err != nil {
		return err
	}
	return f.resolve(ctx)
}

// Ensure resolves the file set unless it is already claimed. Otherwise it
// waits until the claiming resolution is done and returns its problem, if
// any.
func (f *FileSet) Ensure(ctx context.Context) error {
	switch {
	case f.scan != nil && f.claimed.CompareAndSwap(false, true):
		return f.resolve(ctx)
	case !f.claimed.Load():
		return mkerr.New(mkerr.Invariant, "%s has no scanner", f.key)
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		return mkerr.Wrap(mkerr.IO, ctx.Err(), "wait for %s", f.key)
	}
	if st := f.state.Load(); st.problem != nil {
		return st.problem
	}
	return nil
}

func (f *FileSet) resolve(ctx context.Context) error {
	defer close(f.done)
	main, test, err := f.scan.Scan(ctx)
	if err != nil {
		err = mkerr.Wrap(mkerr.IO, err, "scan %s", f.key)
		f.state.Store(&fileSetState{problem: err})
		return err
	}
	f.state.Store(&fileSetState{main: main, test: test})
	return nil
}

// SetFiles resolves the file set explicitly. Both partitions are copied and
// sorted by canonical path.
func (f *FileSet) SetFiles(main, test []mkfs.Source) error {
	if err := f.claim(); err != nil {
		return err
	}
	main = slices.Clone(main)
	test = slices.Clone(test)
	slices.SortFunc(main, mkfs.CompareSources)
	slices.SortFunc(test, mkfs.CompareSources)
	f.state.Store(&fileSetState{main: main, test: test})
	close(f.done)
	return nil
}

func (f *FileSet) claim() error {
	if !f.claimed.CompareAndSwap(false, true) {
		return mkerr.New(mkerr.Invariant, "%s resolved twice", f.key)
	}
	return nil
}

// Resolved reports whether the set was successfully resolved.
func (f *FileSet) Resolved() bool {
	st := f.state.Load()
	return st != nil && st.problem == nil
}

func (f *FileSet) resolved() (*fileSetState, error) {
	st := f.state.Load()
	switch {
	case st == nil:
		return nil, NotResolved{Key: f.key}
	case st.problem != nil:
		return nil, NotResolved{Key: f.key, Problem: st.problem}
	}
	return st, nil
}

func (f *FileSet) Main() ([]mkfs.Source, error) {
	st, err := f.resolved()
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.main), nil
}

func (f *FileSet) Test() ([]mkfs.Source, error) {
	st, err := f.resolved()
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.test), nil
}

// Sources returns main followed by test sources.
func (f *FileSet) Sources() ([]mkfs.Source, error) {
	st, err := f.resolved()
	if err != nil {
		return nil, err
	}
	return slices.Concat(st.main, st.test), nil
}

// Hash is Combine(hash(main), hash(test)) where each partition hash covers
// the sorted (path, content) sequence. Before resolution the hash is absent.
func (f *FileSet) Hash() (chash.Hash, bool, error) {
	st := f.state.Load()
	switch {
	case st == nil:
		return chash.Zero, false, nil
	case st.problem != nil:
		return chash.Zero, false, NotResolved{Key: f.key, Problem: st.problem}
	}
	mh, ok, err := hashSources(st.main)
	if err != nil || !ok {
		return chash.Zero, false, err
	}
	th, ok, err := hashSources(st.test)
	if err != nil || !ok {
		return chash.Zero, false, err
	}
	return chash.Combine(mh, th), true, nil
}

func hashSources(srcs []mkfs.Source) (chash.Hash, bool, error) {
	w := chash.NewWriter()
	w.Count(len(srcs))
	for _, s := range srcs {
		h, err := chash.File(s.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return chash.Zero, false, nil
		case err != nil:
			return chash.Zero, false, mkerr.Wrap(mkerr.IO, err, "hash source")
		}
		w.String(s.Path)
		w.Hash(h)
	}
	return w.Sum(), true, nil
}
