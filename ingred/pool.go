package ingred

import (
	"net/url"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
)

// Pool is a concurrent cache of ingredients keyed by [PlanKey]. It also holds
// the registry of key kinds so that unrelated step or ingredient families
// cannot use the same kind.
type Pool struct {
	ings  *xsync.MapOf[PlanKey, Ingredient]
	kinds *xsync.MapOf[string, string]
}

func NewPool() *Pool {
	p := &Pool{
		ings:  xsync.NewMapOf[PlanKey, Ingredient](),
		kinds: xsync.NewMapOf[string, string](),
	}
	for k := KindFile; k <= KindBundle; k++ {
		p.kinds.Store(k.String(), "ingredient")
	}
	return p
}

// RegisterKind reserves kind for owner. Registering a kind twice is an
// invariant violation.
func (p *Pool) RegisterKind(kind, owner string) error {
	if kind == "" || strings.ContainsRune(kind, ':') {
		return mkerr.New(mkerr.Invariant, "illegal plan key kind '%s'", kind)
	}
	if prev, loaded := p.kinds.LoadOrStore(kind, owner); loaded {
		return mkerr.New(mkerr.Invariant,
			"plan key kind '%s' of %s already registered by %s",
			kind, owner, prev,
		)
	}
	return nil
}

// KnownKind reports whether the kind of key is registered.
func (p *Pool) KnownKind(key PlanKey) bool {
	_, ok := p.kinds.Load(key.Kind())
	return ok
}

// Get returns the pooled ingredient for key. The factory is called at most
// once per key, even with concurrent callers.
func (p *Pool) Get(key PlanKey, factory func() Ingredient) Ingredient {
	ing, _ := p.ings.LoadOrCompute(key, factory)
	return ing
}

// Lookup returns the pooled ingredient for key without creating it.
func (p *Pool) Lookup(key PlanKey) (Ingredient, bool) {
	return p.ings.Load(key)
}

func (p *Pool) Size() int { return p.ings.Size() }

// Pooled is the type-checked variant of [Pool.Get]. If the pooled ingredient
// is not a T the keys of different ingredients collide which is reported as an
// invariant violation.
func Pooled[T Ingredient](p *Pool, key PlanKey, factory func() T) (res T, err error) {
	if !p.KnownKind(key) {
		return res, mkerr.New(mkerr.Invariant, "unregistered kind of plan key %s", key)
	}
	ing := p.Get(key, func() Ingredient { return factory() })
	res, ok := ing.(T)
	if !ok {
		return res, mkerr.New(mkerr.Invariant,
			"plan key %s maps to %T, want %T",
			key, ing, res,
		)
	}
	return res, nil
}

func (p *Pool) File(path string) (*File, error) {
	cpath, err := mkfs.Canonical(path)
	if err != nil {
		return nil, mkerr.Wrap(mkerr.IO, err, "canonical path of %s", path)
	}
	key := MakeKey(KindFile.String(), cpath)
	return Pooled(p, key, func() *File {
		return &File{ingredientBase: ingredientBase{key}, path: cpath}
	})
}

// FileSet returns the unresolved or resolved file set scanned by scan.
func (p *Pool) FileSet(scan mkfs.Scanner) (*FileSet, error) {
	key := MakeKey(KindFileSet.String(), "scan", scan.Key())
	return Pooled(p, key, func() *FileSet {
		return newFileSet(key, scan)
	})
}

// NamedFiles returns a file set that can only be resolved with
// [FileSet.SetFiles].
func (p *Pool) NamedFiles(name string) (*FileSet, error) {
	key := MakeKey(KindFileSet.String(), "named", name)
	return Pooled(p, key, func() *FileSet {
		return newFileSet(key, nil)
	})
}

func (p *Pool) StringValue(s string) (*StringValue, error) {
	key := MakeKey(KindString.String(), s)
	return Pooled(p, key, func() *StringValue {
		return &StringValue{ingredientBase: ingredientBase{key}, value: s}
	})
}

func (p *Pool) PathValue(path string) (*PathValue, error) {
	cpath, err := mkfs.Canonical(path)
	if err != nil {
		return nil, mkerr.Wrap(mkerr.IO, err, "canonical path of %s", path)
	}
	key := MakeKey(KindPath.String(), cpath)
	return Pooled(p, key, func() *PathValue {
		return &PathValue{ingredientBase: ingredientBase{key}, path: cpath}
	})
}

func (p *Pool) URIValue(uri string) (*URIValue, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "ingredient uri")
	}
	text := u.String()
	key := MakeKey(KindURI.String(), text)
	return Pooled(p, key, func() *URIValue {
		return &URIValue{ingredientBase: ingredientBase{key}, uri: u}
	})
}

func (p *Pool) Bundle(members ...Ingredient) (*Bundle, error) {
	parts := make([]string, len(members))
	for i, m := range members {
		if m == nil {
			return nil, mkerr.New(mkerr.Invariant, "nil member %d in bundle", i)
		}
		parts[i] = "[" + string(m.Key()) + "]"
	}
	key := MakeKey(KindBundle.String(), strings.Join(parts, ""))
	return Pooled(p, key, func() *Bundle {
		return &Bundle{
			ingredientBase: ingredientBase{key},
			members:        append([]Ingredient(nil), members...),
		}
	})
}
