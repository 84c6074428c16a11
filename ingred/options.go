package ingred

import (
	"github.com/huandu/go-clone"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// Identified configuration values have a stable identity used to namespace
// the keys derived from them.
type Identified interface {
	OptionsKind() string
	OptionsID() string
}

// OptionsSnapshot holds a deep copy of a configuration value. Reading the
// value returns another copy so the pooled snapshot cannot be modified.
type OptionsSnapshot[T Identified] struct {
	ingredientBase
	value T
	hash  chash.Hash
}

func (*OptionsSnapshot[T]) Kind() Kind { return KindOptions }

func (o *OptionsSnapshot[T]) Value() T { return clone.Clone(o.value).(T) }

func (o *OptionsSnapshot[T]) ID() string { return o.value.OptionsID() }

func (o *OptionsSnapshot[T]) Hash() (chash.Hash, bool, error) {
	return o.hash, true, nil
}

// Options returns the pooled snapshot of v keyed by "opt:" + kind + id. The
// hash is computed from the canonical serialization of v. If a snapshot with
// the same key but a different hash is already pooled, the keys collide and an
// invariant violation is returned.
func Options[T Identified](p *Pool, v T) (*OptionsSnapshot[T], error) {
	h, err := chash.Serializable(v)
	if err != nil {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "options %s", v.OptionsID())
	}
	key := MakeKey(KindOptions.String(), v.OptionsKind(), v.OptionsID())
	res, err := Pooled(p, key, func() *OptionsSnapshot[T] {
		return &OptionsSnapshot[T]{
			ingredientBase: ingredientBase{key},
			value:          clone.Clone(v).(T),
			hash:           h,
		}
	})
	if err != nil {
		return nil, err
	}
	if res.hash != h {
		return nil, mkerr.New(mkerr.Invariant,
			"different options with same key %s", key,
		)
	}
	return res, nil
}
