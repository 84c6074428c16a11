package ingred

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// ByteStore is a durable store for opaque snapshots keyed by a stable logical
// location.
type ByteStore interface {
	// Read returns false if nothing is stored at loc.
	Read(loc string) ([]byte, bool, error)
	// Write must be durable before it returns.
	Write(loc string, data []byte) error
}

// PersistedObject is a value that is explicitly read from and written to a
// [ByteStore]. Its hash reflects the in-memory value only. Without a value
// the hash is absent.
type PersistedObject[T any] struct {
	ingredientBase
	store ByteStore
	loc   string

	mu  sync.Mutex
	val T
	set bool
}

func Persisted[T any](p *Pool, store ByteStore, loc string) (*PersistedObject[T], error) {
	key := MakeKey(KindPersisted.String(), loc)
	return Pooled(p, key, func() *PersistedObject[T] {
		return &PersistedObject[T]{
			ingredientBase: ingredientBase{key},
			store:          store,
			loc:            loc,
		}
	})
}

func (*PersistedObject[T]) Kind() Kind { return KindPersisted }

func (o *PersistedObject[T]) Location() string { return o.loc }

func (o *PersistedObject[T]) Get() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.val, o.set
}

func (o *PersistedObject[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.val, o.set = v, true
}

// Read loads the stored value. It returns false, and keeps the in-memory
// value, if nothing is stored. Content after the stored value is an error.
func (o *PersistedObject[T]) Read() (bool, error) {
	data, ok, err := o.store.Read(o.loc)
	if err != nil {
		return false, mkerr.Wrap(mkerr.IO, err, "read %s", o.key)
	}
	if !ok {
		return false, nil
	}
	var v T
	if err := DecodeStrict(data, &v); err != nil {
		return false, mkerr.Wrap(mkerr.IO, err, "decode %s", o.key)
	}
	o.Set(v)
	return true, nil
}

func (o *PersistedObject[T]) Write() error {
	v, ok := o.Get()
	if !ok {
		return mkerr.New(mkerr.Invariant, "write %s without value", o.key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return mkerr.Wrap(mkerr.Invariant, err, "encode %s", o.key)
	}
	if err := o.store.Write(o.loc, data); err != nil {
		return mkerr.Wrap(mkerr.IO, err, "write %s", o.key)
	}
	return nil
}

func (o *PersistedObject[T]) Hash() (chash.Hash, bool, error) {
	v, ok := o.Get()
	if !ok {
		return chash.Zero, false, nil
	}
	h, err := chash.Serializable(v)
	if err != nil {
		return chash.Zero, false, mkerr.Wrap(mkerr.Invariant, err, "hash %s", o.key)
	}
	return h, true, nil
}

// DecodeStrict decodes exactly one JSON value from data into v.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errExtraneous
	}
	return nil
}

var errExtraneous = errors.New("extraneous content after stored value")
