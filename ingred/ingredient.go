// Package ingred implements ingredients, the content-addressed handles over
// the inputs and derived values of build steps. Each ingredient has a
// structural [PlanKey] and a lazily computed hash that may be absent when the
// underlying value is not (yet) available. Ingredients are deduplicated by key
// in a [Pool] so that equal inputs share one instance.
//
// The set of ingredient variants is closed: [File], [FileSet],
// [StringValue], [PathValue], [URIValue], [OptionsSnapshot],
// [PersistedObject] and [Bundle].
package ingred

import (
	"fmt"
	"strconv"
	"strings"

	"git.fractalqb.de/fractalqb/mkplan/chash"
)

type Kind int

const (
	KindFile Kind = iota + 1
	KindFileSet
	KindString
	KindPath
	KindURI
	KindOptions
	KindPersisted
	KindBundle
)

var kindNames = [...]string{
	KindFile:      "file",
	KindFileSet:   "fileset",
	KindString:    "str",
	KindPath:      "path",
	KindURI:       "uri",
	KindOptions:   "opt",
	KindPersisted: "persisted",
	KindBundle:    "bundle",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind" + strconv.Itoa(int(k))
}

type Ingredient interface {
	Key() PlanKey
	Kind() Kind
	// Hash returns false if the hash is not known, e.g. because a file does
	// not exist. This is not an error.
	Hash() (chash.Hash, bool, error)

	sealed()
}

// HashOf returns the hash of ing.
func HashOf(ing Ingredient) (chash.Hash, bool, error) {
	if ing == nil {
		return chash.Zero, false, nil
	}
	switch ing.Kind() {
	case KindFile, KindFileSet, KindString, KindPath, KindURI,
		KindOptions, KindPersisted, KindBundle:
		return ing.Hash()
	}
	return chash.Zero, false, fmt.Errorf("unknown ingredient kind %s of %s", ing.Kind(), ing.Key())
}

// PlanKey is the structural identity of an ingredient or a build step. It
// starts with the kind followed by a colon.
type PlanKey string

// MakeKey creates the key kind:p1;p2;… Parts that contain a separator are
// quoted.
func MakeKey(kind string, parts ...string) PlanKey {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte(':')
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte(';')
		}
		if strings.ContainsAny(p, ";\"") {
			sb.WriteString(strconv.Quote(p))
		} else {
			sb.WriteString(p)
		}
	}
	return PlanKey(sb.String())
}

// Kind returns the kind prefix of k.
func (k PlanKey) Kind() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

func (k PlanKey) String() string { return string(k) }

type ingredientBase struct {
	key PlanKey
}

func (b *ingredientBase) Key() PlanKey { return b.key }

func (*ingredientBase) sealed() {}
