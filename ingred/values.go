package ingred

import (
	"errors"
	"io/fs"
	"net/url"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// File is a single file. Its hash is the digest of the file's content or
// absent if the file does not exist.
type File struct {
	ingredientBase
	path string
}

func (*File) Kind() Kind { return KindFile }

func (f *File) Path() string { return f.path }

func (f *File) Hash() (chash.Hash, bool, error) {
	h, err := chash.File(f.path)
	switch {
	case err == nil:
		return h, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return chash.Zero, false, nil
	}
	return chash.Zero, false, mkerr.Wrap(mkerr.IO, err, "ingredient %s", f.key)
}

// StringValue hashes its text, never anything the text may refer to.
type StringValue struct {
	ingredientBase
	value string
}

func (*StringValue) Kind() Kind { return KindString }

func (s *StringValue) Value() string { return s.value }

func (s *StringValue) Hash() (chash.Hash, bool, error) {
	return chash.Strings(KindString.String(), s.value), true, nil
}

// PathValue hashes the canonical path, not the content of the file.
type PathValue struct {
	ingredientBase
	path string
}

func (*PathValue) Kind() Kind { return KindPath }

func (p *PathValue) Path() string { return p.path }

func (p *PathValue) Hash() (chash.Hash, bool, error) {
	return chash.Strings(KindPath.String(), p.path), true, nil
}

// URIValue hashes the normalized text of the URI.
type URIValue struct {
	ingredientBase
	uri *url.URL
}

func (*URIValue) Kind() Kind { return KindURI }

// URI returns a copy of the URI.
func (u *URIValue) URI() *url.URL {
	res := *u.uri
	return &res
}

func (u *URIValue) Hash() (chash.Hash, bool, error) {
	return chash.Strings(KindURI.String(), u.uri.String()), true, nil
}

// Bundle is an ordered group of ingredients. Its hash is absent if the hash
// of any member is absent.
type Bundle struct {
	ingredientBase
	members []Ingredient
}

func (*Bundle) Kind() Kind { return KindBundle }

func (b *Bundle) Len() int { return len(b.members) }

func (b *Bundle) Member(i int) Ingredient { return b.members[i] }

func (b *Bundle) Members() []Ingredient {
	return append([]Ingredient(nil), b.members...)
}

func (b *Bundle) Hash() (chash.Hash, bool, error) {
	hs := make([]chash.Hash, len(b.members))
	for i, m := range b.members {
		h, ok, err := HashOf(m)
		if err != nil || !ok {
			return chash.Zero, false, err
		}
		hs[i] = h
	}
	return chash.Combine(hs...), true, nil
}
