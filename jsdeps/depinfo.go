package jsdeps

import (
	"slices"
	"strings"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// Symbol is a namespace a script source provides or requires.
type Symbol string

// Goog is the symbol provided by the bootstrap library. Every source that
// declares anything implicitly requires it.
const Goog Symbol = "goog"

// ProvideGoogMarker in a leading doc comment makes a source without any
// declarations the provider of [Goog].
const ProvideGoogMarker = "@provideGoog"

// DepInfo is what a script source declares about its dependencies.
// TypeRequires are recorded but do not constrain the load order.
type DepInfo struct {
	IsModule     bool     `json:"module,omitempty"`
	Provides     []Symbol `json:"provides,omitempty"`
	Requires     []Symbol `json:"requires,omitempty"`
	TypeRequires []Symbol `json:"typeRequires,omitempty"`
}

// ModuleName returns the symbol declared with goog.module.
func (di *DepInfo) ModuleName() Symbol {
	if di.IsModule && len(di.Provides) > 0 {
		return di.Provides[0]
	}
	return ""
}

func (di *DepInfo) Empty() bool {
	return len(di.Provides) == 0 && len(di.Requires) == 0 && len(di.TypeRequires) == 0
}

// Extract scans the content of a script source for goog.provide,
// goog.module, goog.require and goog.requireType calls with a string literal
// argument. More than one goog.module call is a resolution error. A source
// that declares anything also requires [Goog] unless it provides it. name
// is only used for error messages.
func Extract(name string, content []byte) (DepInfo, error) {
	var (
		info   DepInfo
		window [6]Token
		n      int
		mods   int
	)
	src := string(content)
	for tok := range NewLexer(src, false).Tokens() {
		if n == len(window) {
			copy(window[:], window[1:])
			n--
		}
		window[n] = tok
		n++
		if n < len(window) {
			continue
		}
		fn, sym, ok := googCall(window[:])
		if !ok {
			continue
		}
		switch fn {
		case "provide":
			info.Provides = appendNew(info.Provides, sym)
		case "module":
			mods++
			info.IsModule = true
			info.Provides = slices.Insert(slices.DeleteFunc(info.Provides,
				func(s Symbol) bool { return s == sym },
			), 0, sym)
		case "require":
			info.Requires = appendNew(info.Requires, sym)
		case "requireType":
			info.TypeRequires = appendNew(info.TypeRequires, sym)
		}
	}
	if mods > 1 {
		return info, mkerr.New(mkerr.Resolution,
			"%s declares %d modules", name, mods,
		)
	}
	switch {
	case info.Empty():
		if hasLegacyMarker(src) {
			info.Provides = []Symbol{Goog}
		}
	case !slices.Contains(info.Provides, Goog) && !slices.Contains(info.Requires, Goog):
		info.Requires = slices.Insert(info.Requires, 0, Goog)
	}
	return info, nil
}

// googCall matches the tokens: goog . fn ( 'sym' )
func googCall(ts []Token) (fn string, sym Symbol, ok bool) {
	if ts[0].Type != Word || ts[0].Text != "goog" ||
		ts[1].Type != Punctuation || ts[1].Text != "." ||
		ts[2].Type != Word ||
		ts[3].Type != Punctuation || ts[3].Text != "(" ||
		ts[4].Type != String ||
		ts[5].Type != Punctuation || ts[5].Text != ")" {
		return "", "", false
	}
	return ts[2].Text, Symbol(ts[4].Value()), true
}

// hasLegacyMarker looks at the doc comments before the first other token.
func hasLegacyMarker(src string) bool {
	for tok := range NewLexer(src, true).Tokens() {
		if tok.Type != DocComment {
			return false
		}
		if strings.Contains(tok.Text, ProvideGoogMarker) {
			return true
		}
	}
	return false
}

func appendNew(syms []Symbol, s Symbol) []Symbol {
	if slices.Contains(syms, s) {
		return syms
	}
	return append(syms, s)
}
