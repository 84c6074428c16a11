package jsdeps

import (
	"errors"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bits-and-blooms/bitset"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
	"git.fractalqb.de/fractalqb/mkplan/plankore"
	"git.fractalqb.de/fractalqb/mkplan/topo"
)

// Names of the modules that collect sources without a module of their own.
const (
	DefaultMain = "main"
	DefaultTest = "test"
)

// Module is a named group of sources compiled together. Deps are the
// transitive dependency modules in load order, Sources are in load order.
type Module struct {
	Name    string        `json:"name"`
	Deps    []string      `json:"deps,omitempty"`
	Sources []mkfs.Source `json:"sources"`
}

// Modules are in load order.
type Modules []Module

func (ms Modules) Hash() (chash.Hash, error) { return chash.Serializable(ms) }

func (ms Modules) Names() []string {
	res := make([]string, len(ms))
	for i, m := range ms {
		res[i] = m.Name
	}
	return res
}

// Partition groups srcs into modules and orders the modules and their
// sources. Optional sources, i.e. those from roots tagged
// [mkfs.LoadAsNeeded], are only included if something requires what they
// provide. Requiring [Goog] constrains the order only if one of srcs
// provides it. Every source must have an entry in infos. Progress is traced
// to tr if not nil.
func Partition(tr *plankore.Trace, srcs []mkfs.Source, infos Infos) (Modules, error) {
	p, err := group(srcs, infos)
	if err != nil {
		return nil, err
	}
	p.trace = tr
	p.resolve()
	return p.order()
}

type member struct {
	src      mkfs.Source
	info     *DepInfo
	optional bool
}

func (m *member) String() string { return m.src.Rel }

type moduleInfo struct {
	name    string
	members []*member
	used    bitset.BitSet

	provides   symSet
	canProvide symSet
	requires   symSet
	// optional symbol -> what providing it would require
	implies map[Symbol]*symSet
}

type partition struct {
	modules []*moduleInfo
	passes  int
	trace   *plankore.Trace
}

func group(srcs []mkfs.Source, infos Infos) (*partition, error) {
	var (
		errs     *mkerr.MultiError
		byName   = make(map[string][]*member)
		seen     = make(map[string]bool)
		members  []*member
		bootable bool
	)
	for _, src := range srcs {
		if seen[src.Path] {
			return nil, mkerr.New(mkerr.Invariant, "duplicate compiler input %s", src.Path)
		}
		seen[src.Path] = true
		e, ok := infos[src.Path]
		if !ok {
			errs = errs.Append(mkerr.New(mkerr.Resolution, "missing dependency info for %s", src.Rel))
			continue
		}
		m := &member{
			src:      src,
			info:     &e.Info,
			optional: src.Tags().Has(mkfs.LoadAsNeeded),
		}
		bootable = bootable || slices.Contains(m.info.Provides, Goog)
		members = append(members, m)
	}
	if errs.Len() > 0 {
		errs.Sort()
		return nil, errs
	}
	for _, m := range members {
		if !bootable && slices.Contains(m.info.Requires, Goog) {
			m.info.Requires = slices.DeleteFunc(slices.Clone(m.info.Requires),
				func(s Symbol) bool { return s == Goog },
			)
		}
		name := moduleName(m.src, m.info)
		byName[name] = append(byName[name], m)
	}
	p := new(partition)
	for name, ms := range byName {
		slices.SortFunc(ms, func(a, b *member) int {
			return strings.Compare(a.src.Rel, b.src.Rel)
		})
		p.modules = append(p.modules, newModuleInfo(name, ms))
	}
	slices.SortFunc(p.modules, func(a, b *moduleInfo) int {
		return strings.Compare(a.name, b.name)
	})
	return p, nil
}

func moduleName(src mkfs.Source, info *DepInfo) string {
	if s := info.ModuleName(); s != "" {
		return string(s)
	}
	extless := src.Extensionless()
	if endsWithWord(extless, DefaultMain) || endsWithWord(extless, DefaultTest) {
		return strings.ReplaceAll(extless, "/", ".")
	}
	if src.Tags().Has(mkfs.TestOnly) {
		return DefaultTest
	}
	return DefaultMain
}

// endsWithWord reports whether s is w or ends with w preceded by a character
// that is neither a letter nor a digit.
func endsWithWord(s, w string) bool {
	if !strings.HasSuffix(s, w) {
		return false
	}
	head := s[:len(s)-len(w)]
	if head == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(head)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func newModuleInfo(name string, ms []*member) *moduleInfo {
	mi := &moduleInfo{
		name:    name,
		members: ms,
		implies: make(map[Symbol]*symSet),
	}
	for _, m := range ms {
		if m.optional {
			for _, p := range m.info.Provides {
				mi.canProvide.add(p)
				imp := mi.implies[p]
				if imp == nil {
					imp = new(symSet)
					mi.implies[p] = imp
				}
				imp.addAll(m.info.Requires...)
			}
		} else {
			mi.provides.addAll(m.info.Provides...)
			mi.requires.addAll(m.info.Requires...)
		}
	}
	mi.requires.removeAll(mi.provides.order...)
	return mi
}

// commit makes the module provide every symbol of reqs it can provide
// optionally. reqs is updated with what the commitment requires in turn and
// without what the module now provides.
func (mi *moduleInfo) commit(reqs *symSet) {
	var added, newly symSet
	for _, r := range reqs.order {
		if !mi.canProvide.has(r) {
			continue
		}
		added.add(r)
		if imp := mi.implies[r]; imp != nil {
			newly.addAll(imp.order...)
			delete(mi.implies, r)
		}
	}
	mi.provides.addAll(added.order...)
	mi.canProvide.removeAll(added.order...)
	newly.removeAll(added.order...)
	mi.requires.addAll(newly.order...)
	reqs.addAll(newly.order...)
	reqs.removeAll(mi.provides.order...)
}

// resolve runs until a pass over all modules does not increase the number
// of provided symbols. Each pass either stops or provides at least one more
// symbol, so the number of passes is bounded by the number of symbols.
func (p *partition) resolve() {
	var required symSet
	for _, mi := range p.modules {
		required.addAll(mi.requires.order...)
	}
	prev := 0
	for required.len() > 0 {
		p.passes++
		if p.trace != nil {
			p.trace.Debug("pass `pass` still requires `symbols`", `pass`, p.passes, `symbols`, required.order)
		}
		var provided symSet
		for _, mi := range p.modules {
			mi.commit(&required)
			provided.addAll(mi.provides.order...)
		}
		if provided.len() == prev {
			break
		}
		prev = provided.len()
	}
}

func (mi *moduleInfo) markUsed() {
	for i, m := range mi.members {
		if !m.optional || slices.ContainsFunc(m.info.Provides, mi.provides.has) {
			mi.used.Set(uint(i))
		}
	}
}

func (mi *moduleInfo) usedMembers() []*member {
	res := make([]*member, 0, mi.used.Count())
	for i, ok := mi.used.NextSet(0); ok; i, ok = mi.used.NextSet(i + 1) {
		res = append(res, mi.members[i])
	}
	return res
}

func (p *partition) order() (Modules, error) {
	var (
		names  []string
		byName = make(map[string]*moduleInfo)
	)
	for _, mi := range p.modules {
		mi.markUsed()
		if mi.used.Count() == 0 {
			continue
		}
		names = append(names, mi.name)
		byName[mi.name] = mi
	}
	modProvides := func(name string) []Symbol {
		var ps symSet
		for _, m := range byName[name].usedMembers() {
			ps.addAll(m.info.Provides...)
		}
		return ps.order
	}
	modRequires := func(name string) []Symbol {
		var rs symSet
		for _, m := range byName[name].usedMembers() {
			rs.addAll(m.info.Requires...)
		}
		rs.removeAll(modProvides(name)...)
		return rs.order
	}
	modOrder, err := topo.Sort(names, modRequires, modProvides)
	if err != nil {
		return nil, explain(err, byName)
	}

	var (
		res    Modules
		errs   *mkerr.MultiError
		before symSet
	)
	for _, name := range modOrder.Sorted() {
		ms := byName[name].usedMembers()
		srcOrder, err := topo.Sort(ms,
			func(m *member) []Symbol {
				return slices.DeleteFunc(slices.Clone(m.info.Requires), before.has)
			},
			func(m *member) []Symbol { return m.info.Provides },
		)
		for _, m := range ms {
			before.addAll(m.info.Provides...)
		}
		if err != nil {
			errs = errs.Append(mkerr.Wrap(mkerr.Resolution, err,
				"mismatched require/provides in module %s", name,
			))
			continue
		}
		mod := Module{Name: name, Deps: modOrder.Deps(name)}
		for _, m := range srcOrder.Sorted() {
			mod.Sources = append(mod.Sources, m.src)
		}
		res = append(res, mod)
	}
	if errs.Len() > 0 {
		return nil, errs
	}
	return res, nil
}

// explain replaces missing requirements of modules with those of the
// requiring sources.
func explain(err error, byName map[string]*moduleInfo) error {
	var (
		errs  *mkerr.MultiError
		inner []error
		me    *mkerr.MultiError
	)
	if errors.As(err, &me) {
		inner = me.WrappedErrors()
	} else {
		inner = []error{err}
	}
	for _, e := range inner {
		var miss *topo.MissingRequirement
		if !errors.As(e, &miss) {
			errs = errs.Append(mkerr.Wrap(mkerr.Resolution, e, "mismatched require/provides"))
			continue
		}
		for _, m := range byName[miss.Item].usedMembers() {
			if slices.Contains(m.info.Requires, Symbol(miss.Symbol)) {
				errs = errs.Append(mkerr.Wrap(mkerr.Resolution,
					&topo.MissingRequirement{Item: m.src.Rel, Symbol: miss.Symbol},
					"module %s", miss.Item,
				))
			}
		}
	}
	errs.Sort()
	return errs.ErrorOrNil()
}

// symSet keeps the insertion order of its symbols.
type symSet struct {
	order []Symbol
	index map[Symbol]struct{}
}

func (s *symSet) has(sym Symbol) bool {
	_, ok := s.index[sym]
	return ok
}

func (s *symSet) len() int { return len(s.order) }

func (s *symSet) add(sym Symbol) {
	if s.has(sym) {
		return
	}
	if s.index == nil {
		s.index = make(map[Symbol]struct{})
	}
	s.index[sym] = struct{}{}
	s.order = append(s.order, sym)
}

func (s *symSet) addAll(syms ...Symbol) {
	for _, sym := range syms {
		s.add(sym)
	}
}

func (s *symSet) removeAll(syms ...Symbol) {
	if len(s.order) == 0 || len(syms) == 0 {
		return
	}
	for _, sym := range syms {
		delete(s.index, sym)
	}
	s.order = slices.DeleteFunc(s.order, func(sym Symbol) bool {
		_, ok := s.index[sym]
		return !ok
	})
}
