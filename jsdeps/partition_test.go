package jsdeps

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
	"git.fractalqb.de/fractalqb/mkplan/topo"
)

type fixture struct {
	t     *testing.T
	srcs  []mkfs.Source
	infos Infos
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, infos: make(Infos)}
}

func syms(s string) []Symbol {
	var res []Symbol
	for _, f := range strings.Fields(s) {
		res = append(res, Symbol(f))
	}
	return res
}

// add registers the source rel in the root dir. provides and requires are
// space separated symbols.
func (f *fixture) add(dir string, tags mkfs.Tags, rel, provides, requires string) mkfs.Source {
	root := testerr.Shall1(mkfs.NewRoot(dir, tags)).BeNil(f.t)
	src := testerr.Shall1(mkfs.NewSource(root, rel)).BeNil(f.t)
	f.srcs = append(f.srcs, src)
	f.infos[src.Path] = Entry{
		Source: src,
		Info:   DepInfo{Provides: syms(provides), Requires: syms(requires)},
	}
	return src
}

func (f *fixture) module(dir, rel, name, requires string) {
	src := f.add(dir, 0, rel, name, requires)
	e := f.infos[src.Path]
	e.Info.IsModule = true
	f.infos[src.Path] = e
}

func (f *fixture) partition() (Modules, error) { return Partition(nil, f.srcs, f.infos) }

func describe(ms Modules) string {
	var sb strings.Builder
	for i, m := range ms {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s%v:", m.Name, m.Deps)
		for _, s := range m.Sources {
			sb.WriteString(" " + s.Rel)
		}
	}
	return sb.String()
}

func TestPartition_providerFirst(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "a.js", "ns.A", "")
	f.add("/p/src", 0, "b.js", "ns.B", "ns.A")
	ms := testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: a.js b.js" {
		t.Errorf("modules: %s", d)
	}

	f = newFixture(t)
	f.add("/p/src", 0, "a.js", "ns.A", "ns.Z")
	f.add("/p/src", 0, "z.js", "ns.Z", "")
	ms = testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: z.js a.js" {
		t.Errorf("modules: %s", d)
	}
}

func TestPartition_missing(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "ok.js", "ns.Ok", "")
	f.add("/p/src", 0, "x.js", "", "ns.Missing")
	ms, err := f.partition()
	if ms != nil {
		t.Errorf("output despite error: %s", describe(ms))
	}
	var miss *topo.MissingRequirement
	if !errors.As(err, &miss) || !mkerr.IsKind(err, mkerr.Resolution) {
		t.Fatalf("unexpected error: %v", err)
	}
	if miss.Item != "x.js" || miss.Symbol != "ns.Missing" {
		t.Errorf("diagnostic: %s", miss)
	}
}

func TestPartition_cycle(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "a.js", "ns.A", "ns.B")
	f.add("/p/src", 0, "b.js", "ns.B", "ns.A")
	_, err := f.partition()
	var cyc *topo.CyclicRequirement
	if !errors.As(err, &cyc) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "module main") {
		t.Errorf("module not named: %v", err)
	}
}

func TestPartition_unusedOptional(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "a.js", "ns.A", "")
	f.add("/p/lib", mkfs.LoadAsNeeded, "extra.js", "ns.Extra", "")
	ms := testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: a.js" {
		t.Errorf("modules: %s", d)
	}
}

func TestPartition_optionalChain(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "app.js", "app", "s1")
	f.add("/p/lib", mkfs.LoadAsNeeded, "o1.js", "s1", "s2")
	f.add("/p/lib", mkfs.LoadAsNeeded, "o2.js", "s2", "s3")
	f.add("/p/lib", mkfs.LoadAsNeeded, "o3.js", "s3", "")
	f.add("/p/lib", mkfs.LoadAsNeeded, "unused.js", "s4", "s1")
	p := testerr.Shall1(group(f.srcs, f.infos)).BeNil(t)
	p.resolve()
	if p.passes > 3 {
		t.Errorf("%d passes for 3 required symbols", p.passes)
	}
	ms := testerr.Shall1(p.order()).BeNil(t)
	if d := describe(ms); d != "main[]: o3.js o2.js o1.js app.js" {
		t.Errorf("modules: %s", d)
	}
}

func TestPartition_terminatesWithoutProgress(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "app.js", "app", "nowhere")
	f.add("/p/lib", mkfs.LoadAsNeeded, "o.js", "other", "")
	p := testerr.Shall1(group(f.srcs, f.infos)).BeNil(t)
	p.resolve()
	// the first pass counts what is provided without commitment
	if p.passes != 2 {
		t.Errorf("%d passes without progress", p.passes)
	}
}

func TestPartition_modules(t *testing.T) {
	f := newFixture(t)
	f.add("/p/src", 0, "base.js", "goog", "")
	f.add("/p/src", 0, "app/util.js", "app.util", "goog")
	f.module("/p/src", "app/widget.js", "app.widget", "app.util")
	f.add("/p/src", 0, "app/main.js", "app.start", "app.widget")
	f.add("/p/src", 0, "app/domain.js", "app.domain", "")
	f.add("/p/test", mkfs.TestOnly, "util_check.js", "", "app.util")
	ms := testerr.Shall1(f.partition()).BeNil(t)
	const expect = "main[]: app/domain.js base.js app/util.js; " +
		"app.widget[main]: app/widget.js; " +
		"app.main[main app.widget]: app/main.js; " +
		"test[main]: util_check.js"
	if d := describe(ms); d != expect {
		t.Errorf("modules:\n  got: %s\n want: %s", d, expect)
	}
}

// extracted registers the source rel with the dep-info extracted from
// content.
func (f *fixture) extracted(dir string, tags mkfs.Tags, rel, content string) {
	src := f.add(dir, tags, rel, "", "")
	e := f.infos[src.Path]
	e.Info = testerr.Shall1(Extract(rel, []byte(content))).BeNil(f.t)
	f.infos[src.Path] = e
}

const bootstrap = `/** @provideGoog */
var COMPILED = false;
`

func TestPartition_bootstrapFirst(t *testing.T) {
	f := newFixture(t)
	f.extracted("/p/src", 0, "a.js", `goog.provide('a');`)
	f.extracted("/p/src", 0, "base.js", bootstrap)
	ms := testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: base.js a.js" {
		t.Errorf("modules: %s", d)
	}
}

func TestPartition_optionalBootstrap(t *testing.T) {
	f := newFixture(t)
	f.extracted("/p/closure", mkfs.LoadAsNeeded, "base.js", bootstrap)
	f.extracted("/p/closure", mkfs.LoadAsNeeded, "dom.js", `goog.provide('goog.dom');`)
	f.extracted("/p/closure", mkfs.LoadAsNeeded, "crypt.js", `goog.provide('goog.crypt');`)
	f.extracted("/p/src", 0, "app.js", `goog.provide('app'); goog.require('goog.dom');`)
	ms := testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: base.js dom.js app.js" {
		t.Errorf("modules: %s", d)
	}
}

func TestPartition_noBootstrap(t *testing.T) {
	f := newFixture(t)
	f.extracted("/p/src", 0, "b.js", `goog.provide('b'); goog.require('a');`)
	f.extracted("/p/src", 0, "a.js", `goog.provide('a');`)
	ms := testerr.Shall1(f.partition()).BeNil(t)
	if d := describe(ms); d != "main[]: a.js b.js" {
		t.Errorf("modules: %s", d)
	}
	if e := f.infos[f.srcs[0].Path]; e.Info.Requires[0] != Goog {
		t.Errorf("dep-info changed by partition: %+v", e.Info)
	}
}

func TestPartition_missingInfo(t *testing.T) {
	f := newFixture(t)
	src := f.add("/p/src", 0, "a.js", "a", "")
	delete(f.infos, src.Path)
	if _, err := f.partition(); !mkerr.IsKind(err, mkerr.Resolution) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPartition_duplicateInput(t *testing.T) {
	f := newFixture(t)
	src := f.add("/p/src", 0, "a.js", "a", "")
	f.srcs = append(f.srcs, src)
	if _, err := f.partition(); !mkerr.IsKind(err, mkerr.Invariant) {
		t.Errorf("unexpected error: %v", err)
	}
}

func Test_endsWithWord(t *testing.T) {
	for s, expect := range map[string]bool{
		"main":        true,
		"test":        true,
		"foo/main":    true,
		"foo_test":    true,
		"foo-main":    true,
		"domain":      false,
		"latest":      false,
		"foo/mainly":  false,
		"foo/2test":   false,
		"foo.test/x":  false,
		"src/ui/main": true,
	} {
		if got := endsWithWord(s, "main") || endsWithWord(s, "test"); got != expect {
			t.Errorf("%s: got %t", s, got)
		}
	}
}
