package jsdeps_test

import (
	"slices"
	"sync"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"

	"git.fractalqb.de/fractalqb/mkplan"
	"git.fractalqb.de/fractalqb/mkplan/config"
	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/jsdeps"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
	"git.fractalqb.de/fractalqb/mkplan/plankore"
)

type graphFixture struct {
	pool  *ingred.Pool
	opts  jsdeps.Options
	graph *jsdeps.DepGraphStep
}

// newGraph creates a dep-graph step over a.js and b.js where b.js requires
// the symbol of a.js.
func newGraph(t *testing.T, flags ...string) *graphFixture {
	pool := ingred.NewPool()
	testerr.Shall(jsdeps.RegisterKinds(pool)).BeNil(t)
	opts := testerr.Shall1(ingred.Options(pool, config.JsOptions{
		ID:       "app",
		Compiler: []string{"closure", "--charset=UTF-8"},
		Output:   "/p/out",
		Flags:    flags,
	})).BeNil(t)
	root := testerr.Shall1(mkfs.NewRoot("/p/src", 0)).BeNil(t)
	a := testerr.Shall1(mkfs.NewSource(root, "a.js")).BeNil(t)
	b := testerr.Shall1(mkfs.NewSource(root, "b.js")).BeNil(t)
	files := testerr.Shall1(pool.NamedFiles("app")).BeNil(t)
	testerr.Shall(files.SetFiles([]mkfs.Source{b, a}, nil)).BeNil(t)
	infos := testerr.Shall1(ingred.Persisted[jsdeps.Infos](pool, nil, jsdeps.DepInfoLocation("app"))).BeNil(t)
	infos.Set(jsdeps.Infos{
		a.Path: {Source: a, Info: jsdeps.DepInfo{Provides: []jsdeps.Symbol{"app.A"}}},
		b.Path: {Source: b, Info: jsdeps.DepInfo{
			Provides: []jsdeps.Symbol{"app.B"},
			Requires: []jsdeps.Symbol{"app.A"},
		}},
	})
	return &graphFixture{
		pool:  pool,
		opts:  opts,
		graph: jsdeps.NewDepGraphStep(pool, opts, files, infos),
	}
}

func (f *graphFixture) compileStep(t *testing.T, tr *plankore.Trace) *jsdeps.CompileStep {
	t.Helper()
	testerr.Shall(f.graph.ProcessInputs(tr)).BeNil(t)
	rw := testerr.Shall1(f.graph.RebuildFollowers(tr)).BeNil(t)
	if !rw.Replaces() || len(rw.Followers()) != 1 {
		t.Fatalf("rewrite: %+v", rw)
	}
	return rw.Followers()[0].(*jsdeps.CompileStep)
}

func TestCompileStep_Args(t *testing.T) {
	f := newGraph(t, "-O", "ADVANCED")
	c := f.compileStep(t, mkplan.TestTrace(t))
	expect := []string{
		"--charset=UTF-8", "-O", "ADVANCED",
		"--module_output_path_prefix", "/p/out/",
		"--js", "/p/src/a.js", "--js", "/p/src/b.js",
		"--module", "main:2",
	}
	if args := c.Args(); !slices.Equal(args, expect) {
		t.Errorf("args:\n  got: %s\n want: %s", args, expect)
	}
	if outs := c.Outputs(); !slices.Equal(outs, []string{"/p/out/main.js"}) {
		t.Errorf("outputs: %s", outs)
	}
	if k := c.Key(); k.Kind() != jsdeps.KindCompile {
		t.Errorf("compile key %s", k)
	}
}

func TestDepGraphStep_RebuildFollowers(t *testing.T) {
	f := newGraph(t)
	tr := mkplan.TestTrace(t)
	c := f.compileStep(t, tr)
	if fs := f.graph.Followers(); len(fs) != 1 || fs[0] != c {
		t.Fatalf("followers: %v", fs)
	}
	rw := testerr.Shall1(f.graph.RebuildFollowers(tr)).BeNil(t)
	if rw.Replaces() {
		t.Error("compile step replaced although modules did not change")
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Read(loc string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[loc]
	return d, ok, nil
}

func (s *memStore) Write(loc string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[loc] = data
	return nil
}

func TestDepGraphStep_Reconstitute(t *testing.T) {
	f := newGraph(t)
	tr := mkplan.TestTrace(t)
	st := new(memStore)

	next := jsdeps.NewDepGraphStep(f.pool, f.opts, f.graph.Files, f.graph.Infos)
	testerr.Shall(next.Reconstitute(st)).BeNil(t)
	if fs := next.Followers(); len(fs) != 0 {
		t.Fatalf("followers without state: %v", fs)
	}

	testerr.Shall(f.graph.ProcessInputs(tr)).BeNil(t)
	snap := testerr.Shall1(f.graph.StateVector()).BeNil(t)
	testerr.Shall(plankore.SaveSnapshot(st, snap)).BeNil(t)

	testerr.Shall(next.Reconstitute(st)).BeNil(t)
	fs := next.Followers()
	if len(fs) != 1 {
		t.Fatalf("followers: %v", fs)
	}
	if c := fs[0].(*jsdeps.CompileStep); !slices.Equal(c.Outputs(), []string{"/p/out/main.js"}) {
		t.Errorf("outputs: %s", c.Outputs())
	}
	testerr.Shall(next.ProcessInputs(tr)).BeNil(t)
	rw := testerr.Shall1(next.RebuildFollowers(tr)).BeNil(t)
	if rw.Replaces() {
		t.Error("reconstituted compile step replaced although modules did not change")
	}
}
