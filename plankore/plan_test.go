package plankore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"git.fractalqb.de/fractalqb/testerr"

	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/topo"
)

type testTracer struct{ t *testing.T }

func (tt testTracer) Debug(t *Trace, msg string, args ...any) { tt.t.Logf("%s DEBUG %s %v", t, msg, args) }
func (tt testTracer) Info(t *Trace, msg string, args ...any)  { tt.t.Logf("%s INFO %s %v", t, msg, args) }
func (tt testTracer) Warn(t *Trace, msg string, args ...any)  { tt.t.Logf("%s WARN %s %v", t, msg, args) }

func (tt testTracer) StartPlan(t *Trace, p *Plan) { tt.t.Logf("%s start plan %s", t, p) }

func (tt testTracer) DonePlan(t *Trace, p *Plan, s Stats, dt time.Duration) {
	tt.t.Logf("%s done plan %s %+v in %s", t, p, s, dt)
}

func (tt testTracer) CheckStep(t *Trace, s Step)   { tt.t.Logf("%s check %s", t, s.Key()) }
func (tt testTracer) StepSkipped(t *Trace, s Step) { tt.t.Logf("%s skipped %s", t, s.Key()) }

func (tt testTracer) StepExecuted(t *Trace, s Step, dt time.Duration) {
	tt.t.Logf("%s executed %s in %s", t, s.Key(), dt)
}

func (tt testTracer) StepFailed(t *Trace, s Step, err error) {
	tt.t.Logf("%s failed %s: %s", t, s.Key(), err)
}

func (tt testTracer) FollowersChanged(t *Trace, s Step, n int) {
	tt.t.Logf("%s %s has %d new followers", t, s.Key(), n)
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

type journal struct {
	mu  sync.Mutex
	log []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log = append(j.log, s)
}

func (j *journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strings.Join(j.log, " ")
}

type testStep struct {
	StepBase
	name    string
	journal *journal
	fail    error
	outputs []string
	rewrite []Step
}

func newTestStep(j *journal, name string, in ...ingred.Ingredient) *testStep {
	return &testStep{
		StepBase: StepBase{StepKey: ingred.MakeKey("test", name), In: in},
		name:     name,
		journal:  j,
	}
}

func (s *testStep) Execute(*Trace) error {
	if s.fail != nil {
		return s.fail
	}
	s.journal.add(s.name)
	return nil
}

func (s *testStep) Outputs() []string { return s.outputs }

func (s *testStep) RebuildFollowers(*Trace) (Rewrite, error) {
	if s.rewrite == nil {
		return Unchanged, nil
	}
	return Replace(s.rewrite...), nil
}

func run(t *testing.T, p *Plan) error {
	return p.Run(NewTrace(context.Background(), testTracer{t}))
}

func TestPlan_rerunSkips(t *testing.T) {
	pool := ingred.NewPool()
	src := filepath.Join(t.TempDir(), "src.txt")
	testerr.Shall(os.WriteFile(src, []byte("1"), 0666)).BeNil(t)
	file := testerr.Shall1(pool.File(src)).BeNil(t)
	str := testerr.Shall1(pool.StringValue("opt")).BeNil(t)
	store := new(memStore)

	var j journal
	a := newTestStep(&j, "a", file)
	b := newTestStep(&j, "b", str)
	a.Next = []Step{b}
	plan := NewPlan("rerun", store)
	plan.Add(a)

	testerr.Shall(run(t, plan)).BeNil(t)
	if s := plan.Stats(); s.Executed != 2 || s.Skipped != 0 {
		t.Fatalf("first run: %+v", s)
	}
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := plan.Stats(); s.Executed != 0 || s.Skipped != 2 {
		t.Fatalf("unchanged rerun: %+v", s)
	}
	testerr.Shall(os.WriteFile(src, []byte("2"), 0666)).BeNil(t)
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := plan.Stats(); s.Executed != 1 || s.Skipped != 1 {
		t.Fatalf("changed rerun: %+v", s)
	}
	if s := j.String(); s != "a b a" {
		t.Errorf("executions: %s", s)
	}
}

func TestPlan_absentInput(t *testing.T) {
	pool := ingred.NewPool()
	missing := testerr.Shall1(pool.File(filepath.Join(t.TempDir(), "missing"))).BeNil(t)
	var j journal
	store := new(memStore)
	plan := NewPlan("absent", store)
	plan.Add(newTestStep(&j, "a", missing))
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := plan.Stats(); s.Executed != 1 || s.Failed != 0 {
		t.Errorf("stats: %+v", s)
	}
	if len(store.data) != 0 {
		t.Errorf("snapshot stored without input hash: %v", store.data)
	}
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := j.String(); s != "a a" {
		t.Errorf("step with absent input skipped: %s", s)
	}
}

func TestPlan_categories(t *testing.T) {
	var j journal
	reader := newTestStep(&j, "reader")
	reader.ReadCats = []Category{"c"}
	writer := newTestStep(&j, "writer")
	writer.WriteCats = []Category{"c"}
	plan := NewPlan("categories", nil)
	plan.Jobs = 4
	plan.Add(reader, writer)
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := j.String(); s != "writer reader" {
		t.Errorf("executions: %s", s)
	}
}

func TestPlan_failure(t *testing.T) {
	var j journal
	store := new(memStore)
	a := newTestStep(&j, "a")
	a.fail = mkerr.New(mkerr.IO, "disk gone")
	b := newTestStep(&j, "b")
	a.Next = []Step{b}
	c := newTestStep(&j, "c")
	plan := NewPlan("failure", store)
	plan.Add(a, c)

	err := run(t, plan)
	if !mkerr.IsKind(err, mkerr.IO) {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := plan.Stats(); s != (Stats{Executed: 1, Failed: 1, Aborted: 1}) {
		t.Errorf("stats: %+v", s)
	}
	if _, ok, _ := store.Read(snapshotLocation(a.Key())); ok {
		t.Error("snapshot of failed step persisted")
	}
	if _, ok, _ := store.Read(snapshotLocation(c.Key())); !ok {
		t.Error("snapshot of independent step not persisted")
	}
}

func TestPlan_cycle(t *testing.T) {
	var j journal
	x := newTestStep(&j, "x")
	x.ReadCats, x.WriteCats = []Category{"c1"}, []Category{"c2"}
	y := newTestStep(&j, "y")
	y.ReadCats, y.WriteCats = []Category{"c2"}, []Category{"c1"}
	plan := NewPlan("cycle", nil)
	plan.Add(x, y)
	err := run(t, plan)
	var cyc *topo.CyclicRequirement
	if !errors.As(err, &cyc) || !mkerr.IsKind(err, mkerr.Invariant) {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.String() != "" {
		t.Errorf("steps of a cycle executed: %s", j.String())
	}
}

func TestPlan_rewrite(t *testing.T) {
	var j journal
	a := newTestStep(&j, "a")
	old := newTestStep(&j, "old")
	oldNext := newTestStep(&j, "old-next")
	old.Next = []Step{oldNext}
	a.Next = []Step{old}
	a.rewrite = []Step{newTestStep(&j, "new")}
	plan := NewPlan("rewrite", nil)
	plan.Add(a)
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := j.String(); s != "a new" {
		t.Errorf("executions: %s", s)
	}
	var dot bytes.Buffer
	testerr.Shall1(plan.WriteDot(&dot)).BeNil(t)
	if s := dot.String(); !strings.Contains(s, `"test:new"`) || strings.Contains(s, `"test:old"`) {
		t.Errorf("dot output:\n%s", s)
	}
}

func TestPlan_rebind(t *testing.T) {
	var j journal
	a := newTestStep(&j, "a")
	stale := newTestStep(&j, "stale")
	staleNext := newTestStep(&j, "stale-next")
	stale.Next = []Step{staleNext}
	fresh := newTestStep(&j, "fresh")
	fresh.StepKey = stale.StepKey
	a.Next = []Step{stale}
	a.rewrite = []Step{fresh}
	plan := NewPlan("rebind", nil)
	plan.Add(a)
	testerr.Shall(run(t, plan)).BeNil(t)
	if s := j.String(); s != "a fresh" {
		t.Errorf("executions: %s", s)
	}
	if s := plan.Stats(); s.Executed != 2 {
		t.Errorf("stats: %+v", s)
	}
}

func TestPlan_outputs(t *testing.T) {
	var j journal
	out := filepath.Join(t.TempDir(), "out.js")
	a := newTestStep(&j, "a")
	a.outputs = []string{out}
	b := newTestStep(&j, "b")
	b.outputs = []string{out}
	plan := NewPlan("outputs", nil)
	plan.Add(a, b)
	if err := plan.CheckOutputs(); !mkerr.IsKind(err, mkerr.Resolution) {
		t.Fatalf("ambiguous output: %v", err)
	}
	if err := run(t, plan); !mkerr.IsKind(err, mkerr.Resolution) {
		t.Fatalf("ambiguous output: %v", err)
	}
	if j.String() != "" {
		t.Error("steps ran despite ambiguous outputs")
	}
}

func TestPlan_panic(t *testing.T) {
	var j journal
	p := &panicStep{testStep: *newTestStep(&j, "p")}
	plan := NewPlan("panic", nil)
	plan.Add(p)
	if err := run(t, plan); !mkerr.IsKind(err, mkerr.Invariant) {
		t.Fatalf("panic not reported: %v", err)
	}
}

type panicStep struct{ testStep }

func (*panicStep) Execute(*Trace) error { panic("boom") }

func TestState_Next(t *testing.T) {
	s := testerr.Shall1(Unstarted.Next(Executed)).BeNil(t)
	s = testerr.Shall1(s.Next(FollowersFinalized)).BeNil(t)
	if _, err := s.Next(Skipped); !mkerr.IsKind(err, mkerr.Invariant) {
		t.Errorf("illegal transition accepted: %v", err)
	}
	if _, err := Done.Next(Failed); err == nil {
		t.Error("left terminal state")
	}
}
