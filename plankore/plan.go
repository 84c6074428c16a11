package plankore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"git.fractalqb.de/fractalqb/mkplan/bees"
	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/topo"
)

// Locker is implemented by stores that must be locked for the duration of a
// run.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// Stats counts the outcome of the steps of a run. Aborted steps did not run
// because a step they depend on failed.
type Stats struct {
	Executed, Skipped, Failed, Aborted int
}

// Plan is a graph of steps reachable from the root steps by their followers.
// Runs of the same plan are serialized.
type Plan struct {
	Name string
	// Number of steps that run in parallel, see [bees.NewHive].
	Jobs int
	// Snapshots are not persisted if Store is nil.
	Store ingred.ByteStore

	mu      sync.Mutex
	roots   []Step
	lastRun atomic.Uint64
	stats   Stats
	graph   *graph
}

func NewPlan(name string, store ingred.ByteStore) *Plan {
	return &Plan{Name: name, Store: store}
}

func (p *Plan) String() string { return p.Name }

// Add registers root steps. Steps with a key that is already registered are
// ignored.
func (p *Plan) Add(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range steps {
		if !slices.ContainsFunc(p.roots, func(r Step) bool { return r.Key() == s.Key() }) {
			p.roots = append(p.roots, s)
		}
	}
}

func (p *Plan) Roots() []Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.roots)
}

// Stats returns the statistics of the last run.
func (p *Plan) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// CheckOutputs reports every output that is claimed by more than one step.
func (p *Plan) CheckOutputs() error {
	p.mu.Lock()
	g := newGraph(p.roots)
	p.mu.Unlock()
	return make(claims).check(g.nodes).ErrorOrNil()
}

// Run brings all steps up to date. All failures of the run are returned
// together. An invariant violation stops the run as soon as the running steps
// returned.
func (p *Plan) Run(tr *Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRun.Add(1)
	tr = tr.pushPlan(p)
	tr.startPlan(p)
	start := time.Now()
	r := &runner{
		plan:  p,
		trace: tr,
		graph: newGraph(p.roots),
		hive:  bees.NewHive[*node](p.Jobs),
	}
	defer func() {
		p.stats = r.stats
		p.graph = r.graph
		tr.donePlan(p, r.stats, time.Since(start))
	}()

	if l, ok := p.Store.(Locker); ok {
		if err := l.Lock(tr.Ctx()); err != nil {
			return mkerr.Wrap(mkerr.IO, err, "lock state of plan %s", p.Name)
		}
		defer func() {
			if err := l.Unlock(); err != nil {
				tr.Warn("cannot unlock state of `plan`: `error`", `plan`, p.Name, `error`, err)
			}
		}()
	}
	r.claims = make(claims)
	if errs := r.claims.check(r.graph.nodes); errs.Len() > 0 {
		errs.Sort()
		return errs
	}
	r.run()
	return r.errs.ErrorOrNil()
}

type node struct {
	step      Step
	seq       uint64
	root      bool
	reads     []Category
	writes    []Category
	followers []*node

	state   State
	queued  bool
	running bool
	dropped bool
	trace   *Trace
	out     outcome
}

type outcome struct {
	executed bool
	dt       time.Duration
	rewrite  Rewrite
}

func (n *node) String() string { return string(n.step.Key()) }

func (n *node) active() bool { return !n.dropped }

func (n *node) feeds(m *node) bool {
	if slices.Contains(n.followers, m) {
		return true
	}
	for _, w := range n.writes {
		if slices.Contains(m.reads, w) {
			return true
		}
	}
	return false
}

type graph struct {
	nodes []*node
	byKey map[ingred.PlanKey]*node
	seq   uint64
}

func newGraph(roots []Step) *graph {
	g := &graph{byKey: make(map[ingred.PlanKey]*node)}
	for _, r := range roots {
		g.add(r).root = true
	}
	return g
}

func (g *graph) add(s Step) *node {
	if n := g.byKey[s.Key()]; n != nil {
		return n
	}
	n := &node{
		step:   s,
		seq:    g.seq,
		reads:  s.Reads(),
		writes: s.Writes(),
	}
	g.seq++
	g.nodes = append(g.nodes, n)
	g.byKey[s.Key()] = n
	for _, f := range s.Followers() {
		if fn := g.add(f); !slices.Contains(n.followers, fn) {
			n.followers = append(n.followers, fn)
		}
	}
	return n
}

// rebind makes n run s instead of the step with the same key it was created
// for.
func (g *graph) rebind(n *node, s Step) {
	old := n.followers
	n.step = s
	n.reads = s.Reads()
	n.writes = s.Writes()
	n.followers = nil
	for _, f := range s.Followers() {
		if fn := g.add(f); !slices.Contains(n.followers, fn) {
			n.followers = append(n.followers, fn)
		}
	}
	for _, o := range old {
		if !slices.Contains(n.followers, o) {
			g.dropOrphan(o)
		}
	}
}

// blockers returns the active nodes that n has to wait for.
func (g *graph) blockers(n *node) (res []*node) {
	for _, m := range g.nodes {
		if m != n && m.active() && m.feeds(n) {
			res = append(res, m)
		}
	}
	return res
}

func (g *graph) hasParent(n *node) bool {
	for _, m := range g.nodes {
		if m.active() && slices.Contains(m.followers, n) {
			return true
		}
	}
	return false
}

// dropOrphan removes n from the run if it did not start and nothing leads to
// it anymore. Followers of n that become orphans are dropped, too.
func (g *graph) dropOrphan(n *node) {
	if n.dropped || n.root || n.running || n.state != Unstarted || g.hasParent(n) {
		return
	}
	n.dropped = true
	for _, f := range n.followers {
		g.dropOrphan(f)
	}
}

type runner struct {
	plan   *Plan
	trace  *Trace
	graph  *graph
	hive   *bees.Hive[*node]
	queue  bees.Queue[*node]
	claims claims
	stats  Stats
	errs   *mkerr.MultiError
	halt   bool
}

func (r *runner) run() {
	ctx := r.trace.Ctx()
	r.hive.Start(ctx)
	for {
		r.release()
		if !r.halt && ctx.Err() != nil {
			r.errs = r.errs.Append(mkerr.Wrap(mkerr.ProcessExecution, ctx.Err(),
				"plan %s cancelled", r.plan.Name,
			))
			r.halt = true
		}
		for !r.halt && r.hive.Busy() < r.hive.Bees {
			n, ok := r.queue.Pop()
			if !ok {
				break
			}
			n.queued = false
			if !n.active() || n.state != Unstarted || !r.ready(n) {
				continue
			}
			n.running = true
			r.hive.TrySchedule(n, r.runStep)
		}
		if r.hive.Busy() == 0 {
			if r.queue.Len() > 0 && !r.halt {
				continue
			}
			break
		}
		r.finish(r.hive.Respond())
	}
	if err := r.hive.Stop(); err != nil {
		r.errs = r.errs.Append(err)
	}
	if pending := r.pending(); len(pending) > 0 && !r.halt {
		r.errs = r.errs.Append(r.stuck(pending))
		for _, n := range pending {
			r.abort(n)
		}
	}
}

func (r *runner) ready(n *node) bool {
	for _, b := range r.graph.blockers(n) {
		if b.state != Done {
			return false
		}
	}
	return true
}

// release queues the nodes whose blockers are done and aborts the nodes that
// wait for a failed node.
func (r *runner) release() {
	for changed := true; changed; {
		changed = false
		for _, n := range r.graph.nodes {
			if !n.active() || n.state != Unstarted || n.queued || n.running {
				continue
			}
			ready, failed := true, false
			for _, b := range r.graph.blockers(n) {
				switch {
				case b.state == Failed:
					failed = true
				case !b.state.Finished():
					ready = false
				}
			}
			switch {
			case failed:
				r.abort(n)
				changed = true
			case ready:
				n.queued = true
				r.queue.Push(n.seq, n)
			}
		}
	}
}

func (r *runner) pending() (res []*node) {
	for _, n := range r.graph.nodes {
		if n.active() && n.state == Unstarted {
			res = append(res, n)
		}
	}
	return res
}

// stuck explains why no pending node became ready. The pending nodes must
// contain a cycle.
func (r *runner) stuck(pending []*node) error {
	requires := func(n *node) (res []ingred.PlanKey) {
		for _, b := range r.graph.blockers(n) {
			if b.state == Unstarted {
				res = append(res, b.step.Key())
			}
		}
		return res
	}
	provides := func(n *node) []ingred.PlanKey {
		return []ingred.PlanKey{n.step.Key()}
	}
	_, err := topo.Sort(pending, requires, provides)
	var cyc *topo.CyclicRequirement
	if errors.As(err, &cyc) {
		return mkerr.Wrap(mkerr.Invariant, cyc, "plan %s", r.plan.Name)
	}
	return mkerr.New(mkerr.Invariant, "plan %s: %d steps never became ready",
		r.plan.Name,
		len(pending),
	)
}

func (r *runner) runStep(_ context.Context, n *node) error {
	s := n.step
	tr := r.trace.pushStep(s)
	n.trace = tr
	tr.checkStep(s)
	if err := s.ProcessInputs(tr); err != nil {
		return err
	}
	prior, err := r.loadSnapshot(tr, s.Key())
	if err != nil {
		return err
	}
	changed, err := s.HasChangedInputs(tr, prior)
	if err != nil {
		return err
	}
	if changed {
		start := time.Now()
		if err := s.Execute(tr); err != nil {
			return err
		}
		snap, err := s.StateVector()
		if err != nil {
			return err
		}
		if err := r.saveSnapshot(snap); err != nil {
			return err
		}
		n.out.executed = true
		n.out.dt = time.Since(start)
		tr.stepExecuted(s, n.out.dt)
	} else {
		if err := s.Skip(tr, prior); err != nil {
			return err
		}
		tr.stepSkipped(s)
	}
	n.out.rewrite, err = s.RebuildFollowers(tr)
	return err
}

func (r *runner) finish(res bees.Response[*node]) {
	n := res.Job
	n.running = false
	if res.Err != nil {
		r.fail(n, res.Err)
		return
	}
	if n.out.executed {
		r.stats.Executed++
		r.transit(n, Executed)
	} else {
		r.stats.Skipped++
		r.transit(n, Skipped)
	}
	r.transit(n, FollowersFinalized)
	if rw := n.out.rewrite; rw.Replaces() {
		r.splice(n, rw.Followers())
	}
	r.transit(n, Done)
}

func (r *runner) transit(n *node, to State) {
	st, err := n.state.Next(to)
	if err != nil {
		r.errs = r.errs.Append(err)
		r.halt = true
		return
	}
	n.state = st
}

func (r *runner) fail(n *node, err error) {
	r.stats.Failed++
	tr := n.trace
	if tr == nil {
		tr = r.trace
	}
	tr.stepFailed(n.step, err)
	if _, ok := mkerr.KindOf(err); !ok {
		err = mkerr.WithStackTrace(fmt.Errorf("step %s: %w", n, err))
	}
	r.errs = r.errs.Append(err)
	if mkerr.IsKind(err, mkerr.Invariant) {
		r.halt = true
	}
	r.transit(n, Failed)
}

func (r *runner) abort(n *node) {
	r.stats.Aborted++
	r.transit(n, Failed)
}

// splice replaces the followers of n. New steps join the run. Old followers
// that are no longer reachable are dropped.
func (r *runner) splice(n *node, fs []Step) {
	old := n.followers
	known := len(r.graph.nodes)
	var rebound []*node
	n.followers = nil
	for _, f := range fs {
		fn := r.graph.byKey[f.Key()]
		if fn != nil && fn.step != f && fn.state == Unstarted && !fn.running {
			r.graph.rebind(fn, f)
			rebound = append(rebound, fn)
		} else {
			fn = r.graph.add(f)
		}
		fn.dropped = false
		if !slices.Contains(n.followers, fn) {
			n.followers = append(n.followers, fn)
		}
	}
	if added := append(rebound, r.graph.nodes[known:]...); len(added) > 0 {
		if errs := r.claims.check(added); errs.Len() > 0 {
			r.errs = r.errs.Append(errs)
			for _, a := range added {
				if a.state == Unstarted {
					r.abort(a)
				}
			}
		}
	}
	for _, o := range old {
		if !slices.Contains(n.followers, o) {
			r.graph.dropOrphan(o)
		}
	}
	n.trace.followersChanged(n.step, len(n.followers))
}

func snapshotLocation(k ingred.PlanKey) string { return "step/" + string(k) }

// LoadSnapshot reads the snapshot of the step with key k from st. It
// returns nil if there is none.
func LoadSnapshot(st ingred.ByteStore, k ingred.PlanKey) (*Snapshot, error) {
	data, ok, err := st.Read(snapshotLocation(k))
	switch {
	case err != nil:
		return nil, mkerr.Wrap(mkerr.IO, err, "read snapshot of %s", k)
	case !ok:
		return nil, nil
	}
	snap := new(Snapshot)
	if err := ingred.DecodeStrict(data, snap); err != nil {
		return nil, mkerr.Wrap(mkerr.IO, err, "decode snapshot of %s", k)
	}
	return snap, nil
}

// SaveSnapshot writes snap to st unless snap is nil.
func SaveSnapshot(st ingred.ByteStore, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return mkerr.Wrap(mkerr.Invariant, err, "encode snapshot of %s", snap.Key)
	}
	if err := st.Write(snapshotLocation(snap.Key), data); err != nil {
		return mkerr.Wrap(mkerr.IO, err, "write snapshot of %s", snap.Key)
	}
	return nil
}

func (r *runner) loadSnapshot(tr *Trace, k ingred.PlanKey) (*Snapshot, error) {
	if r.plan.Store == nil {
		return nil, nil
	}
	snap, err := LoadSnapshot(r.plan.Store, k)
	if err != nil || snap == nil {
		return nil, err
	}
	if snap.Key != k {
		tr.Warn("ignore snapshot of `other` for `step`", `other`, snap.Key, `step`, k)
		return nil, nil
	}
	return snap, nil
}

func (r *runner) saveSnapshot(snap *Snapshot) error {
	if r.plan.Store == nil {
		return nil
	}
	return SaveSnapshot(r.plan.Store, snap)
}
