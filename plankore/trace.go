package plankore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Tracer receives the events of plan runs. Implementations must be safe for
// concurrent use because steps run in parallel.
type Tracer interface {
	Debug(t *Trace, msg string, args ...any)
	Info(t *Trace, msg string, args ...any)
	Warn(t *Trace, msg string, args ...any)

	StartPlan(t *Trace, p *Plan)
	DonePlan(t *Trace, p *Plan, s Stats, dt time.Duration)

	CheckStep(t *Trace, s Step)
	StepSkipped(t *Trace, s Step)
	StepExecuted(t *Trace, s Step, dt time.Duration)
	StepFailed(t *Trace, s Step, err error)
	FollowersChanged(t *Trace, s Step, n int)
}

type TraceLog int

var DefaultTraceLog TraceLog = TraceWarn

const (
	TraceWarn TraceLog = (1 << iota)
	TraceInfo
	TraceDebug
)

// Trace is passed to every step callback. It carries the context of the run
// and the path of nested objects the current callback works on.
type Trace struct {
	root *traceRoot
	up   *Trace
	obj  any
	id   uint64
}

func NewTrace(ctx context.Context, t Tracer) *Trace {
	root := &traceRoot{ctx: ctx, tr: t}
	return &Trace{root: root}
}

func (t *Trace) Ctx() context.Context { return t.root.ctx }

func (t *Trace) Debug(msg string, args ...any) { t.root.tr.Debug(t, msg, args...) }
func (t *Trace) Info(msg string, args ...any)  { t.root.tr.Info(t, msg, args...) }
func (t *Trace) Warn(msg string, args ...any)  { t.root.tr.Warn(t, msg, args...) }

func (t *Trace) startPlan(p *Plan) {
	t.root.run.Store(p.lastRun.Load())
	t.root.tr.StartPlan(t, p)
}

func (t *Trace) donePlan(p *Plan, s Stats, dt time.Duration) {
	t.root.tr.DonePlan(t, p, s, dt)
}

func (t *Trace) checkStep(s Step)                     { t.root.tr.CheckStep(t, s) }
func (t *Trace) stepSkipped(s Step)                   { t.root.tr.StepSkipped(t, s) }
func (t *Trace) stepExecuted(s Step, dt time.Duration) { t.root.tr.StepExecuted(t, s, dt) }
func (t *Trace) stepFailed(s Step, err error)         { t.root.tr.StepFailed(t, s, err) }
func (t *Trace) followersChanged(s Step, n int)       { t.root.tr.FollowersChanged(t, s, n) }

// Run returns the number of the plan run the trace belongs to. It is zero
// outside of runs.
func (t *Trace) Run() uint64 {
	if t.root == nil {
		return 0
	}
	return t.root.run.Load()
}

func (t *Trace) TopID() uint64 { return t.id }

func (t *Trace) TopTag() string {
	switch t.obj.(type) {
	case Step:
		return fmt.Sprintf("[%d]", t.id)
	case *Plan:
		return fmt.Sprintf("{%d}", t.id)
	case nil:
		return ""
	}
	return fmt.Sprintf("(%d)", t.id)
}

// TopStep returns the step the trace is currently in or nil.
func (t *Trace) TopStep() Step {
	for ; t != nil; t = t.up {
		if s, ok := t.obj.(Step); ok {
			return s
		}
	}
	return nil
}

func (t *Trace) Path() string {
	var sb strings.Builder
	sb.WriteByte('<')
	for ; t != nil; t = t.up {
		sb.WriteString(t.TopTag())
	}
	sb.WriteByte('>')
	return sb.String()
}

func (t *Trace) String() string {
	return fmt.Sprintf("%d@%s", t.Run(), t.Path())
}

// Push returns a sub-trace for obj, e.g. an external process started by a
// step.
func (t *Trace) Push(obj any) *Trace {
	return &Trace{
		root: t.root,
		up:   t,
		obj:  obj,
		id:   t.root.idSeq.Add(1),
	}
}

func (t *Trace) pushPlan(p *Plan) *Trace { return t.Push(p) }

func (t *Trace) pushStep(s Step) *Trace { return t.Push(s) }

type traceRoot struct {
	ctx   context.Context
	tr    Tracer
	run   atomic.Uint64
	idSeq atomic.Uint64
}
