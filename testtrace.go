package mkplan

import (
	"testing"
	"time"

	"git.fractalqb.de/fractalqb/mkplan/plankore"
)

// TestTracer logs all events to the test log.
type TestTracer struct{ T testing.TB }

var _ plankore.Tracer = TestTracer{}

// TestTrace creates a trace with a [TestTracer] and the context of t.
func TestTrace(t *testing.T) *plankore.Trace {
	return plankore.NewTrace(t.Context(), TestTracer{t})
}

func (tr TestTracer) Debug(t *plankore.Trace, msg string, args ...any) {
	tr.T.Logf("mkplan-DEBUG %s: %s %v", t, msg, args)
}

func (tr TestTracer) Info(t *plankore.Trace, msg string, args ...any) {
	tr.T.Logf("mkplan-INFO %s: %s %v", t, msg, args)
}

func (tr TestTracer) Warn(t *plankore.Trace, msg string, args ...any) {
	tr.T.Logf("mkplan-WARN %s: %s %v", t, msg, args)
}

func (tr TestTracer) StartPlan(t *plankore.Trace, p *plankore.Plan) {
	tr.T.Logf("mkplan-StartPlan %s: %s", t, p)
}

func (tr TestTracer) DonePlan(t *plankore.Trace, p *plankore.Plan, s plankore.Stats, dt time.Duration) {
	tr.T.Logf("mkplan-DonePlan %s: %s %+v %s", t, p, s, dt)
}

func (tr TestTracer) CheckStep(t *plankore.Trace, s plankore.Step) {
	tr.T.Logf("mkplan-CheckStep %s: %s", t, s.Key())
}

func (tr TestTracer) StepSkipped(t *plankore.Trace, s plankore.Step) {
	tr.T.Logf("mkplan-StepSkipped %s: %s", t, s.Key())
}

func (tr TestTracer) StepExecuted(t *plankore.Trace, s plankore.Step, dt time.Duration) {
	tr.T.Logf("mkplan-StepExecuted %s: %s %s", t, s.Key(), dt)
}

func (tr TestTracer) StepFailed(t *plankore.Trace, s plankore.Step, err error) {
	tr.T.Logf("mkplan-StepFailed %s: %s %s", t, s.Key(), err)
}

func (tr TestTracer) FollowersChanged(t *plankore.Trace, s plankore.Step, n int) {
	tr.T.Logf("mkplan-FollowersChanged %s: %s %d", t, s.Key(), n)
}
