package mkplan

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.fractalqb.de/fractalqb/sllm/v3"

	"git.fractalqb.de/fractalqb/mkplan/plankore"
)

// WriteTracer writes one line per event to W. Lines start with the run
// number and the tag of the traced object, e.g. "3@[7]".
type WriteTracer struct {
	W   io.Writer
	Log plankore.TraceLog

	mu sync.Mutex
}

var _ plankore.Tracer = (*WriteTracer)(nil)

func DefaultTracer() *WriteTracer {
	return &WriteTracer{W: os.Stderr, Log: plankore.DefaultTraceLog}
}

func (tr *WriteTracer) ParseLogFlag(f string) error {
	switch f {
	case "":
		return nil
	case "off":
		tr.Log = 0
	case "warn", "w":
		tr.Log = plankore.TraceWarn
	case "info", "i":
		tr.Log = plankore.TraceWarn | plankore.TraceInfo
	case "debug", "d":
		tr.Log = plankore.TraceWarn | plankore.TraceInfo | plankore.TraceDebug
	default:
		return fmt.Errorf("write tracer: illegal log flag '%s'", f)
	}
	return nil
}

func (tr *WriteTracer) Debug(t *plankore.Trace, msg string, args ...any) {
	if tr.Log&plankore.TraceDebug == 0 {
		return
	}
	tr.message(t, "DEBUG", msg, args)
}

func (tr *WriteTracer) Info(t *plankore.Trace, msg string, args ...any) {
	if tr.Log&(plankore.TraceInfo|plankore.TraceDebug) == 0 {
		return
	}
	tr.message(t, "INFO ", msg, args)
}

func (tr *WriteTracer) Warn(t *plankore.Trace, msg string, args ...any) {
	if tr.Log&(plankore.TraceWarn|plankore.TraceInfo|plankore.TraceDebug) == 0 {
		return
	}
	tr.message(t, "WARN ", msg, args)
}

func (tr *WriteTracer) message(t *plankore.Trace, level, msg string, args []any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	fmt.Fprintf(tr.W, "%d@%s\t  %s ", t.Run(), t.TopTag(), level)
	sllm.Fprint(tr.W, msg, sllmArgs(args).append)
	fmt.Fprintln(tr.W)
}

func (tr *WriteTracer) printf(t *plankore.Trace, format string, args ...any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	fmt.Fprintf(tr.W, "%d@%s\t", t.Run(), t.TopTag())
	fmt.Fprintf(tr.W, format, args...)
	fmt.Fprintln(tr.W)
}

func (tr *WriteTracer) logSteps() bool {
	return tr.Log&(plankore.TraceWarn|plankore.TraceInfo|plankore.TraceDebug) != 0
}

func (tr *WriteTracer) logDetails() bool {
	return tr.Log&(plankore.TraceInfo|plankore.TraceDebug) != 0
}

func (tr *WriteTracer) StartPlan(t *plankore.Trace, p *plankore.Plan) {
	tr.printf(t, "{ run plan '%s'", p)
}

func (tr *WriteTracer) DonePlan(t *plankore.Trace, p *plankore.Plan, s plankore.Stats, dt time.Duration) {
	tr.printf(t, "} plan '%s' took %s: %d executed, %d skipped, %d failed, %d aborted",
		p,
		dt,
		s.Executed,
		s.Skipped,
		s.Failed,
		s.Aborted,
	)
}

func (tr *WriteTracer) CheckStep(t *plankore.Trace, s plankore.Step) {
	if tr.Log&plankore.TraceDebug != 0 {
		tr.printf(t, "? [%s] %s", s.Key(), t.Path())
	}
}

func (tr *WriteTracer) StepSkipped(t *plankore.Trace, s plankore.Step) {
	if tr.logDetails() {
		tr.printf(t, "= [%s] up to date", s.Key())
	}
}

func (tr *WriteTracer) StepExecuted(t *plankore.Trace, s plankore.Step, dt time.Duration) {
	if tr.logSteps() {
		tr.printf(t, "+ [%s] took %s", s.Key(), dt)
	}
}

func (tr *WriteTracer) StepFailed(t *plankore.Trace, s plankore.Step, err error) {
	tr.printf(t, "↯ [%s] %s", s.Key(), err)
}

func (tr *WriteTracer) FollowersChanged(t *plankore.Trace, s plankore.Step, n int) {
	if tr.logDetails() {
		tr.printf(t, "> [%s] now has %d followers", s.Key(), n)
	}
}

type sllmArgs []any

func (as sllmArgs) append(buf []byte, _ int, n string) ([]byte, error) {
	for len(as) > 0 {
		switch k := as[0].(type) {
		case string:
			if len(as) == 1 {
				return buf, fmt.Errorf("no value for key '%s'", n)
			}
			if k == n {
				return sllm.AppendArg(buf, as[1]), nil
			}
			as = as[2:]
		case slog.Attr:
			if k.Key == n {
				return sllm.AppendArg(buf, k.Value), nil
			}
			as = as[1:]
		default:
			return buf, fmt.Errorf("illegal key type %T", k)
		}
	}
	return buf, fmt.Errorf("no key '%s'", n)
}
