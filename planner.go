package mkplan

import (
	"context"
	"io"

	"git.fractalqb.de/fractalqb/mkplan/config"
	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/jsdeps"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/plankore"
	"git.fractalqb.de/fractalqb/mkplan/procrun"
	"git.fractalqb.de/fractalqb/mkplan/store"
)

// Planner builds and runs the plan of a configuration. A plan must not be
// reused because file sets are resolved only once. Incremental behaviour
// comes from the snapshots in the state directory.
type Planner struct {
	Config *config.Config
	Tracer plankore.Tracer
	// Environment of the compiler processes, the process environment if nil
	Env *procrun.Env
	// If not nil, the graph of the last run is written as DOT
	Dot io.Writer
}

func NewPlanner(cfg *config.Config, tr plankore.Tracer) *Planner {
	if tr == nil {
		tr = DefaultTracer()
	}
	return &Planner{Config: cfg, Tracer: tr}
}

// Plan creates a new plan with one dep-info step per script bundle. The
// dep-graph step follows the dep-info step. Its compile step is recreated
// from st and replaced when the modules changed.
func (p *Planner) Plan(st ingred.ByteStore) (*plankore.Plan, error) {
	pool := ingred.NewPool()
	if err := jsdeps.RegisterKinds(pool); err != nil {
		return nil, err
	}
	plan := plankore.NewPlan("mkplan", st)
	plan.Jobs = p.Config.Jobs
	for _, js := range p.Config.Js {
		opts, err := ingred.Options(pool, js)
		if err != nil {
			return nil, err
		}
		scan, err := js.Scanner()
		if err != nil {
			return nil, err
		}
		files, err := pool.FileSet(scan)
		if err != nil {
			return nil, err
		}
		infos, err := ingred.Persisted[jsdeps.Infos](pool, st, jsdeps.DepInfoLocation(js.ID))
		if err != nil {
			return nil, err
		}
		graph := jsdeps.NewDepGraphStep(pool, opts, files, infos)
		graph.Env = p.Env
		if err := graph.Reconstitute(st); err != nil {
			return nil, err
		}
		info := jsdeps.NewDepInfoStep(opts, files, infos, graph)
		info.Jobs = p.Config.Jobs
		plan.Add(info)
	}
	if err := plan.CheckOutputs(); err != nil {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "")
	}
	return plan, nil
}

// Run opens the state directory and runs a new plan. The plan is returned
// even if the run failed.
func (p *Planner) Run(ctx context.Context) (*plankore.Plan, error) {
	st, err := store.Open(p.Config.State)
	if err != nil {
		return nil, err
	}
	plan, err := p.Plan(st)
	if err != nil {
		return nil, err
	}
	err = plan.Run(plankore.NewTrace(ctx, p.Tracer))
	if p.Dot != nil {
		if _, derr := plan.WriteDot(p.Dot); derr != nil && err == nil {
			err = mkerr.Wrap(mkerr.IO, derr, "write dot")
		}
	}
	return plan, err
}
