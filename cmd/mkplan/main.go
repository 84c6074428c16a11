// Command mkplan incrementally compiles the script bundles of a
// configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"git.fractalqb.de/fractalqb/mkplan"
	"git.fractalqb.de/fractalqb/mkplan/config"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/procrun"
)

func main() {
	app := &cli.App{
		Name:  "mkplan",
		Usage: "Bring compiled script bundles up to date",
		Description: `Runs the build plan of a configuration. Steps whose inputs did not change
since their last successful run are skipped.

Example:
  mkplan --config build/mkplan.hcl --log info`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "HCL configuration file",
				Value:   "mkplan.hcl",
				EnvVars: []string{"MKPLAN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "State directory, overrides the configuration",
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Usage:   "Number of parallel steps, overrides the configuration",
				Value:   -1,
			},
			&cli.StringFlag{
				Name:    "log",
				Aliases: []string{"l"},
				Usage:   "Trace level: off, warn, info or debug",
			},
			&cli.StringFlag{
				Name:  "dot",
				Usage: "Write the step graph of the run to this file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mkplan: %v\n", err)
		if os.Getenv("MKPLAN_STACK") != "" {
			fmt.Fprintln(os.Stderr, mkerr.ErrorStack(err))
		}
		os.Exit(exitCode(err))
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}
	if s := cctx.String("state"); s != "" {
		cfg.State = s
	}
	if j := cctx.Int("jobs"); j >= 0 {
		cfg.Jobs = j
	}
	tracer := mkplan.DefaultTracer()
	if err := tracer.ParseLogFlag(cctx.String("log")); err != nil {
		return mkerr.Wrap(mkerr.Configuration, err, "")
	}
	planner := mkplan.NewPlanner(cfg, tracer)
	if path := cctx.String("dot"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return mkerr.Wrap(mkerr.IO, err, "dot file")
		}
		defer f.Close()
		planner.Dot = f
	}
	ctx, intr, stop := interruptible(cctx.Context)
	defer stop()
	planner.Env = procrun.DefaultEnv(func(e string) {
		fmt.Fprintln(os.Stderr, "ignore malformed environment entry:", e)
	})
	planner.Env.Interrupts = intr
	_, err = planner.Run(ctx)
	return err
}

// interruptible closes intr on the first interrupt signal and cancels ctx
// on the second.
func interruptible(parent context.Context) (ctx context.Context, intr <-chan struct{}, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	ich := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(os.Stderr, "interrupting compilers, interrupt again to cancel")
			close(ich)
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, ich, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// exitCode is 2 for errors that do not go away by simply running again.
func exitCode(err error) int {
	k, ok := mkerr.KindOf(err)
	var multi *mkerr.MultiError
	if errors.As(err, &multi) {
		k, ok = multi.Kind()
	}
	if ok && !k.Retryable() {
		return 2
	}
	return 1
}
