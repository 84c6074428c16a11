package jsdeps

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/config"
	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
	"git.fractalqb.de/fractalqb/mkplan/plankore"
	"git.fractalqb.de/fractalqb/mkplan/procrun"
)

// Kinds of the plan keys of script steps.
const (
	KindDepInfo  = "js-depinfo"
	KindDepGraph = "js-depgraph"
	KindCompile  = "js-compile"
)

const (
	CatSources plankore.Category = "js-src"
	CatDepInfo plankore.Category = "js-depinfo"
	CatModules plankore.Category = "js-modules"
	CatOutput  plankore.Category = "js-out"
)

// RegisterKinds reserves the step kinds of this package in p.
func RegisterKinds(p *ingred.Pool) error {
	for _, k := range []string{KindDepInfo, KindDepGraph, KindCompile} {
		if err := p.RegisterKind(k, "jsdeps"); err != nil {
			return err
		}
	}
	return nil
}

// Options is the pooled configuration of a script bundle.
type Options = *ingred.OptionsSnapshot[config.JsOptions]

// DepInfoLocation is where the dep-info of a script bundle is persisted.
func DepInfoLocation(id string) string { return "js/depinfo/" + id }

// DepInfoStep extracts the dep-info of all sources of a file set. Entries of
// unchanged sources are taken from the persisted dep-info.
type DepInfoStep struct {
	plankore.StepBase
	Files *ingred.FileSet
	Infos *ingred.PersistedObject[Infos]
	// Number of sources scanned in parallel, all CPUs if < 1
	Jobs int
}

func NewDepInfoStep(
	opts Options,
	files *ingred.FileSet,
	infos *ingred.PersistedObject[Infos],
	next ...plankore.Step,
) *DepInfoStep {
	return &DepInfoStep{
		StepBase: plankore.StepBase{
			StepKey:   ingred.MakeKey(KindDepInfo, opts.ID()),
			In:        []ingred.Ingredient{files},
			ReadCats:  []plankore.Category{CatSources},
			WriteCats: []plankore.Category{CatDepInfo},
			Next:      next,
		},
		Files: files,
		Infos: infos,
	}
}

// ProcessInputs resolves the file set if nobody did so before. File sets
// are pooled, so steps of other blocks may share the set.
func (s *DepInfoStep) ProcessInputs(tr *plankore.Trace) error {
	if err := s.Files.Ensure(tr.Ctx()); err != nil {
		return err
	}
	return s.StepBase.ProcessInputs(tr)
}

// HasChangedInputs also reports a change if the persisted dep-info is gone.
func (s *DepInfoStep) HasChangedInputs(tr *plankore.Trace, prior *plankore.Snapshot) (bool, error) {
	if changed, err := s.StepBase.HasChangedInputs(tr, prior); changed || err != nil {
		return changed, err
	}
	ok, err := s.Infos.Read()
	switch {
	case err != nil:
		tr.Warn("cannot read `dep-info`: `error`", `dep-info`, s.Infos.Location(), `error`, err)
		return true, nil
	case !ok:
		tr.Info("no stored `dep-info`", `dep-info`, s.Infos.Location())
		return true, nil
	}
	return false, nil
}

func (s *DepInfoStep) Execute(tr *plankore.Trace) error {
	if _, ok := s.Infos.Get(); !ok {
		if _, err := s.Infos.Read(); err != nil {
			tr.Warn("ignore stored `dep-info`: `error`", `dep-info`, s.Infos.Location(), `error`, err)
		}
	}
	prior, _ := s.Infos.Get()
	srcs, err := s.Files.Sources()
	if err != nil {
		return mkerr.Wrap(mkerr.Resolution, err, "")
	}
	infos, reused, err := UpdateFromSources(tr.Ctx(), prior, srcs, s.Jobs)
	if err != nil {
		return err
	}
	s.Infos.Set(infos)
	if err := s.Infos.Write(); err != nil {
		return err
	}
	tr.Info("dep-info of `sources` sources, `reused` unchanged",
		`sources`, len(srcs),
		`reused`, reused,
	)
	return nil
}

// DepGraphStep partitions the sources into modules. Its follower is the
// [CompileStep] for the current modules.
type DepGraphStep struct {
	plankore.StepBase
	Options Options
	Files   *ingred.FileSet
	Infos   *ingred.PersistedObject[Infos]
	// Used to create the compile step
	Pool *ingred.Pool
	Env  *procrun.Env

	modules Modules
}

func NewDepGraphStep(
	pool *ingred.Pool,
	opts Options,
	files *ingred.FileSet,
	infos *ingred.PersistedObject[Infos],
) *DepGraphStep {
	return &DepGraphStep{
		StepBase: plankore.StepBase{
			StepKey:   ingred.MakeKey(KindDepGraph, opts.ID()),
			In:        []ingred.Ingredient{opts, infos},
			ReadCats:  []plankore.Category{CatDepInfo},
			WriteCats: []plankore.Category{CatModules},
		},
		Options: opts,
		Files:   files,
		Infos:   infos,
		Pool:    pool,
	}
}

func (s *DepGraphStep) Modules() Modules { return s.modules }

// Reconstitute creates the compile step for the modules of the last
// successful run found in st. Without such state the step has no follower
// until RebuildFollowers adds one.
func (s *DepGraphStep) Reconstitute(st ingred.ByteStore) error {
	if st == nil {
		return nil
	}
	snap, err := plankore.LoadSnapshot(st, s.StepKey)
	if err != nil || snap == nil || snap.Key != s.StepKey {
		return err
	}
	var mods Modules
	if err := snap.Decode(&mods); err != nil {
		return nil
	}
	c, err := NewCompileStep(s.Pool, s.Options, mods, s.Env)
	if err != nil {
		return err
	}
	s.Next = []plankore.Step{c}
	return nil
}

func (s *DepGraphStep) ProcessInputs(tr *plankore.Trace) error {
	if err := s.StepBase.ProcessInputs(tr); err != nil {
		return err
	}
	infos, ok := s.Infos.Get()
	if !ok {
		return mkerr.New(mkerr.Invariant, "%s without dep-info", s.StepKey)
	}
	srcs, err := s.Files.Sources()
	if err != nil {
		return mkerr.Wrap(mkerr.Resolution, err, "")
	}
	s.modules, err = Partition(tr, srcs, infos)
	if err != nil {
		return mkerr.Wrap(mkerr.Resolution, err, "js %s", s.Options.ID())
	}
	return nil
}

// Execute has nothing to do because the modules are computed while
// processing the inputs.
func (s *DepGraphStep) Execute(tr *plankore.Trace) error {
	tr.Info("`modules` modules", `modules`, strings.Join(s.modules.Names(), " "))
	return nil
}

func (s *DepGraphStep) StateVector() (*plankore.Snapshot, error) {
	return s.SnapshotWith(s.modules)
}

// RebuildFollowers keeps the compile step if it compiles the current modules
// with the current options.
func (s *DepGraphStep) RebuildFollowers(tr *plankore.Trace) (plankore.Rewrite, error) {
	h, err := s.modules.Hash()
	if err != nil {
		return plankore.Unchanged, mkerr.Wrap(mkerr.Invariant, err, "hash modules")
	}
	if len(s.Next) == 1 {
		if c, ok := s.Next[0].(*CompileStep); ok && c.modHash == h && sameHash(c.Options, s.Options) {
			return plankore.Unchanged, nil
		}
	}
	c, err := NewCompileStep(s.Pool, s.Options, s.modules, s.Env)
	if err != nil {
		return plankore.Unchanged, err
	}
	s.Next = []plankore.Step{c}
	tr.Debug("new compile step for `modules`", `modules`, h.Short())
	return plankore.Replace(c), nil
}

func sameHash(a, b ingred.Ingredient) bool {
	ha, aok, aerr := ingred.HashOf(a)
	hb, bok, berr := ingred.HashOf(b)
	return aok && bok && aerr == nil && berr == nil && ha == hb
}

// CompileStep runs the compiler over all modules.
type CompileStep struct {
	plankore.StepBase
	Options Options
	Modules Modules
	Env     *procrun.Env

	modHash chash.Hash
}

var _ plankore.OutputStep = (*CompileStep)(nil)

func NewCompileStep(pool *ingred.Pool, opts Options, mods Modules, env *procrun.Env) (*CompileStep, error) {
	h, err := mods.Hash()
	if err != nil {
		return nil, mkerr.Wrap(mkerr.Invariant, err, "hash modules")
	}
	hv, err := pool.StringValue(h.String())
	if err != nil {
		return nil, err
	}
	in := []ingred.Ingredient{opts, hv}
	for _, m := range mods {
		for _, src := range m.Sources {
			f, err := pool.File(src.Path)
			if err != nil {
				return nil, err
			}
			in = append(in, f)
		}
	}
	return &CompileStep{
		StepBase: plankore.StepBase{
			StepKey:   ingred.MakeKey(KindCompile, opts.ID()),
			In:        in,
			ReadCats:  []plankore.Category{CatModules},
			WriteCats: []plankore.Category{CatOutput},
		},
		Options: opts,
		Modules: mods,
		Env:     env,
		modHash: h,
	}, nil
}

// Outputs are one file per module in the output directory.
func (c *CompileStep) Outputs() []string {
	dir := c.Options.Value().Output
	res := make([]string, len(c.Modules))
	for i, m := range c.Modules {
		res[i] = filepath.Join(dir, m.Name+".js")
	}
	return res
}

// Args returns the compiler arguments following the configured compiler
// command.
func (c *CompileStep) Args() []string {
	opts := c.Options.Value()
	args := slices.Concat(opts.Compiler[1:], opts.Flags)
	args = append(args,
		"--module_output_path_prefix",
		opts.Output+string(filepath.Separator),
	)
	for _, m := range c.Modules {
		for _, src := range m.Sources {
			args = append(args, "--js", src.Path)
		}
		modArg := fmt.Sprintf("%s:%d", m.Name, len(m.Sources))
		if len(m.Deps) > 0 {
			modArg += ":" + strings.Join(m.Deps, ",")
		}
		args = append(args, "--module", modArg)
	}
	return args
}

// HasChangedInputs also reports a change if an output file is missing.
func (c *CompileStep) HasChangedInputs(tr *plankore.Trace, prior *plankore.Snapshot) (bool, error) {
	if changed, err := c.StepBase.HasChangedInputs(tr, prior); changed || err != nil {
		return changed, err
	}
	for _, out := range c.Outputs() {
		switch ok, err := mkfs.Exists(out); {
		case err != nil:
			return false, mkerr.Wrap(mkerr.IO, err, "check output")
		case !ok:
			tr.Info("missing `output`", `output`, out)
			return true, nil
		}
	}
	return false, nil
}

func (c *CompileStep) Execute(tr *plankore.Trace) error {
	if len(c.Modules) == 0 {
		tr.Info("no modules to compile")
		return nil
	}
	opts := c.Options.Value()
	if err := os.MkdirAll(opts.Output, 0777); err != nil {
		return mkerr.Wrap(mkerr.IO, err, "output of js %s", opts.ID)
	}
	cmd := procrun.Cmd{
		Exe:     opts.Compiler[0],
		Args:    c.Args(),
		Timeout: opts.CompileTimeout(),
		Desc:    "compile js " + opts.ID,
	}
	env := c.Env
	if env == nil {
		env = procrun.DefaultEnv(func(e string) {
			tr.Warn("ignore malformed environment `entry`", `entry`, e)
		})
	}
	ptr := tr.Push(&cmd)
	ptr.Info("run `command` with `modules` modules", `command`, cmd.String(), `modules`, len(c.Modules))
	return procrun.RunCmd(tr.Ctx(), env.Prefixed(opts.ID+"| "), cmd)
}
