// Package config loads planner configurations from HCL files.
//
//	state = "build/.mkplan"
//	jobs  = 4
//
//	js "app" {
//	  compiler = ["java", "-jar", env.CLOSURE_JAR]
//	  output   = "build/js"
//	  source "src/main/js" {}
//	  source "src/test/js" { test_only = true }
//	  source "third_party/closure" { load_as_needed = true }
//	}
//
// Relative paths are relative to the directory of the configuration file.
// Environment variables are available as env.<NAME>.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
)

// DefaultState is the state directory if the configuration has none.
const DefaultState = ".mkplan"

type Config struct {
	State string      `hcl:"state,optional"`
	Jobs  int         `hcl:"jobs,optional"`
	Js    []JsOptions `hcl:"js,block"`

	// Directory of the configuration file
	Dir string
}

// JsOptions configure the compilation of one set of script sources.
type JsOptions struct {
	ID       string   `hcl:"id,label" json:"id"`
	Compiler []string `hcl:"compiler" json:"compiler"`
	Output   string   `hcl:"output" json:"output"`
	Flags    []string `hcl:"flags,optional" json:"flags,omitempty"`
	Timeout  string   `hcl:"timeout,optional" json:"timeout,omitempty"`
	Include  []string `hcl:"include,optional" json:"include,omitempty"`
	Exclude  []string `hcl:"exclude,optional" json:"exclude,omitempty"`

	Sources []SourceRoot `hcl:"source,block" json:"sources"`
}

type SourceRoot struct {
	Dir          string `hcl:"dir,label" json:"dir"`
	TestOnly     bool   `hcl:"test_only,optional" json:"testOnly,omitempty"`
	LoadAsNeeded bool   `hcl:"load_as_needed,optional" json:"loadAsNeeded,omitempty"`
}

func (JsOptions) OptionsKind() string { return "js" }

func (o JsOptions) OptionsID() string { return o.ID }

// CompileTimeout is zero if no timeout is configured.
func (o JsOptions) CompileTimeout() time.Duration {
	d, _ := time.ParseDuration(o.Timeout)
	return d
}

// Scanner returns the directory scan for the script sources.
func (o JsOptions) Scanner() (mkfs.DirScan, error) {
	scan := mkfs.DirScan{
		Include: o.Include,
		Exclude: o.Exclude,
		Ext:     ".js",
	}
	for _, src := range o.Sources {
		var tags mkfs.Tags
		if src.TestOnly {
			tags |= mkfs.TestOnly
		}
		if src.LoadAsNeeded {
			tags |= mkfs.LoadAsNeeded
		}
		root, err := mkfs.NewRoot(src.Dir, tags)
		if err != nil {
			return scan, mkerr.Wrap(mkerr.Configuration, err, "source root of js %s", o.ID)
		}
		scan.Roots = append(scan.Roots, root)
	}
	return scan, nil
}

// Load reads the configuration from the HCL file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "read configuration")
	}
	return Parse(src, path)
}

// Parse decodes src. filename is used for diagnostics and to resolve
// relative paths.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, mkerr.Wrap(mkerr.Configuration, diags, "parse %s", filename)
	}
	cfg := new(Config)
	diags = gohcl.DecodeBody(file.Body, EvalContext(), cfg)
	if diags.HasErrors() {
		return nil, mkerr.Wrap(mkerr.Configuration, diags, "decode %s", filename)
	}
	dir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "directory of %s", filename)
	}
	cfg.Dir = dir
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EvalContext provides the process environment as env.<NAME>.
func EvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok && hclsyntax.ValidIdentifier(k) {
			vars[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func (cfg *Config) resolve() error {
	var errs *mkerr.MultiError
	if cfg.State == "" {
		cfg.State = DefaultState
	}
	cfg.State = cfg.path(cfg.State)
	if cfg.Jobs < 0 {
		errs = errs.Append(mkerr.New(mkerr.Configuration, "negative jobs %d", cfg.Jobs))
	}
	ids := make(map[string]bool)
	for i := range cfg.Js {
		js := &cfg.Js[i]
		switch {
		case js.ID == "":
			errs = errs.Append(mkerr.New(mkerr.Configuration, "js block without id"))
		case ids[js.ID]:
			errs = errs.Append(mkerr.New(mkerr.Configuration, "duplicate js block %s", js.ID))
		}
		ids[js.ID] = true
		if len(js.Compiler) == 0 || js.Compiler[0] == "" {
			errs = errs.Append(mkerr.New(mkerr.Configuration, "js %s: no compiler", js.ID))
		}
		if js.Output == "" {
			errs = errs.Append(mkerr.New(mkerr.Configuration, "js %s: no output", js.ID))
		}
		js.Output = cfg.path(js.Output)
		if js.Timeout != "" {
			if d, err := time.ParseDuration(js.Timeout); err != nil || d <= 0 {
				errs = errs.Append(mkerr.New(mkerr.Configuration,
					"js %s: illegal timeout '%s'", js.ID, js.Timeout,
				))
			}
		}
		if len(js.Sources) == 0 {
			errs = errs.Append(mkerr.New(mkerr.Configuration, "js %s: no sources", js.ID))
		}
		for j := range js.Sources {
			js.Sources[j].Dir = cfg.path(js.Sources[j].Dir)
		}
		if err := mkfs.CheckGlobs(slices.Concat(js.Include, js.Exclude)...); err != nil {
			errs = errs.Append(mkerr.Wrap(mkerr.Configuration, err, "js %s", js.ID))
		}
	}
	return errs.ErrorOrNil()
}

func (cfg *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Dir, filepath.FromSlash(p))
}
