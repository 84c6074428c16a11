// Package mkplan incrementally compiles sets of script sources that declare
// their dependencies with goog.provide, goog.module and goog.require. A
// [Planner] creates a plan of three steps for each configured script bundle:
//
//  1. js-depinfo extracts the provided and required symbols of every source.
//     Sources that did not change since the last run keep their persisted
//     dep-info.
//  2. js-depgraph partitions the sources into modules and orders them so
//     that providers come before their requirers. It replaces its follower
//     with the compile step for the current modules.
//  3. js-compile runs the configured compiler with one output file per
//     module.
//
// Each step persists a snapshot of its inputs in the state directory. A step
// is skipped when its inputs are unchanged, so running a plan twice executes
// nothing the second time.
//
// The configuration is an HCL file, see package [config]:
//
//	js "app" {
//	  compiler = ["java", "-jar", env.CLOSURE_JAR]
//	  output   = "build/js"
//	  source "src/main/js" {}
//	  source "third_party/closure" { load_as_needed = true }
//	}
//
// Sources from load_as_needed roots are compiled only if a regular source
// needs a symbol they provide. The command cmd/mkplan runs a configuration
// from the command line.
//
// [config]: https://pkg.go.dev/git.fractalqb.de/fractalqb/mkplan/config
package mkplan
