// Package plankore implements the core model of mkplan: a [Plan] of [Step]
// nodes that are brought up to date incrementally. A step persists a
// [Snapshot] of its processed inputs after it executed. In the next run the
// plan skips every step whose inputs did not change with respect to that
// snapshot. Steps with satisfied inputs run in parallel. A step can replace
// its followers once it finished, see [Rewrite]. An easy-to-use wrapper is
// provided by the [mkplan] package.
//
// [mkplan]: https://pkg.go.dev/git.fractalqb.de/fractalqb/mkplan
package plankore
