// Package topo sorts items by the symbols they require and provide. The order
// is deterministic: of all items that are ready, the one that comes first in
// the input is taken next.
package topo

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// MissingRequirement is reported for each required symbol without provider.
type MissingRequirement struct {
	Item   string
	Symbol string
}

func (e *MissingRequirement) Error() string {
	return fmt.Sprintf("missing requirement: %s requires %s which is provided by nothing",
		e.Item,
		e.Symbol,
	)
}

// CyclicRequirement reports items that require each other. Cycle starts and
// ends with the same item.
type CyclicRequirement struct {
	Cycle []string
}

func (e *CyclicRequirement) Error() string {
	return "cyclic requirement: " + strings.Join(e.Cycle, " -> ")
}

// Result of a successful sort.
type Result[I comparable] struct {
	items []I
	order []int
	pos   map[I]int
	deps  []*bitset.BitSet
}

// Sorted returns the items such that every item comes after all items that
// provide what it requires.
func (r *Result[I]) Sorted() []I {
	res := make([]I, len(r.order))
	for i, idx := range r.order {
		res[i] = r.items[idx]
	}
	return res
}

// Deps returns the transitive dependencies of item in sorted order.
func (r *Result[I]) Deps(item I) []I {
	idx, ok := r.pos[item]
	if !ok {
		return nil
	}
	ds := r.deps[idx]
	res := make([]I, 0, ds.Count())
	for _, o := range r.order {
		if ds.Test(uint(o)) {
			res = append(res, r.items[o])
		}
	}
	return res
}

// Sort orders items. All missing requirements and a cycle, if any, are
// reported together as resolution errors. Items are named in diagnostics with
// fmt's %v verb.
func Sort[I comparable, S comparable](
	items []I,
	requires func(I) []S,
	provides func(I) []S,
) (*Result[I], error) {
	n := len(items)
	pos := make(map[I]int, n)
	for i, it := range items {
		if _, dup := pos[it]; dup {
			return nil, mkerr.New(mkerr.Invariant, "duplicate item %v in topological sort", it)
		}
		pos[it] = i
	}
	providers := make(map[S][]int)
	provSets := make([]map[S]bool, n)
	for i, it := range items {
		ps := provides(it)
		provSets[i] = make(map[S]bool, len(ps))
		for _, s := range ps {
			if provSets[i][s] {
				continue
			}
			provSets[i][s] = true
			providers[s] = append(providers[s], i)
		}
	}

	var errs *mkerr.MultiError
	outgoing := make([][]int, n)
	indeg := make([]int, n)
	for i, it := range items {
		direct := bitset.New(uint(n))
		for _, s := range requires(it) {
			if provSets[i][s] {
				continue
			}
			ps := providers[s]
			if len(ps) == 0 {
				errs = errs.Append(mkerr.Wrap(mkerr.Resolution, &MissingRequirement{
					Item:   fmt.Sprint(it),
					Symbol: fmt.Sprint(s),
				}, ""))
				continue
			}
			for _, p := range ps {
				if direct.Test(uint(p)) {
					continue
				}
				direct.Set(uint(p))
				outgoing[p] = append(outgoing[p], i)
				indeg[i]++
			}
		}
	}

	order := kahn(outgoing, indeg)
	if len(order) < n {
		errs = errs.Append(mkerr.Wrap(mkerr.Resolution, &CyclicRequirement{
			Cycle: findCycle(items, outgoing, order),
		}, ""))
	}
	if err := errs.ErrorOrNil(); err != nil {
		if errs.Len() == 1 {
			return nil, errs.WrappedErrors()[0]
		}
		return nil, err
	}

	res := &Result[I]{items: items, order: order, pos: pos, deps: make([]*bitset.BitSet, n)}
	incoming := make([][]int, n)
	for p, outs := range outgoing {
		for _, i := range outs {
			incoming[i] = append(incoming[i], p)
		}
	}
	for _, i := range order {
		ds := bitset.New(uint(n))
		for _, p := range incoming[i] {
			ds.Set(uint(p))
			ds.InPlaceUnion(res.deps[p])
		}
		res.deps[i] = ds
	}
	return res, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func kahn(outgoing [][]int, indeg []int) []int {
	indeg = append([]int(nil), indeg...)
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		out = append(out, i)
		for _, j := range outgoing[i] {
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	return out
}

// findCycle runs a deterministic depth first search over the items that could
// not be ordered. Each item in the returned cycle provides for the next one.
func findCycle[I comparable](items []I, outgoing [][]int, sorted []int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	n := len(items)
	color := make([]int, n)
	for _, i := range sorted {
		color[i] = black
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := 0; i < n; i++ {
		if color[i] == white && dfs(i) {
			break
		}
	}
	res := make([]string, len(cycle))
	for i, idx := range cycle {
		res[len(cycle)-1-i] = fmt.Sprint(items[idx])
	}
	return res
}
