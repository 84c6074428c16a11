package plankore

import (
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
	"git.fractalqb.de/fractalqb/mkplan/mkfs"
)

// claims maps canonical output paths to the step that writes them.
type claims map[string]*node

// check adds the outputs of ns and returns one resolution error for each
// output that is already claimed by another step.
func (c claims) check(ns []*node) (errs *mkerr.MultiError) {
	for _, n := range ns {
		out, ok := n.step.(OutputStep)
		if !ok {
			continue
		}
		for _, o := range out.Outputs() {
			cp, err := mkfs.Canonical(o)
			if err != nil {
				errs = errs.Append(mkerr.Wrap(mkerr.IO, err, "output %s of %s", o, n))
				continue
			}
			switch other := c[cp]; {
			case other == nil:
				c[cp] = n
			case other != n:
				errs = errs.Append(mkerr.New(mkerr.Resolution,
					"output %s claimed by %s and %s",
					cp,
					other,
					n,
				))
			}
		}
	}
	return errs
}
