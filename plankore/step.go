package plankore

import (
	"encoding/json"
	"slices"

	"git.fractalqb.de/fractalqb/mkplan/chash"
	"git.fractalqb.de/fractalqb/mkplan/ingred"
	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// Category names a kind of intermediate result. A step that reads a category
// waits for all unfinished steps that write it.
type Category string

// Step is a build node. The plan calls ProcessInputs exactly once per run,
// then either Execute or Skip depending on HasChangedInputs and finally
// RebuildFollowers.
type Step interface {
	Key() ingred.PlanKey
	Inputs() []ingred.Ingredient
	Reads() []Category
	Writes() []Category
	Followers() []Step

	// ProcessInputs does the analysis needed to decide whether the result of
	// this run differs from the last one.
	ProcessInputs(tr *Trace) error

	// HasChangedInputs compares the processed inputs with the snapshot
	// persisted by the last successful Execute. prior is nil if there is none.
	HasChangedInputs(tr *Trace, prior *Snapshot) (bool, error)

	// Execute must yield identical outputs for identical inputs.
	Execute(tr *Trace) error

	// Skip restores the in-memory results from prior without repeating the
	// work of Execute.
	Skip(tr *Trace, prior *Snapshot) error

	// StateVector is persisted after a successful Execute.
	StateVector() (*Snapshot, error)

	RebuildFollowers(tr *Trace) (Rewrite, error)
}

// OutputStep is a step that writes files. No two steps of a plan must claim
// the same output.
type OutputStep interface {
	Step
	Outputs() []string
}

// Snapshot is the persisted state of a step.
type Snapshot struct {
	Key    ingred.PlanKey  `json:"key"`
	Inputs chash.Hash      `json:"inputs"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the step specific data of s into v.
func (s *Snapshot) Decode(v any) error {
	if len(s.Data) == 0 {
		return mkerr.New(mkerr.IO, "snapshot of %s has no data", s.Key)
	}
	if err := ingred.DecodeStrict(s.Data, v); err != nil {
		return mkerr.Wrap(mkerr.IO, err, "snapshot data of %s", s.Key)
	}
	return nil
}

// Rewrite is the result of [Step.RebuildFollowers]. The zero value is
// [Unchanged].
type Rewrite struct {
	followers []Step
	replace   bool
}

// Unchanged keeps the followers of a step.
var Unchanged Rewrite

// Replace requests the followers of a step to be replaced by fs.
func Replace(fs ...Step) Rewrite {
	return Rewrite{followers: slices.Clone(fs), replace: true}
}

func (r Rewrite) Replaces() bool { return r.replace }

func (r Rewrite) Followers() []Step { return r.followers }

// StepBase implements the common parts of a step. The processed input is the
// combined hash of all inputs. A step embedding StepBase must implement
// Execute and may override the other methods.
type StepBase struct {
	StepKey   ingred.PlanKey
	In        []ingred.Ingredient
	ReadCats  []Category
	WriteCats []Category
	Next      []Step

	inHash chash.Hash
	inOK   bool
}

func (b *StepBase) Key() ingred.PlanKey         { return b.StepKey }
func (b *StepBase) Inputs() []ingred.Ingredient { return b.In }
func (b *StepBase) Reads() []Category           { return b.ReadCats }
func (b *StepBase) Writes() []Category          { return b.WriteCats }
func (b *StepBase) Followers() []Step           { return b.Next }

// ProcessInputs hashes the inputs. If any input hash is absent the inputs
// count as changed.
func (b *StepBase) ProcessInputs(*Trace) error {
	hs := make([]chash.Hash, 0, len(b.In))
	b.inOK = false
	for _, in := range b.In {
		h, ok, err := ingred.HashOf(in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		hs = append(hs, h)
	}
	b.inHash, b.inOK = chash.Combine(hs...), true
	return nil
}

// InputHash returns the hash computed by ProcessInputs.
func (b *StepBase) InputHash() (chash.Hash, bool) { return b.inHash, b.inOK }

func (b *StepBase) HasChangedInputs(_ *Trace, prior *Snapshot) (bool, error) {
	if prior == nil || !b.inOK {
		return true, nil
	}
	return prior.Inputs != b.inHash, nil
}

func (b *StepBase) Skip(*Trace, *Snapshot) error { return nil }

func (b *StepBase) StateVector() (*Snapshot, error) {
	return b.SnapshotWith(nil)
}

// SnapshotWith creates a snapshot of the processed inputs with data as step
// specific content. data is not stored if nil. Without an input hash there
// is nothing to compare against later and the snapshot is nil.
func (b *StepBase) SnapshotWith(data any) (*Snapshot, error) {
	if !b.inOK {
		return nil, nil
	}
	snap := &Snapshot{Key: b.StepKey, Inputs: b.inHash}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, mkerr.Wrap(mkerr.Invariant, err, "encode snapshot of %s", b.StepKey)
		}
		snap.Data = raw
	}
	return snap, nil
}

func (b *StepBase) RebuildFollowers(*Trace) (Rewrite, error) { return Unchanged, nil }
