package plankore

import (
	"fmt"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// State of a step within one run.
type State int

const (
	Unstarted State = iota
	Skipped
	Executed
	FollowersFinalized
	Done
	// Failed is terminal. Steps that depend on a failed step end up Failed
	// without running.
	Failed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Skipped:
		return "skipped"
	case Executed:
		return "executed"
	case FollowersFinalized:
		return "followers-finalized"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state %d", int(s))
}

func (s State) Finished() bool { return s == Done || s == Failed }

var transitions = [...][]State{
	Unstarted:          {Skipped, Executed, Failed},
	Skipped:            {FollowersFinalized, Failed},
	Executed:           {FollowersFinalized, Failed},
	FollowersFinalized: {Done, Failed},
	Done:               nil,
	Failed:             nil,
}

// Next validates the transition from s to t.
func (s State) Next(t State) (State, error) {
	if int(s) >= 0 && int(s) < len(transitions) {
		for _, ok := range transitions[s] {
			if ok == t {
				return t, nil
			}
		}
	}
	return s, mkerr.New(mkerr.Invariant, "illegal step transition %s -> %s", s, t)
}
