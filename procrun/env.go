package procrun

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
)

// Env is the environment external processes run in: the standard streams
// and the environment variables, called tags. A sub-environment inherits the
// tags of its parent unless it sets or deletes them itself.
type Env struct {
	In       io.Reader
	Out, Err io.Writer
	// Closing Interrupts interrupts all running processes started in the
	// environment or its sub-environments.
	Interrupts <-chan struct{}

	tags   map[string]string
	delt   map[string]bool
	parent *Env
}

// DefaultEnv uses the standard streams and the environment of the current
// process. Malformed environment entries are passed to warn if not nil.
func DefaultEnv(warn func(entry string)) *Env {
	env := &Env{
		In:   os.Stdin,
		Out:  os.Stdout,
		Err:  os.Stderr,
		tags: make(map[string]string),
	}
	env.setTags(os.Environ(), warn)
	return env
}

func (e *Env) Sub() *Env {
	return &Env{
		In: e.In, Out: e.Out, Err: e.Err,
		Interrupts: e.Interrupts,
		parent:     e,
	}
}

// Prefixed returns a sub-environment that starts every line written to Out
// and Err with prefix.
func (e *Env) Prefixed(prefix string) *Env {
	sub := e.Sub()
	if e.Out != nil {
		sub.Out = NewPrefixWriterString(e.Out, prefix)
	}
	if e.Err != nil {
		sub.Err = NewPrefixWriterString(e.Err, prefix)
	}
	return sub
}

func (e *Env) Tag(key string) (string, bool) {
	for e != nil {
		if v, ok := e.tags[key]; ok {
			return v, true
		}
		if e.delt[key] {
			break
		}
		e = e.parent
	}
	return "", false
}

func (e *Env) SetTag(key, val string) {
	if e.tags == nil {
		e.tags = make(map[string]string)
	}
	e.tags[key] = val
	delete(e.delt, key)
}

// SetTags sets tags from "key=value" entries. An entry without '=' sets an
// empty value.
func (e *Env) SetTags(env ...string) { e.setTags(env, nil) }

func (e *Env) setTags(env []string, warn func(string)) {
	if e.tags == nil {
		e.tags = make(map[string]string)
	}
	for _, evar := range env {
		k, v, _ := strings.Cut(evar, "=")
		if k == "" {
			if warn != nil {
				warn(evar)
			}
			continue
		}
		e.tags[k] = v
		delete(e.delt, k)
	}
}

func (e *Env) DelTag(key string) {
	delete(e.tags, key)
	if e.parent != nil {
		if e.delt == nil {
			e.delt = make(map[string]bool)
		}
		e.delt[key] = true
	}
}

type NonXEnvKeys []string

func (e NonXEnvKeys) Error() string {
	return fmt.Sprintf("illegal exec env keys: %s", strings.Join(e, ", "))
}

func (NonXEnvKeys) Is(target error) bool {
	_, ok := target.(NonXEnvKeys)
	return ok
}

// ExecEnv returns the merged tags as sorted "key=value" entries. Keys that
// cannot be passed to a process are left out and reported as [NonXEnvKeys].
func (e *Env) ExecEnv() ([]string, error) {
	var (
		res     []string
		errKeys []string
	)
	tags := e.mergedTags()
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		switch {
		case k == "":
			errKeys = append(errKeys, `""`)
		case strings.ContainsRune(k, '='):
			errKeys = append(errKeys, k)
		default:
			res = append(res, k+"="+tags[k])
		}
	}
	if len(errKeys) > 0 {
		return res, NonXEnvKeys(errKeys)
	}
	return res, nil
}

func (e *Env) mergedTags() map[string]string {
	if e.parent == nil {
		return maps.Clone(e.tags)
	}
	mts := e.parent.mergedTags()
	if mts == nil {
		mts = make(map[string]string)
	}
	for k := range e.delt {
		delete(mts, k)
	}
	maps.Copy(mts, e.tags)
	return mts
}
