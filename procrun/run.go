// Package procrun runs external processes asynchronously. [Start] returns a
// [Run] handle, [Run.Wait] waits for the process with an explicit bound.
package procrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

// DefaultTimeout bounds [Run.Wait] if the command has no timeout.
var DefaultTimeout = 30 * time.Second

// Output of children that outlive a killed process is dropped after waitDelay.
const waitDelay = 500 * time.Millisecond

// Cmd describes an external process.
type Cmd struct {
	Exe  string
	Args []string
	// Working directory, the current directory if empty.
	Dir     string
	Timeout time.Duration
	Desc    string
}

func (c *Cmd) String() string {
	if c.Desc == "" {
		return fmt.Sprintf("%s$%s%v", filepath.Base(c.Exe), c.Exe, c.Args)
	}
	return c.Desc
}

// Argv returns the complete argument vector including the executable.
func (c *Cmd) Argv() []string { return append([]string{c.Exe}, c.Args...) }

type FailKind int

const (
	StartFailed FailKind = iota + 1
	ExitStatus
	Timeout
	Canceled
	Interrupted
)

func (k FailKind) String() string {
	switch k {
	case StartFailed:
		return "start failed"
	case ExitStatus:
		return "nonzero exit"
	case Timeout:
		return "timed out"
	case Canceled:
		return "canceled"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("fail kind %d", int(k))
}

func (k FailKind) Error() string { return k.String() }

// Failure describes why a process did not succeed. It matches its kind with
// errors.Is, e.g. errors.Is(err, procrun.Timeout).
type Failure struct {
	Kind FailKind
	Cmd  string
	// Exit code of the process, -1 if it did not exit normally.
	ExitCode int
	// Tail of the process' error output.
	Output string
	Err    error
}

func (f *Failure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", f.Cmd, f.Kind)
	if f.Kind == ExitStatus {
		fmt.Fprintf(&sb, " with code %d", f.ExitCode)
	}
	if f.Err != nil && f.Kind != ExitStatus {
		fmt.Fprintf(&sb, ": %s", f.Err)
	}
	if f.Output != "" {
		fmt.Fprintf(&sb, "\n%s", strings.TrimRight(f.Output, "\n"))
	}
	return sb.String()
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	k, ok := target.(FailKind)
	return ok && k == f.Kind
}

// Run is a started process.
type Run struct {
	ctx     context.Context
	cmd     *exec.Cmd
	desc    string
	timeout time.Duration
	stderr  *tailBuffer

	done        chan struct{}
	err         error
	interrupted atomic.Bool
}

// Start starts the process described by c in env. The process is killed when
// ctx is done and interrupted when env.Interrupts is closed.
func Start(ctx context.Context, env *Env, c Cmd) (*Run, error) {
	if env == nil {
		env = DefaultEnv(nil)
	}
	xenv, err := env.ExecEnv()
	if err != nil && !errors.Is(err, NonXEnvKeys{}) {
		return nil, mkerr.Wrap(mkerr.Configuration, err, "environment of %s", c.String())
	}
	cmd := exec.CommandContext(ctx, c.Exe, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = xenv
	cmd.WaitDelay = waitDelay
	cmd.Stdin = env.In
	cmd.Stdout = env.Out
	r := &Run{
		ctx:     ctx,
		cmd:     cmd,
		desc:    c.String(),
		timeout: c.Timeout,
		stderr:  newTailBuffer(4096),
		done:    make(chan struct{}),
	}
	if env.Err != nil {
		cmd.Stderr = io.MultiWriter(env.Err, r.stderr)
	} else {
		cmd.Stderr = r.stderr
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if err := cmd.Start(); err != nil {
		return nil, r.failure(StartFailed, err)
	}
	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()
	if env.Interrupts != nil {
		go func() {
			select {
			case <-env.Interrupts:
				_ = r.Interrupt()
			case <-r.done:
			}
		}()
	}
	return r, nil
}

// RunCmd starts c and waits for it.
func RunCmd(ctx context.Context, env *Env, c Cmd) error {
	r, err := Start(ctx, env, c)
	if err != nil {
		return err
	}
	return r.Wait(ctx)
}

func (r *Run) Pid() int { return r.cmd.Process.Pid }

func (r *Run) String() string { return r.desc }

// Wait waits until the process exits, the timeout of the command elapses or
// ctx is done. Processes that are still running when Wait gives up are
// killed.
func (r *Run) Wait(ctx context.Context) error {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-ctx.Done():
		r.kill()
		<-r.done
		return r.failure(Canceled, ctx.Err())
	case <-timer.C:
		r.kill()
		<-r.done
		return r.failure(Timeout, fmt.Errorf("no exit after %s", r.timeout))
	}
	switch {
	case r.err == nil:
		return nil
	case r.interrupted.Load():
		return r.failure(Interrupted, r.err)
	case ctx.Err() != nil:
		return r.failure(Canceled, ctx.Err())
	case r.ctx.Err() != nil:
		return r.failure(Canceled, r.ctx.Err())
	}
	return r.failure(ExitStatus, r.err)
}

// Interrupt sends an interrupt signal to the process.
func (r *Run) Interrupt() error {
	r.interrupted.Store(true)
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		return mkerr.Wrap(mkerr.ProcessExecution, err, "interrupt %s", r.desc)
	}
	return nil
}

func (r *Run) kill() { _ = r.cmd.Process.Kill() }

func (r *Run) failure(k FailKind, err error) error {
	f := &Failure{
		Kind:     k,
		Cmd:      r.desc,
		ExitCode: -1,
		Output:   r.stderr.String(),
		Err:      err,
	}
	var xerr *exec.ExitError
	if errors.As(err, &xerr) {
		f.ExitCode = xerr.ExitCode()
	}
	return mkerr.Wrap(mkerr.ProcessExecution, f, "")
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
