package procrun

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"git.fractalqb.de/fractalqb/testerr"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

func Example_prefixWriter() {
	pw := NewPrefixWriterString(os.Stdout, "PRE:")
	io.WriteString(pw, "foo")
	io.WriteString(pw, "bar\n")
	io.WriteString(pw, "baz\nquux")
	// Output:
	// PRE:foobar
	// PRE:baz
	// PRE:quux
}

func testEnv(out, err io.Writer) *Env {
	env := &Env{Out: out, Err: err}
	env.SetTag("PATH", os.Getenv("PATH"))
	return env
}

func sh(script string) Cmd { return Cmd{Exe: "sh", Args: []string{"-c", script}} }

func TestRunCmd(t *testing.T) {
	var out strings.Builder
	env := testEnv(&out, io.Discard).Prefixed("sh| ")
	env.SetTag("GREETING", "hello")
	testerr.Shall(RunCmd(context.Background(), env, sh(`echo "$GREETING"; echo world`))).BeNil(t)
	if s := out.String(); s != "sh| hello\nsh| world\n" {
		t.Errorf("bad output '%s'", s)
	}
}

func TestRun_exitStatus(t *testing.T) {
	err := RunCmd(context.Background(), testEnv(io.Discard, nil), sh("echo broken >&2; exit 3"))
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("unexpected error %v", err)
	}
	if f.Kind != ExitStatus || f.ExitCode != 3 {
		t.Errorf("failure %+v", f)
	}
	if !strings.Contains(f.Output, "broken") {
		t.Errorf("error output not captured: '%s'", f.Output)
	}
	if !mkerr.IsKind(err, mkerr.ProcessExecution) || !errors.Is(err, ExitStatus) {
		t.Errorf("wrong classification: %v", err)
	}
}

func TestRun_timeout(t *testing.T) {
	c := Cmd{Exe: "sleep", Args: []string{"5"}}
	c.Timeout = 50 * time.Millisecond
	start := time.Now()
	err := RunCmd(context.Background(), testEnv(nil, nil), c)
	if !errors.Is(err, Timeout) {
		t.Fatalf("unexpected error %v", err)
	}
	if dt := time.Since(start); dt > 4*time.Second {
		t.Errorf("timeout took %s", dt)
	}
}

func TestRun_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run := testerr.Shall1(Start(ctx, testEnv(nil, nil), Cmd{
		Exe:  "sleep",
		Args: []string{"5"},
	})).BeNil(t)
	cancel()
	if err := run.Wait(context.Background()); !errors.Is(err, Canceled) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRun_interrupted(t *testing.T) {
	run := testerr.Shall1(Start(context.Background(), testEnv(nil, nil), Cmd{
		Exe:  "sleep",
		Args: []string{"5"},
	})).BeNil(t)
	testerr.Shall(run.Interrupt()).BeNil(t)
	if err := run.Wait(context.Background()); !errors.Is(err, Interrupted) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRun_envInterrupts(t *testing.T) {
	intr := make(chan struct{})
	env := testEnv(nil, nil)
	env.Interrupts = intr
	run := testerr.Shall1(Start(context.Background(), env.Sub(), Cmd{
		Exe:  "sleep",
		Args: []string{"5"},
	})).BeNil(t)
	close(intr)
	if err := run.Wait(context.Background()); !errors.Is(err, Interrupted) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestStart_failed(t *testing.T) {
	_, err := Start(context.Background(), testEnv(nil, nil), Cmd{Exe: "/no/such/exe"})
	if !errors.Is(err, StartFailed) || !mkerr.IsKind(err, mkerr.ProcessExecution) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestEnv_tags(t *testing.T) {
	env := &Env{}
	env.SetTags("B=2", "A=1", "EMPTY")
	sub := env.Sub()
	sub.DelTag("B")
	sub.SetTag("C", "3")
	xenv := testerr.Shall1(sub.ExecEnv()).BeNil(t)
	if s := strings.Join(xenv, " "); s != "A=1 C=3 EMPTY=" {
		t.Errorf("exec env: %s", s)
	}
	if _, ok := sub.Tag("B"); ok {
		t.Error("deleted tag visible")
	}
	if v, _ := env.Tag("B"); v != "2" {
		t.Error("delete in sub env affects parent")
	}
	env.SetTag("X=Y", "z")
	if _, err := env.ExecEnv(); !errors.Is(err, NonXEnvKeys{}) {
		t.Errorf("illegal key accepted: %v", err)
	}
}
