package mkerr

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestKinds(t *testing.T) {
	err := Wrap(IO, fs.ErrNotExist, "read %s", "foo")
	if !errors.Is(err, ErrIO) {
		t.Error("wrapped error is not an I/O error")
	}
	if errors.Is(err, ErrResolution) {
		t.Error("I/O error matches resolution")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("cause lost")
	}
	if k, ok := KindOf(err); !ok || k != IO {
		t.Errorf("unexpected kind %s", k)
	}
	if s := err.Error(); s != "I/O error: read foo: file does not exist" {
		t.Errorf("unexpected message '%s'", s)
	}
	if Wrap(IO, nil, "nothing") != nil {
		t.Error("wrapping nil yields error")
	}
	if !strings.Contains(ErrorStack(err), "errors_test.go") {
		t.Error("no stack trace in error")
	}
}

func TestRecover(t *testing.T) {
	var err error
	func() {
		defer Recover(func(cause error) { err = cause })
		panic("boom")
	}()
	if !IsKind(err, Invariant) {
		t.Fatalf("panic not converted to invariant violation: %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("panic value lost: %s", err)
	}
}

func TestMultiError(t *testing.T) {
	var errs *MultiError
	if errs.ErrorOrNil() != nil {
		t.Fatal("nil multi error is not nil")
	}
	errs = errs.Append(nil, New(Resolution, "b missing"))
	errs = errs.Append(New(Resolution, "a missing"))
	inner := new(MultiError).Append(New(Invariant, "bad key"))
	errs = errs.Append(inner)
	if l := errs.Len(); l != 3 {
		t.Fatalf("multi error has %d errors", l)
	}
	errs.Sort()
	msg := errs.ErrorOrNil().Error()
	want := "3 errors occurred:\n" +
		"* invariant violation: bad key\n" +
		"* resolution error: a missing\n" +
		"* resolution error: b missing"
	if msg != want {
		t.Errorf("unexpected message:\n%s", msg)
	}
	if k, _ := errs.Kind(); k != Invariant {
		t.Errorf("multi error kind %s", k)
	}
	if !errors.Is(errs, ErrResolution) {
		t.Error("multi error does not match contained kind")
	}
}
