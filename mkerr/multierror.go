package mkerr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// MultiError collects the distinct diagnostics found in one run so they can
// be reported together.
type MultiError struct {
	inner *multierror.Error
}

func (errs *MultiError) Error() string {
	werrs := errs.WrappedErrors()
	msgs := make([]string, 0, len(werrs))
	for _, err := range werrs {
		msgs = append(msgs, indent(err.Error()))
	}
	body := strings.Join(msgs, "\n")
	if len(werrs) == 1 {
		return fmt.Sprintf("error occurred:\n%s", body)
	}
	return fmt.Sprintf("%d errors occurred:\n%s", len(werrs), body)
}

func (errs *MultiError) WrappedErrors() []error {
	if errs == nil || errs.inner == nil {
		return nil
	}
	return errs.inner.WrappedErrors()
}

func (errs *MultiError) Unwrap() []error { return errs.WrappedErrors() }

// Append adds errors and flattens nested MultiErrors. Nil errors are
// ignored. Works on a nil receiver.
func (errs *MultiError) Append(appendErrs ...error) *MultiError {
	if errs == nil {
		errs = &MultiError{}
	}
	if errs.inner == nil {
		errs.inner = new(multierror.Error)
	}
	for _, err := range appendErrs {
		switch err := err.(type) {
		case nil:
		case *MultiError:
			errs.inner = multierror.Append(errs.inner, err.WrappedErrors()...)
		default:
			errs.inner = multierror.Append(errs.inner, err)
		}
	}
	return errs
}

// ErrorOrNil returns errs if it holds at least one error, nil otherwise.
func (errs *MultiError) ErrorOrNil() error {
	if errs.Len() == 0 {
		return nil
	}
	return errs
}

func (errs *MultiError) Len() int {
	if errs == nil || errs.inner == nil {
		return 0
	}
	return len(errs.inner.Errors)
}

// Sort orders the errors by message for reproducible reports.
func (errs *MultiError) Sort() {
	if errs.Len() < 2 {
		return
	}
	sort.SliceStable(errs.inner.Errors, func(i, j int) bool {
		return errs.inner.Errors[i].Error() < errs.inner.Errors[j].Error()
	})
}

// Kind returns Invariant if any collected error is an invariant violation,
// otherwise the kind of the first classified error.
func (errs *MultiError) Kind() (Kind, bool) {
	var (
		res   Kind
		found bool
	)
	for _, err := range errs.WrappedErrors() {
		if k, ok := KindOf(err); ok {
			if k == Invariant {
				return k, true
			}
			if !found {
				res, found = k, true
			}
		}
	}
	return res, found
}

func indent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if i == 0 {
			lines[i] = "* " + l
		} else {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n")
}
