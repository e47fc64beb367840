// Package errd annotates errors with the operation that failed and the
// frame it failed in.
package errd

import (
	"fmt"

	"golang.org/x/xerrors"
)

// opError prints as "op: cause" and keeps cause reachable for errors.Is.
// With %+v it also prints the frame of the annotating call.
type opError struct {
	op    string
	cause error
	at    xerrors.Frame
}

func annotate(cause error, op string) *opError {
	return &opError{
		op:    op,
		cause: cause,
		// Skip annotate and the exported helper.
		at: xerrors.Caller(2),
	}
}

func (e *opError) Error() string { return fmt.Sprint(e) }

func (e *opError) Unwrap() error { return e.cause }

func (e *opError) Format(s fmt.State, verb rune) { xerrors.FormatError(e, s, verb) }

func (e *opError) FormatError(p xerrors.Printer) error {
	p.Print(e.op)
	e.at.Format(p)
	return e.cause
}

// Wrap annotates *err in place when it is non nil.
// Use it deferred against a named error return.
func Wrap(err *error, f string, v ...interface{}) {
	if *err == nil {
		return
	}
	*err = annotate(*err, fmt.Sprintf(f, v...))
}

// Wrapf returns err annotated, or nil when err is nil.
func Wrapf(err error, f string, v ...interface{}) error {
	if err == nil {
		return nil
	}
	return annotate(err, fmt.Sprintf(f, v...))
}
