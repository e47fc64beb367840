// Package xsync contains goroutine helpers that turn panics into errors.
package xsync

import (
	"fmt"
)

// Go allows running a function in another goroutine
// and waiting for its error.
func Go(fn func() error) <-chan error {
	errs := make(chan error, 1)
	go func() {
		errs <- Try(fn)
	}()
	return errs
}

// Try runs fn in the calling goroutine and converts a panic into an error.
func Try(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("panic in fn: %w", rerr)
				return
			}
			err = fmt.Errorf("panic in fn: %v", r)
		}
	}()
	return fn()
}
