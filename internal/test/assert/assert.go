// Package assert contains the small set of assertions the tests use.
package assert

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// cmpOpts compare unexported fields and treat nil and empty
// slices and maps as equal.
var cmpOpts = []cmp.Option{
	cmpopts.EquateErrors(),
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// Equal asserts exp == got.
func Equal(t testing.TB, name string, exp, got interface{}) {
	t.Helper()

	if !cmp.Equal(exp, got, cmpOpts...) {
		t.Fatalf("unexpected %v: %v", name, cmp.Diff(exp, got, cmpOpts...))
	}
}

// Success asserts err == nil.
func Success(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatal(err)
	}
}

// Error asserts err != nil.
func Error(t testing.TB, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("expected error")
	}
}

// Contains asserts the fmt.Sprint(v) contains sub.
func Contains(t testing.TB, v interface{}, sub string) {
	t.Helper()

	s := fmt.Sprint(v)
	if !strings.Contains(s, sub) {
		t.Fatalf("expected %q to contain %q", s, sub)
	}
}

// ErrorIs asserts errors.Is(got, exp)
func ErrorIs(t testing.TB, exp, got error) {
	t.Helper()

	if !errors.Is(got, exp) {
		t.Fatalf("expected %v but got %v", exp, got)
	}
}

// Eventually polls cond every 5ms until it returns true or d elapses.
func Eventually(t testing.TB, d time.Duration, cond func() bool, f string, v ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v: "+f, append([]interface{}{d}, v...)...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Receive waits up to d for a value on ch.
func Receive[T any](t testing.TB, d time.Duration, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		var zero T
		t.Fatalf("nothing received within %v", d)
		return zero
	}
}
