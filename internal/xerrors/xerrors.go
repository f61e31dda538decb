// Package xerrors wraps errors with the call stack of the site that first saw
// them, so the logger can print where a failure started instead of where it
// was finally logged.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxDepth = 64

// traced is an error with an optional message prefix and captured stack
type traced struct {
	err error
	msg string
	pcs []uintptr
}

func (t *traced) Error() string {
	if t.msg == "" {
		return t.err.Error()
	}
	return t.msg + ": " + t.err.Error()
}
func (t *traced) Unwrap() error       { return t.err }
func (t *traced) StackPCs() []uintptr { return t.pcs }

// capture records the stack starting skip frames above its caller
func capture(skip int) []uintptr {
	pcs := make([]uintptr, maxDepth)
	// +2 skips runtime.Callers and capture
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

// HasTrace reports whether any error in the chain already carries a stack.
func HasTrace(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if hs, ok := e.(interface{ StackPCs() []uintptr }); ok && len(hs.StackPCs()) > 0 {
			return true
		}
	}
	return false
}

func New(msg string) error { return &traced{err: errors.New(msg), pcs: capture(1)} }

func Newf(format string, args ...any) error {
	return &traced{err: fmt.Errorf(format, args...), pcs: capture(1)}
}

// WithStack always records a fresh stack at the call site.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &traced{err: err, pcs: capture(1)}
}

// EnsureTrace records a stack only when the chain has none yet.
func EnsureTrace(err error) error {
	if err == nil || HasTrace(err) {
		return err
	}
	return &traced{err: err, pcs: capture(1)}
}

// Wrap prefixes err with msg. A stack is captured only if the chain lacks one,
// so repeated wrapping keeps the innermost origin.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	t := &traced{err: err, msg: msg}
	if !HasTrace(err) {
		t.pcs = capture(1)
	}
	return t
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	t := &traced{err: err, msg: fmt.Sprintf(format, args...)}
	if !HasTrace(err) {
		t.pcs = capture(1)
	}
	return t
}
