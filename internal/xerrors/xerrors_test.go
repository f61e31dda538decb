package xerrors

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

// stackContains checks if any frame in pcs contains substr
func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func stackOf(t *testing.T, err error) []uintptr {
	t.Helper()
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatalf("%v has no StackPCs", err)
	}
	return hs.StackPCs()
}

func TestNew(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stackContains(stackOf(t, err), "TestNew") {
		t.Fatal("stack should contain the calling test")
	}
}

func TestNewf(t *testing.T) {
	err := Newf("bad value %d", 42)
	if err.Error() != "bad value 42" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if len(stackOf(t, err)) == 0 {
		t.Fatal("stack should be non-empty")
	}
}

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	err := WithStack(errSentinel)
	if err.Error() != "sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel")
	}
	if !HasTrace(err) {
		t.Fatal("WithStack should add a trace")
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
	err := EnsureTrace(io.EOF)
	if !HasTrace(err) || !errors.Is(err, io.EOF) {
		t.Fatalf("EnsureTrace(io.EOF) = %#v", err)
	}
	if again := EnsureTrace(err); again != err {
		t.Fatal("EnsureTrace should be idempotent")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("wrapping nil should be nil")
	}
	err := Wrap(errSentinel, "loading")
	if err.Error() != "loading: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel")
	}
	if !HasTrace(err) {
		t.Fatal("Wrap of a plain error should capture a stack")
	}
}

func TestWrapf_KeepsInnermostStack(t *testing.T) {
	inner := New("root")
	innerPCs := stackOf(t, inner)

	outer := Wrapf(inner, "step %d", 2)
	if outer.Error() != "step 2: root" {
		t.Fatalf("Error() = %q", outer.Error())
	}
	if pcs := outer.(*traced).StackPCs(); len(pcs) != 0 {
		t.Fatal("outer wrap should not capture a second stack")
	}
	if len(stackOf(t, errors.Unwrap(outer))) != len(innerPCs) {
		t.Fatal("inner stack should be untouched")
	}
}

func TestHasTrace_PlainErrors(t *testing.T) {
	if HasTrace(nil) || HasTrace(errSentinel) {
		t.Fatal("plain errors have no trace")
	}
}
