package errors

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	wrapped := Wrap(ErrRejected, "enqueue granule")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, ErrRejected) {
		t.Error("wrapped error should unwrap to ErrRejected")
	}
	if wrapped.Error() != "enqueue granule: rejected" {
		t.Errorf("message: got %q", wrapped.Error())
	}
}

func TestWrapf_Nested(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	inner := Wrapf(ErrInvariantViolation, "row_start %d -> %d", 10, 5)
	outer := Wrap(inner, "advance tracker")
	if !Is(outer, ErrInvariantViolation) {
		t.Error("nested wrap should keep ErrInvariantViolation")
	}
	if Is(outer, ErrConflict) {
		t.Error("nested wrap should not match unrelated sentinel")
	}
}

func TestSentinelsDistinct(t *testing.T) {
	all := []error{ErrNotFound, ErrInvalidArg, ErrInvariantViolation, ErrConflict, ErrRejected, ErrBusy, ErrInvalidConfig}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}
