package ratelimit

import (
	"errors"
	"testing"
)

func TestStoreError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := storeErr("hget", inner)

	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to find the wrapped error")
	}
}

func TestStoreErr_NilPassesThrough(t *testing.T) {
	if err := storeErr("hget", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestScriptError_Error(t *testing.T) {
	err := &ScriptError{Got: 9}
	if err.Error() == "" {
		t.Fatal("expected a non-empty message")
	}
}
