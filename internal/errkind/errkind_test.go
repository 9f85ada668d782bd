package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyReturnsWrappedKind(t *testing.T) {
	err := Wrap(Malformed, errors.New("bad json"))
	if Classify(err) != Malformed {
		t.Fatalf("expected Malformed, got %v", Classify(err))
	}
	if Classify(err).Retryable() {
		t.Fatal("expected malformed errors to be non-retryable")
	}
}

func TestClassifyPropagatesThroughWrappedErrors(t *testing.T) {
	inner := Wrap(Transient, errors.New("connection reset"))
	outer := fmt.Errorf("dispatch failed: %w", inner)
	if Classify(outer) != Transient {
		t.Fatalf("expected Transient to survive fmt.Errorf wrapping, got %v", Classify(outer))
	}
	if !Classify(outer).Retryable() {
		t.Fatal("expected transient errors to be retryable")
	}
}

func TestClassifyTreatsContextDeadlineAsTransient(t *testing.T) {
	if Classify(context.DeadlineExceeded) != Transient {
		t.Fatalf("expected context.DeadlineExceeded to classify as Transient")
	}
}

func TestClassifyDefaultsUnclassifiedErrorsToUnknown(t *testing.T) {
	if Classify(errors.New("mystery failure")) != Unknown {
		t.Fatalf("expected an unrecognized error to classify as Unknown")
	}
	if Unknown.Retryable() {
		t.Fatal("expected Unknown to be non-retryable (fail closed)")
	}
}

func TestClassifyNilIsUnknown(t *testing.T) {
	if Classify(nil) != Unknown {
		t.Fatalf("expected nil to classify as Unknown")
	}
}
