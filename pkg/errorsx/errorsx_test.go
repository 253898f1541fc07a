package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	wrapped := Wrap(base, ReasonSynthConnect)
	if Reason(wrapped) != ReasonSynthConnect {
		t.Fatalf("expected reason %s, got %s", ReasonSynthConnect, Reason(wrapped))
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("wrapped error must unwrap to the original")
	}
}

func TestWrapKeepsFirstReason(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonLLMGenerate)
	err = Wrap(err, ReasonRouteFallback)
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("rewrapping must not override the original reason, got %s", Reason(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonLLMGenerate) != nil {
		t.Fatal("wrapping nil must return nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatal("nil error has unknown reason")
	}
}

func TestReasonThroughFmtWrap(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonStoreUnavailable)
	outer := fmt.Errorf("consume flag: %w", err)
	if !HasReason(outer, ReasonStoreUnavailable) {
		t.Fatal("reason must survive fmt.Errorf wrapping")
	}
}
