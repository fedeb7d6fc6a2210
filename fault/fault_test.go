package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestPaymentErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := Payment("release", true, base)

	var pe *PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PaymentError, got %T", err)
	}
	if !pe.Retriable {
		t.Errorf("expected retriable flag to survive")
	}
	if !errors.Is(err, base) {
		t.Errorf("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestTaxonomyKindsAreDistinct(t *testing.T) {
	wrapped := fmt.Errorf("service: accept proposal: %w", Conflict("job", "j1"))

	var conflict *ConflictError
	if !errors.As(wrapped, &conflict) {
		t.Fatalf("expected ConflictError through wrapping")
	}
	if conflict.ID != "j1" {
		t.Errorf("expected entity id j1, got %s", conflict.ID)
	}

	var invalid *InvalidStateError
	if errors.As(wrapped, &invalid) {
		t.Errorf("conflict must not match InvalidStateError")
	}
}

func TestInvalidStateMessage(t *testing.T) {
	err := InvalidState("escrow", "e1", "released", "funded")
	want := "invalid state: escrow e1 is released, wanted funded"
	if err.Error() != want {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
