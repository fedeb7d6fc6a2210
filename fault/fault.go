// Package fault defines the error taxonomy shared by the marketplace core.
// Every state-mutating operation returns one of these kinds so callers can
// decide between retrying, fixing input, or escalating to an operator.
package fault

import "fmt"

// ValidationError reports malformed input. Not retriable without fixing the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError reports that the actor lacks rights for the operation.
type AuthorizationError struct {
	ActorID string
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: actor %s may not %s", e.ActorID, e.Action)
}

// Unauthorized builds an AuthorizationError.
func Unauthorized(actorID, action string) error {
	return &AuthorizationError{ActorID: actorID, Action: action}
}

// InvalidStateError reports a status precondition violation. It may be the
// result of a race, in which case the caller can re-read and decide; otherwise
// it is terminal for the attempted operation.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Wanted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s %s is %s, wanted %s", e.Entity, e.ID, e.Status, e.Wanted)
}

// InvalidState builds an InvalidStateError.
func InvalidState(entity, id, status, wanted string) error {
	return &InvalidStateError{Entity: entity, ID: id, Status: status, Wanted: wanted}
}

// ConflictError reports an optimistic-concurrency collision. Always safe to
// retry after re-reading current state.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s was modified concurrently", e.Entity, e.ID)
}

// Conflict builds a ConflictError.
func Conflict(entity, id string) error {
	return &ConflictError{Entity: entity, ID: id}
}

// PaymentError reports a Ledger Gateway failure. Retriable distinguishes
// transient failures (timeout, network) from permanent ones (bad destination,
// insufficient authorization) that need manual intervention.
type PaymentError struct {
	Op        string
	Retriable bool
	Err       error
}

func (e *PaymentError) Error() string {
	kind := "permanent"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("payment: %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Payment builds a PaymentError wrapping the gateway failure.
func Payment(op string, retriable bool, err error) error {
	return &PaymentError{Op: op, Retriable: retriable, Err: err}
}
