// Package apperr holds the error kinds surfaced by the order, payment and
// subscription services. Callers match them with errors.As.
package apperr

import "fmt"

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidTransitionError is returned when an entity is asked to move out of a
// state that does not allow the requested action.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from %s", e.Entity, e.ID, e.Action, e.From)
}

type AuthenticityError struct {
	Provider string
	Err      error
}

func (e *AuthenticityError) Error() string {
	return fmt.Sprintf("%s webhook failed authenticity check: %v", e.Provider, e.Err)
}

func (e *AuthenticityError) Unwrap() error { return e.Err }

// ReconciliationConflictError means a provider reported an outcome that
// contradicts an already finalized ledger entry. The entry is left untouched.
type ReconciliationConflictError struct {
	Provider  string
	Reference string
	Existing  string
	Attempted string
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("%s payment %s already %s, refusing %s",
		e.Provider, e.Reference, e.Existing, e.Attempted)
}

type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
