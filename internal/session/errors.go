package session

import "fmt"

// ConflictError rejects a transition that is not valid from the current
// state, including a second start racing an in-flight one.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError rejects caller-supplied parameters outside their allowed
// range before any remote call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
