package ledger

import "fmt"

// Error taxonomy for balance mutations and dispute resolution. Handlers
// map each type to a status code with errors.As; services never return
// untyped errors for caller-correctable conditions.

// ValidationError is a caller-correctable input problem. No state change
// occurred.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError means a referenced environment, entry, or dispute does
// not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuthorizationError means the actor lacks the relationship needed to
// act. The check always goes through the authoritative driver-sponsor
// environment link.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// ConflictError means the operation is no longer valid given current
// state (e.g. a dispute already resolved). Safe to surface as "already
// processed" on retry.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }
