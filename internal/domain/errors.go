package domain

import "errors"

// Sentinel errors returned by the core. Callers match them with errors.Is;
// the wrapping message carries the detail.
var (
	// ErrInvalidInput marks malformed arguments (bad index, unknown role, empty id).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState marks an action against a terminal instance, a resolved step,
	// or a definition whose status forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized marks an actor who is not the resolved effective approver,
	// or a step whose permissions forbid the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoApprovers is returned when a role resolves to nobody.
	ErrNoApprovers = errors.New("no approvers")
)
