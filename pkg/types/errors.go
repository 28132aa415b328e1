package types

import "errors"

// Sentinel error classes shared by every pipeline stage. Stages wrap one of
// these with %w so the orchestrator can classify failures without importing
// stage internals.
var (
	// ErrConfiguration marks invalid frame/hop sizes or option values.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput marks a malformed sample rate or buffer.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternalConsistency marks a violated pipeline invariant. It indicates
	// a defect, never a user-data problem.
	ErrInternalConsistency = errors.New("internal consistency error")
)
