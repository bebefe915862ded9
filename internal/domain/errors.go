package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")

	// ErrInvalidState is returned when a status transition is not allowed
	// from the record's current status.
	ErrInvalidState = errors.New("domain: invalid state")

	// ErrPolicyViolation is returned when the prompt guard blocks a message.
	ErrPolicyViolation = errors.New("domain: policy violation")

	// ErrQuotaExceeded is returned when a workspace has used its daily
	// analysis allowance.
	ErrQuotaExceeded = errors.New("domain: quota exceeded")

	// ErrTransportUnavailable is returned when the job queue rejects an
	// enqueue after admission already persisted the turn.
	ErrTransportUnavailable = errors.New("domain: transport unavailable")
)
