package storage

import "errors"

// Sentinel error kinds surfaced by the core, per the error handling design:
// NotFound, Validation, Conflict, Transient, StateCorruption.
var (
	ErrNotFound        = errors.New("storage: not found")
	ErrValidation      = errors.New("storage: validation failed")
	ErrConflict        = errors.New("storage: conflict")
	ErrTransient       = errors.New("storage: transient failure")
	ErrStateCorruption = errors.New("storage: state corruption")
)
