package conductor

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conductor: no store configured")
	ErrStoreClosed = errors.New("conductor: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("conductor: job not found")
	ErrQueueNotFound = errors.New("conductor: event queue not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conductor: job already exists")

	// State errors.
	ErrIllegalTransition = errors.New("conductor: illegal state transition")
	ErrStaleResponse     = errors.New("conductor: pause already resolved or not pending")

	// Registration errors.
	ErrKindNotRegistered = errors.New("conductor: no phase logic registered for kind")
)
