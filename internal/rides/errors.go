package rides

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers. Handlers map these to HTTP codes;
// nothing here is retried automatically by the service itself.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")

	// accept-race outcomes
	ErrRideTaken  = fmt.Errorf("%w: ride no longer available", ErrConflict)
	ErrDriverBusy = fmt.Errorf("%w: driver already has an active ride", ErrConflict)

	ErrBadOTP            = fmt.Errorf("%w: one-time code mismatch", ErrValidation)
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrValidation)
)
