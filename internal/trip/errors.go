package trip

import (
	"errors"
	"fmt"

	"github.com/example/ride-tracking/internal/models"
)

var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports an operation the current status does not allow.
type TransitionError struct {
	Op   string
	From models.TripStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: cannot %s a trip that is %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
