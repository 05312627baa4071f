package runtime

import (
	"errors"
	"fmt"

	"github.com/vg-engine/vg/protocol"
)

// Common errors used across backend implementations
var (
	ErrLoad            = errors.New("load failed")
	ErrExecutionTrap   = errors.New("execution trap")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	ErrOutOfBounds     = errors.New("out of bounds memory access")
	ErrClosed          = errors.New("instance closed")
	ErrBackendNotFound = errors.New("backend not found")

	// ErrLayoutMismatch is returned when carried state does not fit the
	// layout of a rebuilt image. It matches ErrCorruptSnapshot.
	ErrLayoutMismatch = fmt.Errorf("%w: layout mismatch", ErrCorruptSnapshot)

	ErrMalformedMessage = protocol.ErrMalformedMessage
)

// TrapError describes a guest fault raised while running a tick.
type TrapError struct {
	InstanceID string
	Tick       uint64
	Cause      error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("instance %s: tick %d: %v: %v", e.InstanceID, e.Tick, ErrExecutionTrap, e.Cause)
}

// Unwrap makes a TrapError match both ErrExecutionTrap and its cause.
func (e *TrapError) Unwrap() []error {
	return []error{ErrExecutionTrap, e.Cause}
}

// Poisoned returns the error every operation on an instance reports after
// trap has poisoned it.
func Poisoned(trap error) error {
	return fmt.Errorf("%w: poisoned by %w", ErrClosed, trap)
}
