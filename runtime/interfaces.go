// Package runtime defines the contract every guest execution backend
// implements: loading an image, ticking it, feeding it responses and
// snapshotting it.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/vg-engine/vg/protocol"
)

// Backend loads guest images into Instances.
type Backend interface {
	// Name returns the registered name of the backend.
	Name() string
	// Load validates and instantiates image. On failure the error wraps
	// ErrLoad and nothing stays allocated.
	Load(ctx context.Context, image []byte) (Instance, error)
	// Deserialize reconstructs an Instance from bytes produced by
	// Instance.Serialize. Rejected input wraps ErrCorruptSnapshot.
	Deserialize(ctx context.Context, snapshot []byte) (Instance, error)
	// Close releases resources shared by the backend's instances.
	Close(ctx context.Context) error
}

// Instance is a live embedding of one guest image.
//
// An Instance is single-threaded: callers must not invoke its methods
// concurrently. After a method fails with ErrExecutionTrap the instance is
// poisoned and every later call returns an error wrapping both
// ErrExecutionTrap and ErrClosed.
type Instance interface {
	// ID returns an identifier unique to this instance.
	ID() string
	// RunTick advances the guest by one step and returns the Calls it
	// emitted, in emission order.
	RunTick(ctx context.Context, delta time.Duration) ([]protocol.Call, error)
	// Send delivers a Response into a guest-allocated shared buffer. The
	// guest observes it on its next tick.
	Send(ctx context.Context, r protocol.Response) error
	// Serialize captures the complete guest state.
	Serialize(ctx context.Context) ([]byte, error)
	// Close releases the instance. Closing twice is a no-op.
	Close(ctx context.Context) error
}

// Duplicator is implemented by instances that can copy themselves faster
// than a Serialize/Deserialize round trip.
type Duplicator interface {
	Duplicate(ctx context.Context) (Instance, error)
}

// Stats are counters an instance keeps about itself.
type Stats struct {
	// Ticks is the number of completed ticks.
	Ticks uint64
	// Elapsed is the sum of the deltas of completed ticks.
	Elapsed time.Duration
	// Malformed is the number of Call frames dropped as malformed.
	Malformed uint64
}

// StatsReporter is implemented by instances that report Stats.
type StatsReporter interface {
	Stats() Stats
}

// Memory is bounds-checked access to a guest's linear memory.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32
	// Read returns a copy of [offset, offset+size). A range outside memory
	// returns an error wrapping ErrOutOfBounds.
	Read(offset, size uint32) ([]byte, error)
	// Write copies data to offset. A range outside memory returns an error
	// wrapping ErrOutOfBounds and leaves memory unchanged.
	Write(offset uint32, data []byte) error
}

// CheckRange reports whether [offset, offset+size) fits a memory of memSize bytes.
func CheckRange(memSize, offset, size uint32) error {
	if uint64(offset)+uint64(size) > uint64(memSize) {
		return fmt.Errorf("%w: [%d, %d) exceeds memory size %d", ErrOutOfBounds, offset, uint64(offset)+uint64(size), memSize)
	}
	return nil
}
