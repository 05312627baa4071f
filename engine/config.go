package engine

import (
	"errors"
	"fmt"

	"github.com/vg-engine/vg/runtime"
)

// Config controls the host loop.
type Config struct {
	// FPS caps the tick rate. Zero runs ticks back to back.
	FPS float64 `mapstructure:"fps"`

	// MaxTicks stops a session after this many ticks. Zero means no limit.
	MaxTicks uint64 `mapstructure:"max_ticks"`

	// Carry decides when a reload carries guest state into a rebuilt image.
	Carry runtime.CarryPolicy `mapstructure:"carry"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		FPS:   60,
		Carry: runtime.CarryIdentical,
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.FPS < 0 {
		return errors.New("fps must not be negative")
	}
	if _, err := runtime.ParseCarryPolicy(string(cfg.Carry)); err != nil {
		return fmt.Errorf("carry: %w", err)
	}
	return nil
}
