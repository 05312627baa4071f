package wazero

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mode selects how wazero executes guest code.
type Mode string

const (
	// ModeInterpreter runs guests on wazero's portable interpreter.
	ModeInterpreter Mode = "interpreter"
	// ModeCompiler compiles guests to native code ahead of execution.
	ModeCompiler Mode = "compiler"
)

// maxMemoryPages is the wasm32 ceiling on linear memory (4 GiB).
const maxMemoryPages = 65536

// Config configures the wazero backend.
type Config struct {
	// Mode is the execution mode. Empty selects ModeInterpreter.
	Mode Mode `mapstructure:"mode"`

	// TickBudget bounds the wall-clock time of a single tick, allocation or
	// initialization call. Zero disables the bound.
	TickBudget time.Duration `mapstructure:"tick_budget"`

	// MemoryLimitPages caps the linear memory of each instance, in 64 KiB
	// pages. Zero leaves wazero's default (the wasm32 maximum).
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages"`

	// Env is passed to guests that import WASI.
	Env []string `mapstructure:"env"`

	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Mode:       ModeInterpreter,
		TickBudget: time.Second,
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	switch cfg.Mode {
	case "", ModeInterpreter, ModeCompiler:
	default:
		return fmt.Errorf("unknown mode %q: want %q or %q", cfg.Mode, ModeInterpreter, ModeCompiler)
	}
	if cfg.TickBudget < 0 {
		return fmt.Errorf("tick budget must not be negative, got %s", cfg.TickBudget)
	}
	if cfg.MemoryLimitPages > maxMemoryPages {
		return fmt.Errorf("memory limit of %d pages exceeds %d", cfg.MemoryLimitPages, maxMemoryPages)
	}
	return nil
}
