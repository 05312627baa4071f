// Package config loads the vg configuration. Values are layered, later
// layers winning: built-in defaults, the YAML file, VG_ environment
// variables and command-line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/vg-engine/vg/engine"
	"github.com/vg-engine/vg/frontend"
	"github.com/vg-engine/vg/internal/build"
	"github.com/vg-engine/vg/internal/watch"
	"github.com/vg-engine/vg/runtime"
	"github.com/vg-engine/vg/runtime/wazero"
)

const (
	// DefaultFile is looked up in the working directory when no file is given.
	DefaultFile = "vg.yaml"

	// EnvPrefix prefixes environment overrides. A double underscore
	// separates nested keys: VG_ENGINE__FPS sets engine.fps.
	EnvPrefix = "VG_"

	// FrontendAuto picks the terminal frontend on a terminal and the
	// headless one otherwise.
	FrontendAuto = "auto"
)

// Config is the complete vg configuration.
type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	Backend     string `mapstructure:"backend"`
	Frontend    string `mapstructure:"frontend"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Runtime wazero.Config `mapstructure:"runtime"`
	Engine  engine.Config `mapstructure:"engine"`
	Build   build.Config  `mapstructure:"build"`
	Watch   watch.Config  `mapstructure:"watch"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Backend:  runtime.DefaultBackend,
		Frontend: FrontendAuto,
		Runtime:  *wazero.DefaultConfig(),
		Engine:   engine.DefaultConfig(),
		Build:    build.DefaultConfig(),
		Watch:    watch.DefaultConfig(),
	}
}

// Options select the sources Load reads.
type Options struct {
	// File is the YAML file to read. When empty, DefaultFile in Dir is read
	// if it exists.
	File string

	// Dir is where DefaultFile is looked up. Empty means the working directory.
	Dir string

	// Overrides are dotted keys set last, typically from flags.
	Overrides map[string]any
}

// Load reads the configuration and validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	path := opts.File
	if path == "" {
		candidate := filepath.Join(opts.Dir, DefaultFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading overrides: %w", err)
	}

	cfg := Default()
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// envKey maps VG_ENGINE__MAX_TICKS to engine.max_ticks.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	var errs error
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if cfg.Backend != "" && !slices.Contains(runtime.List(), cfg.Backend) {
		errs = multierr.Append(errs, fmt.Errorf("backend %q: %w", cfg.Backend, runtime.ErrBackendNotFound))
	}
	if cfg.Frontend != FrontendAuto && !slices.Contains(frontend.Names, cfg.Frontend) {
		errs = multierr.Append(errs, fmt.Errorf("unknown frontend %q", cfg.Frontend))
	}
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"runtime", &cfg.Runtime},
		{"engine", &cfg.Engine},
		{"build", &cfg.Build},
		{"watch", &cfg.Watch},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errs
}
