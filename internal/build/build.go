// Package build compiles guest packages to wasm images with the Go
// toolchain and removes the results.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrBuildFailed is returned when the toolchain exits unsuccessfully.
var ErrBuildFailed = errors.New("build failed")

// Config controls how guests are built.
type Config struct {
	// Go is the go command to run.
	Go string `mapstructure:"go"`

	// OutDir is where images are written, relative to the package directory.
	OutDir string `mapstructure:"out_dir"`

	// Flags are extra arguments to go build, placed before the package.
	Flags []string `mapstructure:"flags"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{Go: "go", OutDir: ".vg"}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.Go == "" {
		return errors.New("go command is required")
	}
	if cfg.OutDir == "" {
		return errors.New("out_dir is required")
	}
	if filepath.IsAbs(cfg.OutDir) {
		return fmt.Errorf("out_dir %q must be relative", cfg.OutDir)
	}
	return nil
}

// Builder builds the guest package in Dir.
type Builder struct {
	Dir    string
	Config Config

	// Stdout and Stderr receive the toolchain's output. Nil discards stdout
	// and keeps stderr only for the error.
	Stdout io.Writer
	Stderr io.Writer

	Logger *zap.Logger
}

// New returns a Builder for the package in dir.
func New(dir string, cfg Config, logger *zap.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path of %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{Dir: abs, Config: cfg, Logger: logger}, nil
}

// OutDir returns the absolute directory images are written to.
func (b *Builder) OutDir() string {
	return filepath.Join(b.Dir, b.Config.OutDir)
}

// Output returns the path of the image Build writes.
func (b *Builder) Output() string {
	return filepath.Join(b.OutDir(), filepath.Base(b.Dir)+".wasm")
}

// Build compiles the package as a wasip1 reactor and returns the image path.
func (b *Builder) Build(ctx context.Context) (string, error) {
	output := b.Output()
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	args := append([]string{"build", "-buildmode=c-shared", "-o", output}, b.Config.Flags...)
	args = append(args, ".")
	if err := b.exec(ctx, args...); err != nil {
		return "", err
	}
	b.Logger.Info("Build completed successfully", zap.String("output", output))
	return output, nil
}

// Image builds the package and returns the image bytes.
func (b *Builder) Image(ctx context.Context) ([]byte, error) {
	output, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(output)
}

// Clean removes the output directory.
func (b *Builder) Clean() error {
	err := os.RemoveAll(b.OutDir())
	if err != nil {
		return fmt.Errorf("failed to remove output directory %s: %w", b.OutDir(), err)
	}
	return nil
}

// WatchPaths returns the paths whose changes call for a rebuild: the
// package directory and the go.mod governing it.
func (b *Builder) WatchPaths() []string {
	paths := []string{b.Dir}
	for dir := b.Dir; ; dir = filepath.Dir(dir) {
		mod := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(mod); err == nil {
			if dir != b.Dir {
				paths = append(paths, mod)
			}
			break
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return paths
}

func (b *Builder) exec(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Config.Go, args...)
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	cmd.Stdout = b.Stdout
	cmd.Stderr = &stderr
	if b.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, b.Stderr)
	}

	b.Logger.Debug("running toolchain", zap.String("dir", b.Dir), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s %v: exit status %d\n%s", ErrBuildFailed, b.Config.Go, args, exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	return nil
}
