package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vg-engine/vg/internal/config"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	configFile string
	stdout     io.Writer
	stderr     io.Writer

	cfg    *config.Config
	logger *zap.Logger
}

// flagKeys maps flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"backend":      "backend",
	"mode":         "runtime.mode",
	"tick-budget":  "runtime.tick_budget",
	"frontend":     "frontend",
	"fps":          "engine.fps",
	"ticks":        "engine.max_ticks",
	"carry":        "engine.carry",
	"metrics-addr": "metrics_addr",
	"debounce":     "watch.debounce",
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "vg",
		Short: "Build and run vg guest games",
		Long: `vg compiles guest games written against github.com/vg-engine/vg/guest/vg to
WebAssembly and runs them in a sandbox, one tick per frame.

Configuration is read from vg.yaml in the working directory (or --config),
then from VG_ environment variables (VG_ENGINE__FPS sets engine.fps), then
from flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default is ./vg.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("backend", "wazero", "runtime backend")
	pf.String("mode", "interpreter", "wazero execution mode: interpreter or compiler")
	pf.Duration("tick-budget", 0, "wall-clock limit of a single tick (0 keeps the configured value)")

	root.AddCommand(
		newBuildCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newCleanCmd(a),
	)
	return root
}

// setup loads the configuration, with changed flags as overrides, and
// builds the logger.
func (a *app) setup(flags *pflag.FlagSet) error {
	overrides := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})

	cfg, err := config.Load(config.Options{File: a.configFile, Overrides: overrides})
	if err != nil {
		return a.fail(err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.LogLevel, a.stderr)
	if err != nil {
		return a.fail(err)
	}
	a.logger = logger
	return nil
}

// newLogger returns a console logger writing to w.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// fail prints err and returns it, so main can exit non-zero.
func (a *app) fail(err error) error {
	fmt.Fprintf(a.stderr, "vg: %v\n", err)
	return err
}
