package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vg-engine/vg/engine"
	"github.com/vg-engine/vg/runtime"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [dir|file.wasm]...",
		Short: "Build and run one or more guests",
		Long: `Run builds every package directory given (the working directory by default)
and runs the resulting guests side by side. A path ending in .wasm is loaded
as is. Nothing runs if any build fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args)
		},
	}
	addHostFlags(cmd.Flags())
	return cmd
}

func (a *app) run(ctx context.Context, args []string) error {
	images, err := a.images(ctx, args)
	if err != nil {
		return a.fail(err)
	}

	h, err := a.startHost()
	if err != nil {
		return a.fail(err)
	}
	ctx, cancel := h.context(ctx)
	defer cancel()

	always := func() bool { return true }
	if len(images) == 1 {
		var sess *engine.Session
		sess, err = h.engine.Run(ctx, images[0], always)
		if err == nil {
			err = sess.Close(context.Background())
		}
	} else {
		err = h.engine.RunParallel(ctx, images, always)
	}

	// The terminal has to be restored before anything is printed.
	closeErr := h.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err = multierr.Append(err, closeErr); err != nil {
		var trap *runtime.TrapError
		if errors.As(err, &trap) {
			fmt.Fprintf(a.stderr, "guest %s trapped after %d ticks\n", trap.InstanceID, trap.Tick)
		}
		return a.fail(err)
	}
	return nil
}

// images builds or reads the guest image for every argument.
func (a *app) images(ctx context.Context, args []string) ([][]byte, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	images := make([][]byte, 0, len(args))
	for _, arg := range args {
		if filepath.Ext(arg) == ".wasm" {
			image, err := os.ReadFile(arg)
			if err != nil {
				return nil, err
			}
			images = append(images, image)
			continue
		}

		b, err := a.builder([]string{arg})
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(a.stdout, "Building %s\n", arg)
		image, err := b.Image(ctx)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, nil
}
