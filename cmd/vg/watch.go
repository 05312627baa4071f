package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vg-engine/vg/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Run the project and reload it on every change",
		Long: `Watch builds and runs the package in dir, then rebuilds it whenever a file
below dir changes. The new build replaces the running guest; with --carry
identical or layout the guest keeps its state across the swap. A failed
build leaves the running guest alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args)
		},
	}
	f := cmd.Flags()
	addHostFlags(f)
	f.String("carry", "identical", "state carried across reloads: identical, layout or reset")
	f.Duration("debounce", watch.DefaultConfig().Debounce, "quiet period before a rebuild")
	return cmd
}

func (a *app) watch(ctx context.Context, args []string) (err error) {
	b, err := a.builder(args)
	if err != nil {
		return a.fail(err)
	}
	w, err := watch.New(a.cfg.Watch, a.logger.Named("watch"), b.WatchPaths()...)
	if err != nil {
		return a.fail(err)
	}
	defer func() { err = multierr.Append(err, w.Close()) }()

	h, err := a.startHost()
	if err != nil {
		return a.fail(err)
	}
	if h.done != nil {
		// Compiler output would scribble over the game.
		b.Stdout, b.Stderr = nil, nil
	}
	ctx, cancel := h.context(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return h.engine.Watch(gctx, w.Changes(), func(ctx context.Context) ([]byte, error) {
			a.logger.Info("Building project")
			return b.Image(ctx)
		})
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err = multierr.Append(err, h.Close()); err != nil {
		return a.fail(err)
	}
	return nil
}
