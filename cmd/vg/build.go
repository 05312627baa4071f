package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vg-engine/vg/internal/build"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build [dir]",
		Short: "Build the project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.builder(args)
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintln(a.stdout, "Building project")
			output, err := b.Build(cmd.Context())
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [dir]",
		Short: "Clean the project build files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := a.builder(args)
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintln(a.stdout, "Cleaning project")
			if err := b.Clean(); err != nil {
				return a.fail(err)
			}
			return nil
		},
	}
}

// builder returns a Builder for the package directory in args, or the
// working directory.
func (a *app) builder(args []string) (*build.Builder, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	b, err := build.New(dir, a.cfg.Build, a.logger.Named("build"))
	if err != nil {
		return nil, err
	}
	b.Stdout, b.Stderr = a.stdout, a.stderr
	return b, nil
}
