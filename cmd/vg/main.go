// Command vg builds guest games to wasm and runs them.
//
//	vg build [dir]             build the guest package in dir
//	vg run [dir|file.wasm]...  build and run one or more guests
//	vg watch [dir]             run, and rebuild and reload on every change
//	vg clean [dir]             remove build output
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
