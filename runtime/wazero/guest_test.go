package wazero

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vg-engine/vg/internal/build"
	"github.com/vg-engine/vg/protocol"
	"github.com/vg-engine/vg/runtime"
)

// buildExample compiles one of the example guests with the Go toolchain.
func buildExample(t *testing.T, name string) []byte {
	t.Helper()
	if testing.Short() {
		t.Skip("building a guest is slow")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}

	dir, err := filepath.Abs(filepath.Join("..", "..", "examples", name))
	require.NoError(t, err)
	out, err := filepath.Rel(dir, t.TempDir())
	require.NoError(t, err)

	cfg := build.DefaultConfig()
	cfg.OutDir = out
	b, err := build.New(dir, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	image, err := b.Image(context.Background())
	require.NoError(t, err)
	return image
}

func hello(n int) []protocol.Call {
	return []protocol.Call{protocol.Print{Text: fmt.Sprintf("hello %d", n)}, protocol.Present{}}
}

func runHello(t *testing.T, inst runtime.Instance, want int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, inst.Send(ctx, protocol.Timing{Delta: 1.0 / 60, Elapsed: float64(want) / 60}))
	calls, err := inst.RunTick(ctx, time.Second/60)
	require.NoError(t, err)
	assert.Equal(t, hello(want), calls)
}

func TestBuiltGuest(t *testing.T) {
	image := buildExample(t, "hello")
	ctx := context.Background()
	b := newTestBackend(t, &Config{Mode: ModeInterpreter, TickBudget: 30 * time.Second, Logger: zaptest.NewLogger(t)})

	inst, err := b.Load(ctx, image)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })

	for n := 1; n <= 3; n++ {
		runHello(t, inst, n)
	}

	dup, err := runtime.Duplicate(ctx, b, inst)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dup.Close(ctx) })
	runHello(t, dup, 4)
	runHello(t, inst, 4)

	snapshot, err := inst.Serialize(ctx)
	require.NoError(t, err)
	restored, err := b.Deserialize(ctx, snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close(ctx) })
	runHello(t, restored, 5)
	runHello(t, restored, 6)
}
