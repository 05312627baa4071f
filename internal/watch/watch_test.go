package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const debounce = 100 * time.Millisecond

func startWatcher(t *testing.T, paths ...string) *Watcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Debounce = debounce
	w, err := New(cfg, zaptest.NewLogger(t), paths...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w
}

func expectChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func expectQuiet(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Changes():
		t.Fatal("unexpected change")
	case <-time.After(3 * debounce):
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBurstIsCoalesced(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	for i := range 5 {
		write(t, filepath.Join(dir, "main.go"), string(rune('a'+i)))
		time.Sleep(debounce / 5)
	}
	expectChange(t, w)
	expectQuiet(t, w)
}

func TestPendingChangeIsKept(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	write(t, filepath.Join(dir, "a.go"), "a")
	time.Sleep(3 * debounce)
	write(t, filepath.Join(dir, "b.go"), "b")
	time.Sleep(3 * debounce)

	// Nobody read the first notification; the second is folded into it.
	expectChange(t, w)
	expectQuiet(t, w)
}

func TestIgnoredFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".vg"), 0o755))
	w := startWatcher(t, dir)

	write(t, filepath.Join(dir, "game.wasm"), "x")
	write(t, filepath.Join(dir, ".swap"), "x")
	write(t, filepath.Join(dir, ".vg", "inner.go"), "x")
	expectQuiet(t, w)
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	sub := filepath.Join(dir, "levels")
	require.NoError(t, os.Mkdir(sub, 0o755))
	expectChange(t, w)

	write(t, filepath.Join(sub, "one.go"), "x")
	expectChange(t, w)
}

func TestWatchSingleFile(t *testing.T) {
	dir := t.TempDir()
	mod := filepath.Join(dir, "go.mod")
	write(t, mod, "module x\n")
	w := startWatcher(t, mod)

	write(t, mod, "module y\n")
	expectChange(t, w)
}

func TestNewErrors(t *testing.T) {
	_, err := New(DefaultConfig(), nil, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Ignore = []string{"["}
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Debounce = -time.Second
	assert.Error(t, cfg.Validate())
}
