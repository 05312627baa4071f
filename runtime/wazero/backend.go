// Package wazero implements the runtime.Backend contract on the wazero
// WebAssembly runtime.
//
// Guests implement ABI v1: they export "memory", "__vg_tick" (f64) -> (),
// "__vg_allocate" (i32) -> i32 and the marker "vg_abi_version_1" () -> (),
// may export the reactor start function "_initialize", and import
// "env" "call" (i32, i32) -> () to emit one encoded Call frame per
// invocation. WASI preview1 imports are served by wasi-go.
package wazero

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vg-engine/vg/runtime"
)

const (
	// Name is the name the backend is registered under.
	Name = "wazero"

	// snapshotBackendID identifies snapshots this backend can restore.
	snapshotBackendID = "wazero/1"

	guestModuleName = "guest"
)

// Backend loads guests into isolated wazero runtimes that share one
// compilation cache.
type Backend struct {
	cfg    Config
	logger *zap.Logger
	cache  wazero.CompilationCache

	mu        sync.Mutex
	instances map[*Instance]struct{}
	closed    bool
}

var _ runtime.Backend = (*Backend)(nil)

// New creates a Backend. A nil cfg selects DefaultConfig.
func New(cfg *Config) (*Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wazero: invalid config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:       *cfg,
		logger:    logger.Named(Name),
		cache:     wazero.NewCompilationCache(),
		instances: make(map[*Instance]struct{}),
	}, nil
}

func (b *Backend) Name() string { return Name }

// Load validates image against guest ABI v1 and instantiates it.
func (b *Backend) Load(ctx context.Context, image []byte) (runtime.Instance, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", runtime.ErrLoad)
	}
	inst, err := b.instantiate(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", runtime.ErrLoad, err)
	}
	inst.logger.Debug("instance loaded", zap.Int("image_size", len(image)))
	return inst, nil
}

// Deserialize restores an instance from a snapshot taken by Instance.Serialize.
func (b *Backend) Deserialize(ctx context.Context, snapshot []byte) (runtime.Instance, error) {
	s, err := runtime.UnmarshalSnapshot(snapshot, snapshotBackendID)
	if err != nil {
		return nil, err
	}
	return b.restore(ctx, s)
}

// Close closes every live instance and the compilation cache.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	live := slices.Collect(maps.Keys(b.instances))
	b.mu.Unlock()

	var err error
	for _, inst := range live {
		err = multierr.Append(err, inst.Close(ctx))
	}
	return multierr.Append(err, b.cache.Close(ctx))
}

func (b *Backend) runtimeConfig() wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	switch b.cfg.Mode {
	case ModeCompiler:
		rc = wazero.NewRuntimeConfigCompiler()
	default:
		rc = wazero.NewRuntimeConfigInterpreter()
	}
	rc = rc.WithCloseOnContextDone(true).WithCompilationCache(b.cache)
	if b.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(b.cfg.MemoryLimitPages)
	}
	return rc
}

// instantiate compiles image in a fresh runtime, links the host modules and
// runs the guest's start function. Nothing stays allocated on failure.
func (b *Backend) instantiate(ctx context.Context, image []byte) (_ *Instance, err error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, runtime.ErrClosed
	}

	r := wazero.NewRuntimeWithConfig(ctx, b.runtimeConfig())
	id := uuid.NewString()
	inst := &Instance{
		backend: b,
		id:      id,
		image:   bytes.Clone(image),
		budget:  b.cfg.TickBudget,
		logger:  b.logger.With(zap.String("instance", id)),
		runtime: r,
	}
	defer func() {
		if err != nil {
			inst.release(context.WithoutCancel(ctx))
		}
	}()

	compiled, err := r.CompileModule(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("wazero compile error: %w", err)
	}
	if err := validateABI(compiled); err != nil {
		return nil, err
	}
	inst.layout = layoutFingerprint(compiled)

	if inst.wasi, err = instantiateWASI(ctx, r, compiled, b.cfg.Env); err != nil {
		return nil, err
	}
	if _, err := instantiateHostModule(ctx, r, inst.hostCall); err != nil {
		return nil, fmt.Errorf("host module instantiation failed: %w", err)
	}

	config := wazero.NewModuleConfig().
		WithName(guestModuleName).
		WithStartFunctions(guestStartFunction) // reactor module
	initCtx, cancel := inst.callContext(ctx)
	mod, err := r.InstantiateModule(initCtx, compiled, config)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("guest module instantiation failed: %w", err)
	}
	inst.module = mod
	inst.tick = mod.ExportedFunction(guestExportTick)
	inst.allocate = mod.ExportedFunction(guestExportAllocate)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, runtime.ErrClosed
	}
	b.instances[inst] = struct{}{}
	return inst, nil
}

// restore instantiates the snapshot's image and overwrites the fresh state
// with the captured one.
func (b *Backend) restore(ctx context.Context, s *runtime.Snapshot) (*Instance, error) {
	inst, err := b.instantiate(ctx, s.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", runtime.ErrCorruptSnapshot, err)
	}
	if !bytes.Equal(inst.layout, s.Layout) {
		inst.Close(ctx)
		return nil, fmt.Errorf("snapshot layout %x, image layout %x: %w", s.Layout, inst.layout, runtime.ErrLayoutMismatch)
	}
	if err := inst.load(s); err != nil {
		inst.Close(ctx)
		return nil, err
	}
	inst.logger.Debug("instance restored", zap.Uint64("ticks", s.Ticks))
	return inst, nil
}

func (b *Backend) untrack(inst *Instance) {
	b.mu.Lock()
	delete(b.instances, inst)
	b.mu.Unlock()
}

// load writes the captured memory and globals into a freshly instantiated guest.
func (i *Instance) load(s *runtime.Snapshot) error {
	mem := i.module.Memory()
	if len(s.Memory)%pageSize != 0 {
		return fmt.Errorf("%w: memory size %d is not a whole number of pages", runtime.ErrCorruptSnapshot, len(s.Memory))
	}
	size := uint64(mem.Size())
	want := uint64(len(s.Memory))
	if want < size {
		return fmt.Errorf("%w: memory of %d bytes is smaller than the image's initial %d", runtime.ErrCorruptSnapshot, want, size)
	}
	if delta := (want - size) / pageSize; delta > 0 {
		if _, ok := mem.Grow(uint32(delta)); !ok {
			return fmt.Errorf("%w: cannot grow memory to %d bytes", runtime.ErrCorruptSnapshot, want)
		}
	}
	if err := (guestMemory{mem}).Write(0, s.Memory); err != nil {
		return fmt.Errorf("%w: %w", runtime.ErrCorruptSnapshot, err)
	}

	for _, g := range s.Globals {
		mg, ok := i.module.ExportedGlobal(g.Name).(api.MutableGlobal)
		if !ok {
			return fmt.Errorf("%w: guest has no mutable global %q", runtime.ErrCorruptSnapshot, g.Name)
		}
		mg.Set(g.Value)
	}

	i.ticks = s.Ticks
	i.elapsed = s.Elapsed
	i.pending = nil
	return nil
}
