package wazero

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vg-engine/vg/protocol"
	"github.com/vg-engine/vg/runtime"
)

// Instance is one guest running in its own wazero runtime.
type Instance struct {
	backend *Backend
	id      string
	image   []byte
	layout  []byte
	budget  time.Duration
	logger  *zap.Logger

	runtime  wazero.Runtime
	wasi     *wasiContext
	module   api.Module
	tick     api.Function
	allocate api.Function

	// pending collects the Calls emitted since the last tick returned.
	pending []protocol.Call
	// fault is set by a host function that aborts the running call.
	fault error

	ticks     uint64
	elapsed   time.Duration
	malformed uint64

	poison error
	closed bool
}

var (
	_ runtime.Instance      = (*Instance)(nil)
	_ runtime.Duplicator    = (*Instance)(nil)
	_ runtime.StatsReporter = (*Instance)(nil)
)

func (i *Instance) ID() string { return i.id }

// RunTick calls the guest's tick export with delta in seconds.
func (i *Instance) RunTick(ctx context.Context, delta time.Duration) ([]protocol.Call, error) {
	if err := i.usable(); err != nil {
		return nil, err
	}
	if _, err := i.call(ctx, i.tick, api.EncodeF64(delta.Seconds())); err != nil {
		return nil, err
	}
	i.ticks++
	i.elapsed += delta

	calls := i.pending
	i.pending = nil
	return calls, nil
}

// Send encodes r into a buffer the guest allocates for it.
func (i *Instance) Send(ctx context.Context, r protocol.Response) error {
	buf := protocol.EncodeResponse(r)
	ptr, err := i.Allocate(ctx, uint32(len(buf)))
	if err != nil {
		return err
	}
	if err := i.Memory().Write(ptr, buf); err != nil {
		return i.trap(err)
	}
	return nil
}

// Allocate asks the guest for a zeroed buffer of n bytes and returns its
// address. An address whose range falls outside memory traps the instance.
func (i *Instance) Allocate(ctx context.Context, n uint32) (uint32, error) {
	if err := i.usable(); err != nil {
		return 0, err
	}
	res, err := i.call(ctx, i.allocate, api.EncodeU32(n))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if err := runtime.CheckRange(i.module.Memory().Size(), ptr, n); err != nil {
		return 0, i.trap(fmt.Errorf("%s(%d) returned %d: %w", guestExportAllocate, n, ptr, err))
	}
	return ptr, nil
}

// Memory returns bounds-checked access to the guest's linear memory, or
// nil once the instance is closed or poisoned.
func (i *Instance) Memory() runtime.Memory {
	if i.module == nil {
		return nil
	}
	return guestMemory{i.module.Memory()}
}

func (i *Instance) Serialize(ctx context.Context) ([]byte, error) {
	if err := i.usable(); err != nil {
		return nil, err
	}
	s, err := i.capture()
	if err != nil {
		return nil, err
	}
	return s.Marshal(), nil
}

// Duplicate restores an in-process capture of i into a new instance,
// skipping the snapshot encoding.
func (i *Instance) Duplicate(ctx context.Context) (runtime.Instance, error) {
	if err := i.usable(); err != nil {
		return nil, err
	}
	s, err := i.capture()
	if err != nil {
		return nil, err
	}
	return i.backend.restore(ctx, s)
}

func (i *Instance) Stats() runtime.Stats {
	return runtime.Stats{Ticks: i.ticks, Elapsed: i.elapsed, Malformed: i.malformed}
}

// Close releases the instance. It is safe to call more than once and after a trap.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.backend.untrack(i)
	return i.release(ctx)
}

func (i *Instance) capture() (*runtime.Snapshot, error) {
	mem := i.module.Memory()
	data, err := guestMemory{mem}.Read(0, mem.Size())
	if err != nil {
		return nil, err
	}

	var globals []runtime.Global
	for _, name := range abiGlobals {
		if g, ok := i.module.ExportedGlobal(name).(api.MutableGlobal); ok {
			globals = append(globals, runtime.Global{Name: name, Value: g.Get()})
		}
	}

	return &runtime.Snapshot{
		Backend: snapshotBackendID,
		Image:   i.image,
		Layout:  i.layout,
		Memory:  data,
		Globals: globals,
		Ticks:   i.ticks,
		Elapsed: i.elapsed,
	}, nil
}

// hostCall implements env.call. An out of range frame aborts the running
// guest call; a malformed frame is dropped.
func (i *Instance) hostCall(_ context.Context, mod api.Module, stack []uint64) {
	ptr, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])

	buf, err := guestMemory{mod.Memory()}.Read(ptr, size)
	if err != nil {
		i.fault = fmt.Errorf("%s.%s(%d, %d): %w", hostModuleName, hostCallImport, ptr, size, err)
		panic(i.fault)
	}

	c, err := protocol.DecodeCall(buf)
	if err != nil {
		i.malformed++
		i.logger.Warn("dropping malformed call", zap.Uint64("tick", i.ticks+1), zap.Int("size", len(buf)), zap.Error(err))
		return
	}
	i.pending = append(i.pending, c)
}

func (i *Instance) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.wasi != nil {
		ctx = i.wasi.WithRuntimeContext(ctx)
	}
	if i.budget > 0 {
		return context.WithTimeout(ctx, i.budget)
	}
	return ctx, func() {}
}

// call invokes fn under the tick budget and converts every failure into a trap.
func (i *Instance) call(ctx context.Context, fn api.Function, params ...uint64) ([]uint64, error) {
	callCtx, cancel := i.callContext(ctx)
	defer cancel()

	i.fault = nil
	res, err := fn.Call(callCtx, params...)
	if err == nil {
		return res, nil
	}

	cause := err
	switch {
	case i.fault != nil:
		cause = i.fault
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		cause = fmt.Errorf("tick budget of %s: %w (%v)", i.budget, callCtx.Err(), err)
	case ctx.Err() != nil:
		cause = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return nil, i.trap(cause)
}

// trap poisons the instance and releases its runtime.
func (i *Instance) trap(cause error) error {
	err := &runtime.TrapError{InstanceID: i.id, Tick: i.ticks, Cause: cause}
	i.poison = err
	i.logger.Warn("guest trapped", zap.Uint64("tick", i.ticks), zap.Error(cause))
	if rerr := i.release(context.Background()); rerr != nil {
		i.logger.Debug("releasing trapped instance", zap.Error(rerr))
	}
	return err
}

func (i *Instance) usable() error {
	switch {
	case i.poison != nil:
		return runtime.Poisoned(i.poison)
	case i.closed:
		return fmt.Errorf("instance %s: %w", i.id, runtime.ErrClosed)
	default:
		return nil
	}
}

func (i *Instance) release(ctx context.Context) error {
	var err error
	if i.wasi != nil {
		err = multierr.Append(err, i.wasi.Close(ctx))
		i.wasi = nil
	}
	if i.runtime != nil {
		err = multierr.Append(err, i.runtime.Close(ctx))
		i.runtime = nil
	}
	i.module, i.tick, i.allocate = nil, nil, nil
	i.pending = nil
	return err
}
