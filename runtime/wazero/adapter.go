package wazero

import (
	"context"
	"fmt"

	"github.com/stealthrocket/wasi-go"
	wasigo "github.com/stealthrocket/wasi-go/imports"
	"github.com/stealthrocket/wasi-go/imports/wasi_snapshot_preview1"
	"github.com/stealthrocket/wazergo"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// wasmEdgeV2Extension is the WASI sockets extension name
const wasmEdgeV2Extension = "wasmedgev2"

// wasiContext holds the WASI system of one instance.
type wasiContext struct {
	sys              wasi.System
	wasiP1HostModule *wasi_snapshot_preview1.Module
}

// instantiateWASI instantiates WASI preview1 into r for the given guest.
func instantiateWASI(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, env []string) (*wasiContext, error) {
	ctx, sys, err := wasigo.NewBuilder().
		WithSocketsExtension(wasmEdgeV2Extension, compiled).
		WithEnv(env...).
		Instantiate(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("wasi instantiation failed: %w", err)
	}

	// Extract the wasi host module instance from the context as a workaround
	// to avoid panic when calling wasi functions with different context than the one used to instantiate the host module.
	wasiP1HostModule, ok := moduleInstanceFor[*wasi_snapshot_preview1.Module](ctx)
	if !ok {
		sys.Close(ctx)
		return nil, fmt.Errorf("failed to retrieve wasi host module instance")
	}

	return &wasiContext{sys: sys, wasiP1HostModule: wasiP1HostModule}, nil
}

// Close releases the WASI system.
func (c *wasiContext) Close(ctx context.Context) error {
	return c.sys.Close(ctx)
}

// WithRuntimeContext returns a context under which guest functions may call WASI.
func (c *wasiContext) WithRuntimeContext(ctx context.Context) context.Context {
	return withModuleInstance(ctx, c.wasiP1HostModule)
}

// instantiateHostModule creates and instantiates the "env" module guests
// import env.call from.
func instantiateHostModule(ctx context.Context, r wazero.Runtime, call api.GoModuleFunc) (api.Module, error) {
	return r.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(call, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithParameterNames("ptr", "len").
		Export(hostCallImport).
		Instantiate(ctx)
}

// moduleInstanceFor returns the module instance from the context that contains the internal
// state required for WASI host functions.
// NOTE: wasi-go returns context containing internal state when initializing the host module,
// and the same context is required when calling wasi functions exposed by wasi-go.
func moduleInstanceFor[T wazergo.Module](ctx context.Context) (res T, ok bool) {
	res, ok = ctx.Value((*wazergo.ModuleInstance[T])(nil)).(T)
	return
}

// withModuleInstance returns a Go context inheriting from ctx and containing the
// state needed for module instantiated from wazero host module to properly bind
// their methods to their receiver (e.g. the module instance).
func withModuleInstance[T wazergo.Module](ctx context.Context, instance T) context.Context {
	return context.WithValue(ctx, (*wazergo.ModuleInstance[T])(nil), instance)
}
