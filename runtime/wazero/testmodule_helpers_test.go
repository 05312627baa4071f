package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vg-engine/vg/protocol"
)

const (
	wasmTypeCall     = iota // (i32, i32) -> ()
	wasmTypeTick            // (f64) -> ()
	wasmTypeAllocate        // (i32) -> i32
	wasmTypeFunc0To0        // () -> ()
)

const (
	heapStart  = 1024
	counterPtr = 16
)

// testModule describes a hand-assembled ABI v1 guest. Function 0 is the
// imported env.call; local functions are tick (1), allocate (2), the ABI
// marker (3) and _initialize (4). Globals are the bump allocator's heap
// pointer (0, exported as __vg_heap), the last allocated pointer (1) and
// length (2).
type testModule struct {
	// tick is the body of __vg_tick, without locals or the final end.
	tick []byte
	// initialize, when set, is the body of an exported _initialize.
	initialize []byte
	// data is copied to address 0.
	data []byte

	tickType   byte
	noMemory   bool
	noMarker   bool
	noTick     bool
	noAllocate bool
	maxPages   uint32
}

func (m testModule) build() []byte {
	module := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}

	appendSection := func(sectionID byte, payload []byte) {
		module = append(module, sectionID)
		module = append(module, encodeULEB128Test(uint32(len(payload)))...)
		module = append(module, payload...)
	}

	appendSection(0x01, []byte{
		0x04,                         // 4 types
		0x60, 0x02, 0x7f, 0x7f, 0x00, // (i32, i32) -> ()
		0x60, 0x01, 0x7c, 0x00, // (f64) -> ()
		0x60, 0x01, 0x7f, 0x01, 0x7f, // (i32) -> i32
		0x60, 0x00, 0x00, // () -> ()
	})

	importPayload := []byte{0x01}
	importPayload = appendName(importPayload, hostModuleName)
	importPayload = appendName(importPayload, hostCallImport)
	importPayload = append(importPayload, 0x00, wasmTypeCall) // kind=func
	appendSection(0x02, importPayload)

	tickType := byte(wasmTypeTick)
	if m.tickType != 0 {
		tickType = m.tickType
	}
	funcs := []byte{tickType, wasmTypeAllocate, wasmTypeFunc0To0}
	if m.initialize != nil {
		funcs = append(funcs, wasmTypeFunc0To0)
	}
	appendSection(0x03, append(encodeULEB128Test(uint32(len(funcs))), funcs...))

	if !m.noMemory {
		if m.maxPages > 0 {
			appendSection(0x05, append([]byte{0x01, 0x01, 0x01}, encodeULEB128Test(m.maxPages)...))
		} else {
			appendSection(0x05, []byte{0x01, 0x00, 0x01}) // 1 memory, min 1 page
		}
	}

	globals := []byte{0x03}
	for _, v := range []int32{heapStart, 0, 0} {
		globals = append(globals, 0x7f, 0x01, 0x41) // mut i32 = i32.const
		globals = append(globals, encodeSLEB128Test(v)...)
		globals = append(globals, 0x0b)
	}
	appendSection(0x06, globals)

	var exports [][]byte
	if !m.noMemory {
		exports = append(exports, appendExport(nil, guestExportMemory, 0x02, 0))
	}
	if !m.noTick {
		exports = append(exports, appendExport(nil, guestExportTick, 0x00, 1))
	}
	if !m.noAllocate {
		exports = append(exports, appendExport(nil, guestExportAllocate, 0x00, 2))
	}
	if !m.noMarker {
		exports = append(exports, appendExport(nil, abiVersionV1MarkerExport, 0x00, 3))
	}
	if m.initialize != nil {
		exports = append(exports, appendExport(nil, guestStartFunction, 0x00, 4))
	}
	exports = append(exports, appendExport(nil, "__vg_heap", 0x03, 0))
	exportPayload := encodeULEB128Test(uint32(len(exports)))
	for _, e := range exports {
		exportPayload = append(exportPayload, e...)
	}
	appendSection(0x07, exportPayload)

	allocate := []byte{
		0x23, 0x00, 0x24, 0x01, // last_ptr = heap
		0x20, 0x00, 0x24, 0x02, // last_len = len
		0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, // heap += len
		0x23, 0x01, // return last_ptr
	}
	bodies := [][]byte{m.tick, allocate, nil}
	if m.initialize != nil {
		bodies = append(bodies, m.initialize)
	}
	codePayload := encodeULEB128Test(uint32(len(bodies)))
	for _, instrs := range bodies {
		body := append([]byte{0x00}, instrs...) // no locals
		body = append(body, 0x0b)
		codePayload = append(codePayload, encodeULEB128Test(uint32(len(body)))...)
		codePayload = append(codePayload, body...)
	}
	appendSection(0x0a, codePayload)

	if len(m.data) > 0 && !m.noMemory {
		dataPayload := []byte{
			0x01,       // 1 segment
			0x00,       // active segment for memory index 0
			0x41, 0x00, // i32.const 0
			0x0b, // end
		}
		dataPayload = append(dataPayload, encodeULEB128Test(uint32(len(m.data)))...)
		dataPayload = append(dataPayload, m.data...)
		appendSection(0x0b, dataPayload)
	}

	return module
}

// emitCall returns instructions calling env.call(ptr, size).
func emitCall(ptr, size int32) []byte {
	b := []byte{0x41}
	b = append(b, encodeSLEB128Test(ptr)...)
	b = append(b, 0x41)
	b = append(b, encodeSLEB128Test(size)...)
	return append(b, 0x10, 0x00) // call 0
}

// storeI32 returns instructions storing v at addr.
func storeI32(addr, v int32) []byte {
	b := []byte{0x41}
	b = append(b, encodeSLEB128Test(addr)...)
	b = append(b, 0x41)
	b = append(b, encodeSLEB128Test(v)...)
	return append(b, 0x36, 0x02, 0x00) // i32.store align=2
}

var (
	// incrementCounter adds one to the i32 at counterPtr.
	incrementCounter = []byte{
		0x41, counterPtr,
		0x41, counterPtr, 0x28, 0x02, 0x00, // i32.load
		0x41, 0x01, 0x6a, // i32.add 1
		0x36, 0x02, 0x00, // i32.store
	}
	// spinForever never returns.
	spinForever = []byte{0x03, 0x40, 0x0c, 0x00, 0x0b} // loop br 0 end
	// unreachable traps.
	unreachable = []byte{0x00}
	// echoLastAllocation passes the last allocated buffer back to env.call.
	echoLastAllocation = []byte{0x23, 0x01, 0x23, 0x02, 0x10, 0x00}
)

// helloModule emits Print("hello") on every tick.
func helloModule() testModule {
	frame := protocol.EncodeCall(protocol.Print{Text: "hello"})
	return testModule{tick: emitCall(0, int32(len(frame))), data: frame}
}

func counterModule() testModule {
	return testModule{tick: incrementCounter}
}

func appendName(b []byte, name string) []byte {
	b = append(b, encodeULEB128Test(uint32(len(name)))...)
	return append(b, name...)
}

func appendExport(b []byte, name string, kind byte, index uint32) []byte {
	b = appendName(b, name)
	b = append(b, kind)
	return append(b, encodeULEB128Test(index)...)
}

func encodeULEB128Test(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func encodeSLEB128Test(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func newTestBackend(t *testing.T, cfg *Config) *Backend {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Close(context.Background()))
	})
	return b
}

func loadTestModule(t *testing.T, b *Backend, m testModule) *Instance {
	t.Helper()
	inst, err := b.Load(context.Background(), m.build())
	require.NoError(t, err)
	return inst.(*Instance)
}

func readCounter(t *testing.T, inst *Instance) uint32 {
	t.Helper()
	b, err := inst.Memory().Read(counterPtr, 4)
	require.NoError(t, err)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
