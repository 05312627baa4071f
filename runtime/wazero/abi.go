package wazero

import (
	"crypto/sha256"
	"fmt"
	"maps"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	guestExportMemory   = "memory"
	guestExportTick     = "__vg_tick"
	guestExportAllocate = "__vg_allocate"
	guestStartFunction  = "_initialize"

	abiVersionV1MarkerExport = "vg_abi_version_1"

	hostModuleName = "env"
	hostCallImport = "call"
)

// abiGlobals are the exported mutable globals captured in snapshots. Guests
// keep their stack pointer and allocator state in them.
var abiGlobals = []string{"__stack_pointer", "__vg_heap"}

// ABIVersion represents the detected guest ABI.
type ABIVersion uint8

const (
	// ABIUnknown indicates that no known ABI marker was exported.
	ABIUnknown ABIVersion = iota
	// ABIV1 indicates the guest exports the ABI v1 marker.
	ABIV1
)

func (v ABIVersion) String() string {
	switch v {
	case ABIV1:
		return "v1"
	case ABIUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

func detectABIVersion(compiled wazero.CompiledModule) ABIVersion {
	if compiled == nil {
		return ABIUnknown
	}
	marker, ok := compiled.ExportedFunctions()[abiVersionV1MarkerExport]
	if ok && len(marker.ParamTypes()) == 0 && len(marker.ResultTypes()) == 0 {
		return ABIV1
	}
	return ABIUnknown
}

type exportSignature struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

var requiredExports = []exportSignature{
	{name: guestExportTick, params: []api.ValueType{api.ValueTypeF64}},
	{name: guestExportAllocate, params: []api.ValueType{api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}},
}

// validateABI checks that compiled implements guest ABI v1.
func validateABI(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[guestExportMemory]; !ok {
		return fmt.Errorf("guest doesn't export memory[%s]: %w", guestExportMemory, ErrMemoryNotExported)
	}
	if detectABIVersion(compiled) != ABIV1 {
		return fmt.Errorf("%s is not exported as a func of type () -> (): %w", abiVersionV1MarkerExport, ErrABIVersionMarkerNotExported)
	}

	exports := compiled.ExportedFunctions()
	for _, want := range requiredExports {
		def, ok := exports[want.name]
		if !ok {
			return fmt.Errorf("%s is not exported: %w", want.name, ErrRequiredFunctionNotExported)
		}
		if !slices.Equal(def.ParamTypes(), want.params) || !slices.Equal(def.ResultTypes(), want.results) {
			return fmt.Errorf("%s has type %s, want %s: %w",
				want.name,
				signature(def.ParamTypes(), def.ResultTypes()),
				signature(want.params, want.results),
				ErrSignatureMismatch)
		}
	}
	return nil
}

func signature(params, results []api.ValueType) string {
	name := func(types []api.ValueType) string {
		s := "("
		for i, t := range types {
			if i > 0 {
				s += ", "
			}
			s += api.ValueTypeName(t)
		}
		return s + ")"
	}
	return name(params) + " -> " + name(results)
}

// layoutFingerprint digests the parts of a module that carried state
// depends on: exported and imported function signatures and the memory
// limits. Two builds of a guest with equal fingerprints can usually share a
// snapshot.
func layoutFingerprint(compiled wazero.CompiledModule) []byte {
	h := sha256.New()

	exports := compiled.ExportedFunctions()
	for _, name := range slices.Sorted(maps.Keys(exports)) {
		def := exports[name]
		fmt.Fprintf(h, "export func %s %s\n", name, signature(def.ParamTypes(), def.ResultTypes()))
	}

	var imports []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		imports = append(imports, fmt.Sprintf("import func %s.%s %s\n", module, name, signature(def.ParamTypes(), def.ResultTypes())))
	}
	slices.Sort(imports)
	for _, line := range imports {
		h.Write([]byte(line))
	}

	memories := compiled.ExportedMemories()
	for _, name := range slices.Sorted(maps.Keys(memories)) {
		def := memories[name]
		limit, bounded := def.Max()
		fmt.Fprintf(h, "export memory %s min=%d max=%d bounded=%t\n", name, def.Min(), limit, bounded)
	}

	return h.Sum(nil)
}
