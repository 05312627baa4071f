//go:build wasm

package mem

//go:wasmexport __vg_allocate
func allocate(size uint32) uint32 {
	return Allocate(size)
}
