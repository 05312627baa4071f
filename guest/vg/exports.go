//go:build wasm

package vg

//go:wasmexport __vg_tick
func exportTick(delta float64) {
	tick(delta)
}

//go:wasmexport vg_abi_version_1
func abiVersion1() {}
