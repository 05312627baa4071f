//go:build wasm

package imports

//go:wasmimport env call
func hostCall(ptr, size uint32)

func send(frame []byte) {
	hostSend(frame)
}
