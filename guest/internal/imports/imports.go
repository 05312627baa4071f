// Package imports wraps the functions the host provides to the guest.
package imports

import (
	"runtime"

	"github.com/vg-engine/vg/guest/internal/mem"
)

// Call hands one encoded Call frame to the host. The host copies it before
// returning, so frame may be reused afterwards.
func Call(frame []byte) {
	send(frame)
}

func hostSend(frame []byte) {
	hostCall(mem.Ptr(frame), uint32(len(frame)))
	runtime.KeepAlive(frame) // until ptr is no longer needed.
}
