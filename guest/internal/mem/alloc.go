// Package mem holds the buffers the host allocates in guest memory to pass
// responses in. Buffers are kept in allocation order until the guest pops
// them, which also keeps them reachable for the garbage collector.
package mem

import "unsafe"

// pending is the FIFO of host-allocated buffers not yet read by the guest.
var pending [][]byte

// Alloc allocates a zeroed buffer of size bytes and queues it.
func Alloc(size uint32) []byte {
	buf := make([]byte, size)
	pending = append(pending, buf)
	return buf
}

// Allocate is Alloc returning the buffer's address in linear memory. A
// zero size still yields a valid address and queues an empty buffer.
func Allocate(size uint32) uint32 {
	return Ptr(Alloc(size))
}

// Pop removes and returns the oldest queued buffer.
func Pop() ([]byte, bool) {
	if len(pending) == 0 {
		return nil, false
	}
	buf := pending[0]
	pending[0] = nil
	pending = pending[1:]
	if len(pending) == 0 {
		pending = nil
	}
	return buf, true
}

// Len returns the number of queued buffers.
func Len() int {
	return len(pending)
}

// Ptr returns the address of b's first element. The caller must keep b
// alive while the address is in use.
func Ptr(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
