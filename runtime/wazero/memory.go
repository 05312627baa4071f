package wazero

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/vg-engine/vg/runtime"
)

const pageSize = 65536

// guestMemory is the bounds-checked runtime.Memory over a wazero memory.
type guestMemory struct {
	memory api.Memory
}

var _ runtime.Memory = guestMemory{}

func (m guestMemory) Size() uint32 {
	return m.memory.Size()
}

// Read returns a copy of the range, so the result stays valid if the guest
// later grows or rewrites its memory.
func (m guestMemory) Read(offset, size uint32) ([]byte, error) {
	if err := runtime.CheckRange(m.memory.Size(), offset, size); err != nil {
		return nil, err
	}
	view, ok := m.memory.Read(offset, size)
	if !ok {
		return nil, fmt.Errorf("%w: read [%d, +%d)", runtime.ErrOutOfBounds, offset, size)
	}
	return bytes.Clone(view), nil
}

func (m guestMemory) Write(offset uint32, data []byte) error {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: write of %d bytes", runtime.ErrOutOfBounds, len(data))
	}
	if err := runtime.CheckRange(m.memory.Size(), offset, uint32(len(data))); err != nil {
		return err
	}
	if !m.memory.Write(offset, data) {
		return fmt.Errorf("%w: write [%d, +%d)", runtime.ErrOutOfBounds, offset, len(data))
	}
	return nil
}
