package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/vg-engine/vg/protocol"
)

const fakeBackendID = "fake/1"

// fakeBackend runs images of the form "<layout>:<body>". Its instances keep
// a counter that each tick increments and prints.
type fakeBackend struct {
	loads, deserializes int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, image []byte) (Instance, error) {
	b.loads++
	layout, ok := fakeLayout(image)
	if !ok {
		return nil, fmt.Errorf("%w: image has no layout", ErrLoad)
	}
	return &fakeInstance{id: strconv.Itoa(b.loads), image: image, layout: layout}, nil
}

func (b *fakeBackend) Deserialize(_ context.Context, snapshot []byte) (Instance, error) {
	b.deserializes++
	s, err := UnmarshalSnapshot(snapshot, fakeBackendID)
	if err != nil {
		return nil, err
	}
	layout, ok := fakeLayout(s.Image)
	if !ok {
		return nil, fmt.Errorf("%w: image has no layout", ErrCorruptSnapshot)
	}
	if !bytes.Equal(layout, s.Layout) {
		return nil, fmt.Errorf("%s != %s: %w", layout, s.Layout, ErrLayoutMismatch)
	}
	if len(s.Memory) != 8 {
		return nil, fmt.Errorf("%w: memory size %d", ErrCorruptSnapshot, len(s.Memory))
	}
	return &fakeInstance{
		id:      "restored",
		image:   s.Image,
		layout:  layout,
		counter: binary.LittleEndian.Uint64(s.Memory),
	}, nil
}

func (b *fakeBackend) Close(context.Context) error { return nil }

func fakeLayout(image []byte) ([]byte, bool) {
	layout, _, ok := bytes.Cut(image, []byte(":"))
	return layout, ok && len(layout) > 0
}

type fakeInstance struct {
	id      string
	image   []byte
	layout  []byte
	counter uint64
	closed  bool
}

func (i *fakeInstance) ID() string { return i.id }

func (i *fakeInstance) RunTick(context.Context, time.Duration) ([]protocol.Call, error) {
	if i.closed {
		return nil, ErrClosed
	}
	i.counter++
	return []protocol.Call{protocol.Print{Text: strconv.FormatUint(i.counter, 10)}}, nil
}

func (i *fakeInstance) Send(context.Context, protocol.Response) error { return nil }

func (i *fakeInstance) Serialize(context.Context) ([]byte, error) {
	if i.closed {
		return nil, ErrClosed
	}
	s := Snapshot{
		Backend: fakeBackendID,
		Image:   i.image,
		Layout:  i.layout,
		Memory:  binary.LittleEndian.AppendUint64(nil, i.counter),
		Ticks:   i.counter,
	}
	return s.Marshal(), nil
}

func (i *fakeInstance) Close(context.Context) error {
	i.closed = true
	return nil
}

// copyingInstance overrides duplication.
type copyingInstance struct {
	*fakeInstance
	duplicated bool
}

func (i *copyingInstance) Duplicate(context.Context) (Instance, error) {
	i.duplicated = true
	c := *i.fakeInstance
	return &c, nil
}
