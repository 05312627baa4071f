package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vg-engine/vg/protocol"
	"github.com/vg-engine/vg/runtime"
)

const fakeBackendID = "fake/1"

var errFakeFault = errors.New("unreachable")

// fakeBackend runs images whose words select the guest's behavior:
// "hello" prints hello, "count" prints a counter, "draw" emits every other
// call kind, "trap" traps on the second tick and "garbage" reports a
// malformed call every tick. Every tick ends with Present.
type fakeBackend struct {
	mu        sync.Mutex
	loads     int
	instances []*fakeInstance
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, image []byte) (runtime.Instance, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", runtime.ErrLoad)
	}
	return b.track(image, 0), nil
}

func (b *fakeBackend) Deserialize(_ context.Context, snapshot []byte) (runtime.Instance, error) {
	s, err := runtime.UnmarshalSnapshot(snapshot, fakeBackendID)
	if err != nil {
		return nil, err
	}
	if len(s.Memory) != 8 {
		return nil, fmt.Errorf("%w: memory size %d", runtime.ErrCorruptSnapshot, len(s.Memory))
	}
	return b.track(s.Image, binary.LittleEndian.Uint64(s.Memory)), nil
}

func (b *fakeBackend) Close(context.Context) error { return nil }

func (b *fakeBackend) track(image []byte, counter uint64) *fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	inst := &fakeInstance{id: "fake-" + strconv.Itoa(b.loads), image: string(image), counter: counter}
	b.instances = append(b.instances, inst)
	return inst
}

func (b *fakeBackend) loaded() []*fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeInstance(nil), b.instances...)
}

type fakeInstance struct {
	id        string
	image     string
	counter   uint64
	ticks     uint64
	malformed uint64
	sent      []protocol.Response
	deltas    []time.Duration
	poisoned  error

	mu     sync.Mutex
	closed bool
}

func (i *fakeInstance) ID() string { return i.id }

func (i *fakeInstance) usable() error {
	if i.poisoned != nil {
		return runtime.Poisoned(i.poisoned)
	}
	if i.isClosed() {
		return runtime.ErrClosed
	}
	return nil
}

func (i *fakeInstance) RunTick(_ context.Context, delta time.Duration) ([]protocol.Call, error) {
	if err := i.usable(); err != nil {
		return nil, err
	}
	i.deltas = append(i.deltas, delta)
	i.counter++

	if strings.Contains(i.image, "trap") && i.ticks == 1 {
		i.poisoned = &runtime.TrapError{InstanceID: i.id, Tick: i.ticks, Cause: errFakeFault}
		return nil, i.poisoned
	}
	i.ticks++

	var calls []protocol.Call
	if strings.Contains(i.image, "hello") {
		calls = append(calls, protocol.Print{Text: "hello"})
	}
	if strings.Contains(i.image, "count") {
		calls = append(calls, protocol.Print{Text: strconv.FormatUint(i.counter, 10)})
	}
	if strings.Contains(i.image, "draw") {
		calls = append(calls,
			protocol.Clear{Color: [4]float32{0, 0, 0, 1}},
			protocol.Draw{Texture: "ferris.png", Pos: [2]float32{1, 2}},
			protocol.PlaySound{Name: "cat.ogg", Volume: 1},
			protocol.Log{Level: 4, Message: "careful", Fields: map[string]string{"b": "2", "a": "1"}},
		)
	}
	if strings.Contains(i.image, "garbage") {
		i.malformed++
	}
	return append(calls, protocol.Present{}), nil
}

func (i *fakeInstance) Send(_ context.Context, r protocol.Response) error {
	if err := i.usable(); err != nil {
		return err
	}
	i.sent = append(i.sent, r)
	return nil
}

func (i *fakeInstance) Serialize(context.Context) ([]byte, error) {
	if err := i.usable(); err != nil {
		return nil, err
	}
	s := runtime.Snapshot{
		Backend: fakeBackendID,
		Image:   []byte(i.image),
		Layout:  []byte("fake"),
		Memory:  binary.LittleEndian.AppendUint64(nil, i.counter),
		Ticks:   i.ticks,
	}
	return s.Marshal(), nil
}

func (i *fakeInstance) Stats() runtime.Stats {
	return runtime.Stats{Ticks: i.ticks, Malformed: i.malformed}
}

func (i *fakeInstance) Close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

func (i *fakeInstance) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}
