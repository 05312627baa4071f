package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vg-engine/vg/runtime"
)

func tickN(t *testing.T, inst runtime.Instance, n int) {
	t.Helper()
	for range n {
		_, err := inst.RunTick(context.Background(), 0)
		require.NoError(t, err)
	}
}

func TestSerializeDeserialize(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	inst := loadTestModule(t, b, counterModule())
	tickN(t, inst, 3)

	_, err := inst.Allocate(ctx, 8)
	require.NoError(t, err)
	_, ok := inst.module.Memory().Grow(1)
	require.True(t, ok)

	snap, err := inst.Serialize(ctx)
	require.NoError(t, err)

	restored, err := b.Deserialize(ctx, snap)
	require.NoError(t, err)
	r := restored.(*Instance)
	assert.NotEqual(t, inst.ID(), r.ID())

	assert.EqualValues(t, 3, readCounter(t, r))
	assert.EqualValues(t, 2*pageSize, r.Memory().Size())
	assert.EqualValues(t, 3, r.Stats().Ticks)

	// The allocator's heap pointer was carried in its global.
	ptr, err := r.Allocate(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, heapStart+8, ptr)

	tickN(t, r, 1)
	assert.EqualValues(t, 4, readCounter(t, r))
	assert.EqualValues(t, 3, readCounter(t, inst))
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	inst := loadTestModule(t, b, counterModule())
	tickN(t, inst, 2)

	once, err := runtime.Duplicate(ctx, b, inst)
	require.NoError(t, err)
	twice, err := runtime.Duplicate(ctx, b, once)
	require.NoError(t, err)

	s1, err := once.Serialize(ctx)
	require.NoError(t, err)
	s2, err := twice.Serialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	// Duplicates evolve independently.
	tickN(t, once, 5)
	assert.EqualValues(t, 7, readCounter(t, once.(*Instance)))
	assert.EqualValues(t, 2, readCounter(t, twice.(*Instance)))
	assert.EqualValues(t, 2, readCounter(t, inst))
}

func TestDuplicateMatchesSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	inst := loadTestModule(t, b, counterModule())
	tickN(t, inst, 4)

	dup, err := inst.Duplicate(ctx)
	require.NoError(t, err)
	snap, err := inst.Serialize(ctx)
	require.NoError(t, err)
	viaBytes, err := b.Deserialize(ctx, snap)
	require.NoError(t, err)

	s1, err := dup.Serialize(ctx)
	require.NoError(t, err)
	s2, err := viaBytes.Serialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestDeserializeRejects(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	inst := loadTestModule(t, b, counterModule())
	snap, err := inst.Serialize(ctx)
	require.NoError(t, err)

	mutate := func(f func(s *runtime.Snapshot)) []byte {
		s, err := runtime.UnmarshalSnapshot(snap, snapshotBackendID)
		require.NoError(t, err)
		f(s)
		return s.Marshal()
	}

	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{name: "garbage", in: []byte("garbage")},
		{name: "other backend", in: mutate(func(s *runtime.Snapshot) { s.Backend = "wasmtime/1" })},
		{name: "partial page", in: mutate(func(s *runtime.Snapshot) { s.Memory = s.Memory[:100] })},
		{name: "memory too small", in: mutate(func(s *runtime.Snapshot) { s.Memory = nil })},
		{name: "unknown global", in: mutate(func(s *runtime.Snapshot) {
			s.Globals = append(s.Globals, runtime.Global{Name: "__nope", Value: 1})
		})},
		{name: "invalid image", in: mutate(func(s *runtime.Snapshot) { s.Image = []byte("nope") })},
		{
			name:    "layout mismatch",
			in:      mutate(func(s *runtime.Snapshot) { s.Image = testModule{tick: incrementCounter, maxPages: 4}.build() }),
			wantErr: runtime.ErrLayoutMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Deserialize(ctx, tt.in)
			assert.Nil(t, got)
			require.ErrorIs(t, err, runtime.ErrCorruptSnapshot)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
	// Only the source instance is left.
	assert.Len(t, b.instances, 1)
}

func TestReloadCarriesState(t *testing.T) {
	ctx := context.Background()
	doubleCounter := testModule{tick: append(append([]byte{}, incrementCounter...), incrementCounter...)}
	bounded := testModule{tick: incrementCounter, maxPages: 4}

	tests := []struct {
		name        string
		policy      runtime.CarryPolicy
		image       []byte
		wantCarried bool
		wantCounter uint32
	}{
		{name: "identical image", policy: runtime.CarryIdentical, image: counterModule().build(), wantCarried: true, wantCounter: 3},
		{name: "changed image", policy: runtime.CarryIdentical, image: doubleCounter.build(), wantCounter: 2},
		{name: "same layout", policy: runtime.CarryLayout, image: doubleCounter.build(), wantCarried: true, wantCounter: 4},
		{name: "different layout", policy: runtime.CarryLayout, image: bounded.build(), wantCounter: 1},
		{name: "reset", policy: runtime.CarryReset, image: counterModule().build(), wantCounter: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, nil)
			old := loadTestModule(t, b, counterModule())
			tickN(t, old, 2)

			next, carried, err := runtime.Reload(ctx, b, old, tt.image, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCarried, carried)

			tickN(t, next, 1)
			assert.Equal(t, tt.wantCounter, readCounter(t, next.(*Instance)))
		})
	}
}
