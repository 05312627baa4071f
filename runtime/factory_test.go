package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	Register("fake-registry", func(any) (Backend, error) { return &fakeBackend{}, nil })
	t.Cleanup(func() { delete(backendFactories, "fake-registry") })

	b, err := New("fake-registry", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", b.Name())
	assert.Contains(t, List(), "fake-registry")

	assert.Panics(t, func() {
		Register("fake-registry", func(any) (Backend, error) { return nil, nil })
	})

	_, err = New("missing", nil)
	assert.ErrorIs(t, err, ErrBackendNotFound)
}
