package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := reg.Watch(ctx, "foo-worker")

	require.NoError(t, reg.Register("foo-worker", Instance{Addr: ":8001"}, 10))
	require.NoError(t, reg.Register("foo-worker", Instance{Addr: ":8002"}, 10))

	instances, err := reg.Discover("foo-worker")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// only the latest list is kept for a slow watcher
	assert.Len(t, <-updates, 2)

	require.NoError(t, reg.Deregister("foo-worker", ":8001"))
	instances, err = reg.Discover("foo-worker")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, ":8002", instances[0].Addr)
	assert.Len(t, <-updates, 1)

	instances, err = reg.Discover("missing")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryRegistryWatchStops(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "foo-worker")

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}

	// later changes reach no closed channel
	require.NoError(t, reg.Register("foo-worker", Instance{Addr: ":8001"}, 10))
	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Empty(t, reg.watchers["foo-worker"])
}
