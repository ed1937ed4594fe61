package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: ":8001", Weight: 1}, 10))
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: ":8002"}, 10))
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: ":8001", Weight: 3}, 10))

	got, err := reg.Discover(ctx, "Echo")
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{{Addr: ":8001", Weight: 3}, {Addr: ":8002"}}, got)

	require.NoError(t, reg.Deregister(ctx, "Echo", ":8001"))
	got, err = reg.Discover(ctx, "Echo")
	require.NoError(t, err)
	assert.Equal(t, []ServiceInstance{{Addr: ":8002"}}, got)

	got, err = reg.Discover(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryRegistryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "Echo")
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: ":8001"}, 10))
	require.NoError(t, reg.Register(ctx, "Echo", ServiceInstance{Addr: ":8002"}, 10))

	// only the latest snapshot is kept for a slow watcher
	select {
	case got := <-updates:
		assert.Len(t, got, 2)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
