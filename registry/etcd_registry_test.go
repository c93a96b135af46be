package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry connects to the etcd named by WORKERPROXY_ETCD (default localhost:2379)
// and skips the test when it is not reachable.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()

	endpoints := []string{"localhost:2379"}
	if env := os.Getenv("WORKERPROXY_ETCD"); env != "" {
		endpoints = strings.Split(env, ",")
	}

	reg, err := NewEtcdRegistry(endpoints)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, endpoints[0]); err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)

	inst1 := Instance{Addr: "127.0.0.1:8001", Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Version: "1.0"}

	require.NoError(t, reg.Register("foo-worker", inst1, 10))
	require.NoError(t, reg.Register("foo-worker", inst2, 10))
	t.Cleanup(func() {
		reg.Deregister("foo-worker", inst1.Addr)
		reg.Deregister("foo-worker", inst2.Addr)
	})

	instances, err := reg.Discover("foo-worker")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("foo-worker", inst1.Addr))

	instances, err = reg.Discover("foo-worker")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := reg.Watch(ctx, "watched-worker")
	time.Sleep(100 * time.Millisecond)

	inst := Instance{Addr: "127.0.0.1:8101"}
	require.NoError(t, reg.Register("watched-worker", inst, 10))
	t.Cleanup(func() { reg.Deregister("watched-worker", inst.Addr) })

	select {
	case instances := <-updates:
		require.Len(t, instances, 1)
		assert.Equal(t, inst.Addr, instances[0].Addr)
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
