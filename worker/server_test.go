package worker

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerproxy/codec"
	"workerproxy/middleware"
	"workerproxy/protocol"
	"workerproxy/registry"
)

func startServer(t *testing.T, factory Factory, reg registry.Registry) (*Server, <-chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svr := NewServer("foo-worker", factory)
	svr.Use(middleware.LoggingMiddleware(nil))

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(listener, "", reg) }()

	require.Eventually(t, func() bool { return svr.Addr() != nil }, time.Second, 10*time.Millisecond)
	return svr, done
}

func dialPeer(t *testing.T, addr string) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn, cdc: codec.GetCodec(codec.CodecTypeJSON)}
}

func TestServer(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr, done := startServer(t, func() (any, error) { return newFoo(), nil }, reg)

	instances, err := reg.Discover("foo-worker")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, svr.Addr().String(), instances[0].Addr)

	peer := dialPeer(t, svr.Addr().String())
	assert.Contains(t, peer.ready(), "Foo")

	peer.send(123, "add", 1, 2)
	header, resp := peer.recv()
	assert.Equal(t, uint32(123), header.Seq)
	assert.JSONEq(t, "3", string(resp.Payload))

	require.NoError(t, svr.Shutdown(time.Second))
	assert.NoError(t, <-done)

	instances, err = reg.Discover("foo-worker")
	require.NoError(t, err)
	assert.Empty(t, instances)

	// the connection is closed after shutdown
	_, _, err = protocol.Decode(peer.conn)
	assert.Error(t, err)
}

func TestServerTargetPerConnection(t *testing.T) {
	svr, _ := startServer(t, func() (any, error) { return newFoo(), nil }, nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	a := dialPeer(t, svr.Addr().String())
	b := dialPeer(t, svr.Addr().String())
	a.ready()
	b.ready()

	a.send(1, "foo")
	b.send(1, "bar")
	_, ra := a.recv()
	_, rb := b.recv()
	assert.JSONEq(t, `"foo"`, string(ra.Payload))
	assert.JSONEq(t, `"bar"`, string(rb.Payload))
}

func TestServerFactoryFailure(t *testing.T) {
	svr, _ := startServer(t, func() (any, error) { return nil, errors.New("no target") }, nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	peer := dialPeer(t, svr.Addr().String())

	// no Ready: the connection is simply closed
	_, _, err := protocol.Decode(peer.conn)
	assert.Error(t, err)
}

func TestServerShutdownWaitsForCalls(t *testing.T) {
	svr, _ := startServer(t, func() (any, error) { return newFoo(), nil }, nil)

	peer := dialPeer(t, svr.Addr().String())
	peer.ready()
	peer.send(1, "sleep", 100)
	time.Sleep(20 * time.Millisecond)

	result := make(chan error, 1)
	go func() { result <- svr.Shutdown(2 * time.Second) }()

	header, resp := peer.recv()
	assert.Equal(t, uint32(1), header.Seq)
	assert.JSONEq(t, `"slept"`, string(resp.Payload))
	assert.NoError(t, <-result)
}

func TestServerShutdownRefusesNewCalls(t *testing.T) {
	svr, _ := startServer(t, func() (any, error) { return newFoo(), nil }, nil)

	peer := dialPeer(t, svr.Addr().String())
	peer.ready()
	peer.send(1, "sleep", 200)
	require.Eventually(t, func() bool {
		svr.requests.mu.Lock()
		defer svr.requests.mu.Unlock()
		return svr.requests.n == 1
	}, time.Second, 5*time.Millisecond)

	result := make(chan error, 1)
	go func() { result <- svr.Shutdown(2 * time.Second) }()
	require.Eventually(t, func() bool {
		svr.requests.mu.Lock()
		defer svr.requests.mu.Unlock()
		return svr.requests.draining
	}, time.Second, 5*time.Millisecond)

	peer.send(2, "foo")
	header, resp := peer.recv()
	assert.Equal(t, uint32(2), header.Seq)
	assert.Equal(t, "Error: worker shutting down", resp.Error)

	header, resp = peer.recv()
	assert.Equal(t, uint32(1), header.Seq)
	assert.JSONEq(t, `"slept"`, string(resp.Payload))
	assert.NoError(t, <-result)
}
