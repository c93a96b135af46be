package worker

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workerproxy/codec"
	"workerproxy/message"
	"workerproxy/middleware"
	"workerproxy/protocol"
)

// rawPeer drives a worker with hand-built frames.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	cdc  codec.Codec
}

func (p *rawPeer) send(seq uint32, member string, args ...any) {
	p.t.Helper()
	body, err := p.cdc.Encode(request(p.t, member, args...))
	require.NoError(p.t, err)
	p.sendRaw(protocol.MsgTypeRequest, seq, body)
}

func (p *rawPeer) sendRaw(mt protocol.MsgType, seq uint32, body []byte) {
	p.t.Helper()
	require.NoError(p.t, protocol.Encode(p.conn, &protocol.Header{
		CodecType: byte(p.cdc.Type()),
		MsgType:   mt,
		Seq:       seq,
	}, body))
}

func (p *rawPeer) recv() (*protocol.Header, *message.Response) {
	p.t.Helper()
	header, body, err := protocol.Decode(p.conn)
	require.NoError(p.t, err)
	require.Equal(p.t, protocol.MsgTypeResponse, header.MsgType)

	var resp message.Response
	require.NoError(p.t, codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &resp))
	return header, &resp
}

func (p *rawPeer) ready() []string {
	p.t.Helper()
	header, body, err := protocol.Decode(p.conn)
	require.NoError(p.t, err)
	require.Equal(p.t, protocol.MsgTypeReady, header.MsgType)

	var ready message.Ready
	require.NoError(p.t, codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &ready))
	return ready.Members
}

func servePipe(t *testing.T, ct codec.CodecType, opts ...Option) *rawPeer {
	t.Helper()

	w, err := New(newFoo(), opts...)
	require.NoError(t, err)

	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- w.ServeConn(server) }()

	t.Cleanup(func() {
		client.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("ServeConn did not return after the peer closed")
		}
	})

	return &rawPeer{t: t, conn: client, cdc: codec.GetCodec(ct)}
}

func TestServeConnReadyFirst(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeJSON)

	members := peer.ready()
	assert.Contains(t, members, "Foo")
	assert.Contains(t, members, "Identity")
}

func TestServeConnRequest(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			peer := servePipe(t, ct)
			peer.ready()

			peer.send(123, "add", 1, 2)
			header, resp := peer.recv()

			assert.Equal(t, uint32(123), header.Seq)
			assert.Equal(t, byte(ct), header.CodecType)
			require.False(t, resp.Failed(), resp.Error)
			assert.JSONEq(t, "3", string(resp.Payload))
		})
	}
}

func TestServeConnSkipsHeartbeat(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeJSON)
	peer.ready()

	peer.sendRaw(protocol.MsgTypeHeartbeat, 0, nil)
	peer.send(1, "foo")

	header, resp := peer.recv()
	assert.Equal(t, uint32(1), header.Seq)
	assert.JSONEq(t, `"foo"`, string(resp.Payload))
}

func TestServeConnMalformedRequest(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeJSON)
	peer.ready()

	peer.sendRaw(protocol.MsgTypeRequest, 9, []byte("{not json"))

	header, resp := peer.recv()
	assert.Equal(t, uint32(9), header.Seq)
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "Error: malformed request")
}

func TestServeConnOutOfOrder(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeJSON)
	peer.ready()

	peer.send(1, "sleep", 200)
	peer.send(2, "foo")

	// the fast call completes first even though it was sent second
	header, resp := peer.recv()
	assert.Equal(t, uint32(2), header.Seq)
	assert.JSONEq(t, `"foo"`, string(resp.Payload))

	header, resp = peer.recv()
	assert.Equal(t, uint32(1), header.Seq)
	assert.JSONEq(t, `"slept"`, string(resp.Payload))
}

func TestServeConnMiddleware(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeJSON,
		WithMiddleware(middleware.TimeOutMiddleware(20*time.Millisecond)))
	peer.ready()

	peer.send(5, "sleep", 10_000)
	_, resp := peer.recv()
	assert.Equal(t, "Error: request timed out", resp.Error)
}

func TestReadyCodec(t *testing.T) {
	peer := servePipe(t, codec.CodecTypeBinary, WithCodec(codec.CodecTypeBinary))

	header, body, err := protocol.Decode(peer.conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodecTypeBinary, header.CodecType)

	var ready message.Ready
	require.NoError(t, (&codec.BinaryCodec{}).Decode(body, &ready))
	assert.NotEmpty(t, ready.Members)

	_, err = json.Marshal(ready)
	assert.NoError(t, err)
}

func TestServeConnRefusesWhileDraining(t *testing.T) {
	requests := newInflight()
	peer := servePipe(t, codec.CodecTypeJSON, withInflight(requests))
	peer.ready()

	peer.send(1, "sleep", 100)
	require.Eventually(t, func() bool {
		requests.mu.Lock()
		defer requests.mu.Unlock()
		return requests.n == 1
	}, time.Second, 5*time.Millisecond)

	idle := requests.drain()
	peer.send(2, "foo")

	header, resp := peer.recv()
	assert.Equal(t, uint32(2), header.Seq)
	assert.Equal(t, "Error: worker shutting down", resp.Error)

	header, resp = peer.recv()
	assert.Equal(t, uint32(1), header.Seq)
	assert.JSONEq(t, `"slept"`, string(resp.Payload))

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("still busy after the last request answered")
	}
}
