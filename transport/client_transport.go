// Package transport implements the proxy side of a worker channel with multiplexing,
// readiness observation and heartbeat.
//
// ClientTransport lets many concurrent calls share one channel. Each call gets a unique
// sequence id, and a background goroutine (recvLoop) continuously reads frames and routes
// responses to the matching call through the pending table.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single channel ──→ worker
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → Call settles → goroutine-2 wakes up
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"workerproxy/codec"
	"workerproxy/logging"
	"workerproxy/message"
	"workerproxy/protocol"
)

// DefaultHeartbeat is the keep-alive interval used when none is configured.
const DefaultHeartbeat = 30 * time.Second

// Option configures a ClientTransport.
type Option func(*ClientTransport)

// WithHeartbeat sets the keep-alive interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(t *ClientTransport) {
		t.heartbeat = interval
	}
}

// WithLogger sets the transport's logger. Defaults to the shared logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) {
		t.logger = l
	}
}

// ClientTransport manages one multiplexed worker channel.
type ClientTransport struct {
	conn      io.ReadWriteCloser
	codec     codec.CodecType // serialization format for requests
	pending   *pendingTable
	sending   sync.Mutex // one frame at a time: req A's header + req B's body = corruption
	heartbeat time.Duration
	logger    *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
	members   []string // set before ready is closed

	closed    chan struct{}
	closeOnce sync.Once
	err       error // why the transport closed, set before closed is closed
	closeErr  error // result of conn.Close
}

// NewClientTransport wraps conn and starts two background goroutines:
//   - recvLoop: reads frames, observes readiness, and settles pending calls
//   - heartbeatLoop: sends periodic heartbeat frames so idle channels are noticed
func NewClientTransport(conn io.ReadWriteCloser, codecType codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     codecType,
		pending:   newPendingTable(),
		heartbeat: DefaultHeartbeat,
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.Or(t.logger)

	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Ready is closed when the worker's readiness signal arrives.
func (t *ClientTransport) Ready() <-chan struct{} {
	return t.ready
}

// Members returns the member names announced by the worker, nil before readiness.
func (t *ClientTransport) Members() []string {
	select {
	case <-t.ready:
		return append([]string(nil), t.members...)
	default:
		return nil
	}
}

// Done is closed once the transport has shut down.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closed
}

// Err returns why the transport shut down, nil while it is open.
// The error always matches errors.Is(err, ErrClosed).
func (t *ClientTransport) Err() error {
	select {
	case <-t.closed:
		return t.err
	default:
		return nil
	}
}

// Pending returns the number of outstanding calls.
func (t *ClientTransport) Pending() int {
	return t.pending.len()
}

// Send posts a request for member and returns the call tracking it. Send never blocks on
// the worker's reply; failures to send settle the returned call immediately.
//
// The call is recorded in the pending table before the frame is written, under the
// sending lock, so recvLoop can never see a response for an unknown id of ours.
func (t *ClientTransport) Send(member string, args ...any) *Call {
	req := message.Request{Member: member, Args: make([]json.RawMessage, len(args))}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return failedCall(member, fmt.Errorf("argument %d: %w", i, err))
		}
		req.Args[i] = raw
	}

	body, err := codec.GetCodec(t.codec).Encode(&req)
	if err != nil {
		return failedCall(member, err)
	}
	// The worker drops a channel that carries an oversized frame.
	if len(body) > int(protocol.MaxBodyLen) {
		return failedCall(member, fmt.Errorf("%w: %d bytes, limit %d", ErrRequestTooLarge, len(body), protocol.MaxBodyLen))
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	call := newCall(member)
	id, err := t.pending.add(call)
	if err != nil {
		call.settle(nil, err)
		return call
	}

	err = protocol.Encode(t.conn, &protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       id,
	}, body)
	if err != nil {
		t.pending.remove(id)
		call.settle(nil, fmt.Errorf("send %s: %w", member, err))
		// A failed write may have left a partial frame behind.
		t.shutdown(err)
	}
	return call
}

// recvLoop runs in a dedicated goroutine. Reads must be sequential to keep frame
// boundaries intact, so it is the only reader of the channel.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}

		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		switch header.MsgType {
		case protocol.MsgTypeReady:
			var ready message.Ready
			if err := cdc.Decode(body, &ready); err != nil {
				t.logger.Warn("decode ready", zap.Error(err))
			}
			t.readyOnce.Do(func() {
				t.members = ready.Members
				close(t.ready)
			})

		case protocol.MsgTypeResponse:
			call, ok := t.pending.remove(header.Seq)
			if !ok {
				t.logger.Debug("dropping response for unknown call", zap.Uint32("seq", header.Seq))
				continue
			}

			var resp message.Response
			if err := cdc.Decode(body, &resp); err != nil {
				call.settle(nil, fmt.Errorf("decode response: %w", err))
				continue
			}
			if resp.Failed() {
				call.settle(nil, &RemoteError{Member: call.Member, Description: resp.Error})
				continue
			}
			call.settle(resp.Payload, nil)

		case protocol.MsgTypeHeartbeat:

		default:
			t.logger.Debug("unexpected frame", zap.Stringer("type", header.MsgType), zap.Uint32("seq", header.Seq))
		}
	}
}

// shutdown closes the channel once and fails every pending call so none of them waits
// forever on a worker that is gone.
func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.err = ErrClosed
		if cause != nil && !isClosed(cause) {
			t.err = fmt.Errorf("%w: %w", ErrClosed, cause)
		}

		calls := t.pending.close(t.err)
		t.closeErr = t.conn.Close()
		for _, call := range calls {
			call.settle(nil, t.err)
		}
		close(t.closed)

		if len(calls) > 0 || t.err != ErrClosed {
			t.logger.Debug("transport closed", zap.Int("failed_calls", len(calls)), zap.Error(t.err))
		}
	})
}

// Close shuts the transport down. Outstanding calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	t.shutdown(nil)
	return t.closeErr
}

// heartbeatLoop sends periodic heartbeat frames until the transport closes.
// Heartbeat frames have no body, and the worker skips them.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}

		t.sending.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
