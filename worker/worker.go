// Package worker runs a target object behind the call protocol.
//
// Serving pipeline for one channel:
//
//	ServeConn → send Ready → read loop (single goroutine reads frames)
//	  → for each request: go handleRequest (concurrent processing)
//	    → Codec.Decode → Middleware Chain → Dispatcher (reflect.Call) → Codec.Encode → write response
//
// Responses are written in completion order; the proxy matches them by seq.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"workerproxy/codec"
	"workerproxy/logging"
	"workerproxy/message"
	"workerproxy/middleware"
	"workerproxy/protocol"
)

// Factory constructs the target for one worker instance.
type Factory func() (any, error)

type options struct {
	middlewares []middleware.Middleware
	logger      *zap.Logger
	codec       codec.CodecType
	inflight    *inflight
}

// Option configures a Worker.
type Option func(*options)

// WithMiddleware appends middlewares, applied in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithLogger sets the worker's logger. Defaults to the shared logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCodec sets the codec of the Ready frame. Responses always use the codec of their request.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) {
		o.codec = ct
	}
}

func withInflight(f *inflight) Option {
	return func(o *options) {
		o.inflight = f
	}
}

// Worker serves one target over a channel.
type Worker struct {
	dispatcher *Dispatcher
	handler    middleware.HandlerFunc // middleware(middleware(...(dispatcher.Dispatch)))
	codec      codec.CodecType
	logger     *zap.Logger
	inflight   *inflight // shared with the hosting Server, may be nil
}

// New builds a worker around target. The middleware chain is built once, here.
func New(target any, opts ...Option) (*Worker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d, err := NewDispatcher(target)
	if err != nil {
		return nil, err
	}

	return &Worker{
		dispatcher: d,
		handler:    middleware.Chain(o.middlewares...)(d.Dispatch),
		codec:      o.codec,
		logger:     logging.Or(o.logger),
		inflight:   o.inflight,
	}, nil
}

// Members returns the names the target answers to.
func (w *Worker) Members() []string {
	return w.dispatcher.Names()
}

// ServeConn announces readiness on conn and then serves requests until the peer
// closes the channel. In-flight calls see their context cancelled when it does.
func (w *Worker) ServeConn(conn io.ReadWriteCloser) error {
	defer conn.Close()

	writeMu := &sync.Mutex{}
	if err := w.sendReady(conn, writeMu); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest:
		default:
			w.logger.Debug("unexpected frame", zap.Stringer("type", header.MsgType), zap.Uint32("seq", header.Seq))
			continue
		}

		// Without `go`, a slow member on one call would block every later call.
		wg.Add(1)
		if w.inflight != nil && !w.inflight.acquire() {
			go func() {
				defer wg.Done()
				w.reply(header, message.Failure("Error: worker shutting down"), conn, writeMu)
			}()
			continue
		}
		go func() {
			defer wg.Done()
			if w.inflight != nil {
				defer w.inflight.release()
			}
			w.handleRequest(ctx, header, body, conn, writeMu)
		}()
	}
}

func (w *Worker) sendReady(conn io.Writer, writeMu *sync.Mutex) error {
	body, err := codec.GetCodec(w.codec).Encode(&message.Ready{Members: w.dispatcher.Names()})
	if err != nil {
		return err
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	return protocol.Encode(conn, &protocol.Header{
		CodecType: byte(w.codec),
		MsgType:   protocol.MsgTypeReady,
	}, body)
}

// handleRequest processes one request: decode → middleware → dispatch → encode → write.
func (w *Worker) handleRequest(ctx context.Context, header *protocol.Header, body []byte, conn io.Writer, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))

	var resp *message.Response
	req := message.Request{}
	if err := c.Decode(body, &req); err != nil {
		resp = message.Failure(Describe(fmt.Errorf("malformed request: %w", err)))
	} else {
		req.ID = header.Seq
		resp = w.handler(ctx, &req)
	}
	if resp == nil {
		resp = message.Failure("Error: no response")
	}
	w.reply(header, resp, conn, writeMu)
}

// reply encodes resp in the request's codec and writes it under the request's seq.
func (w *Worker) reply(header *protocol.Header, resp *message.Response, conn io.Writer, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	result, err := c.Encode(resp)
	if err == nil && len(result) > int(protocol.MaxBodyLen) {
		err = fmt.Errorf("response of %d bytes exceeds %d", len(result), protocol.MaxBodyLen)
	}
	if err != nil {
		w.logger.Error("encode response", zap.Uint32("seq", header.Seq), zap.Error(err))
		if result, err = c.Encode(message.Failure(Describe(err))); err != nil {
			return
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	// Same seq as the request: this is how the proxy finds the waiting call.
	err = protocol.Encode(conn, &protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}, result)
	if err != nil {
		w.logger.Debug("write response", zap.Uint32("seq", header.Seq), zap.Error(err))
	}
}

// ServeStdio serves target over the process's stdin and stdout. It is the entry point of
// a worker binary started by loader.Exec; nothing else may write to stdout.
func ServeStdio(target any, opts ...Option) error {
	w, err := New(target, opts...)
	if err != nil {
		return err
	}
	return w.ServeConn(stdio{})
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return os.Stdout.Close() }

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
