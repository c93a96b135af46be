// Package client creates proxies for objects that live in an isolated worker.
//
// CreateProxy starts the worker through a loader and waits, bounded by a load timeout,
// for the worker's readiness signal. The returned Proxy turns member accesses into
// requests on the worker channel; each yields a transport.Call that settles with the
// worker's result:
//
//	p, err := client.CreateProxy(ctx, "/foo.worker")
//	var s string
//	err = p.Call(ctx, "foo", &s)
//
// Many calls may be outstanding at once; responses are matched by id, not by order.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"workerproxy/logging"
	"workerproxy/transport"
)

// state is the readiness of a load attempt. It leaves stateLoading exactly once.
type state int32

const (
	stateLoading state = iota
	stateReady
	stateFailed
)

// attempt is one load race between the worker's readiness and the caller's deadline.
type attempt struct {
	state   atomic.Int32
	ready   chan *transport.ClientTransport // receives the winner, buffered
	settled chan struct{}                   // closed when the caller stops waiting

	mu     sync.Mutex
	causes error
}

func (a *attempt) settle(to state) bool {
	return a.state.CompareAndSwap(int32(stateLoading), int32(to))
}

func (a *attempt) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.causes = multierr.Append(a.causes, err)
}

func (a *attempt) cause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.causes
}

// CreateProxy loads the worker at path and returns a proxy once it reports ready.
//
// If the worker is not ready within the load timeout the result is a *LoadError whose
// message is "Worker failed to load". Errors from the loader do not end the wait early;
// they are recorded as the LoadError's cause. A worker that turns ready after the
// timeout is closed. If ctx ends first, ctx.Err() is returned.
func CreateProxy(ctx context.Context, path string, opts ...Option) (*Proxy, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	log := logging.Or(o.logger).With(zap.String("proxy", id), zap.String("path", path))

	a := &attempt{
		ready:   make(chan *transport.ClientTransport, 1),
		settled: make(chan struct{}),
	}
	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(a.settled)

	go a.run(loadCtx, path, o, log)

	timer := time.NewTimer(o.loadTimeout)
	defer timer.Stop()

	var tr *transport.ClientTransport
	select {
	case tr = <-a.ready:
	case <-timer.C:
		if a.settle(stateFailed) {
			log.Warn("worker failed to load", zap.Duration("timeout", o.loadTimeout), zap.Error(a.cause()))
			return nil, &LoadError{Path: path, Cause: a.cause()}
		}
		tr = <-a.ready
	case <-ctx.Done():
		if a.settle(stateFailed) {
			return nil, ctx.Err()
		}
		tr = <-a.ready
	}

	log.Debug("worker ready", zap.Strings("members", tr.Members()))
	return &Proxy{id: id, path: path, tr: tr, logger: log}, nil
}

func (a *attempt) run(ctx context.Context, path string, o options, log *zap.Logger) {
	conn, err := o.loader.Load(ctx, path)
	if err != nil {
		log.Debug("load worker", zap.Error(err))
		a.fail(err)
		return
	}

	tr := transport.NewClientTransport(conn, o.codec,
		transport.WithHeartbeat(o.heartbeat),
		transport.WithLogger(log))

	select {
	case <-tr.Ready():
		if a.settle(stateReady) {
			a.ready <- tr
			return
		}
		log.Debug("worker ready after load timeout, closing")
	case <-tr.Done():
		a.fail(tr.Err())
		return
	case <-a.settled:
	}
	tr.Close()
}

// Func invokes one member of the remote target.
type Func func(args ...any) *transport.Call

// Proxy is the local handle of a loaded worker. It holds nothing but the channel;
// every member access is a round trip. A Proxy is safe for concurrent use.
type Proxy struct {
	id     string
	path   string
	tr     *transport.ClientTransport
	logger *zap.Logger

	funcs sync.Map // member name -> Func
}

// ID identifies this proxy in logs.
func (p *Proxy) ID() string {
	return p.id
}

func (p *Proxy) Path() string {
	return p.path
}

// Member returns the callable for name. Fields and methods alike are reached this way;
// reading a field is calling it with no arguments. Whether name exists is only known
// once the call settles.
func (p *Proxy) Member(name string) Func {
	if f, ok := p.funcs.Load(name); ok {
		return f.(Func)
	}
	f, _ := p.funcs.LoadOrStore(name, Func(func(args ...any) *transport.Call {
		return p.tr.Send(name, args...)
	}))
	return f.(Func)
}

// Invoke sends one call without waiting for it.
func (p *Proxy) Invoke(member string, args ...any) *transport.Call {
	return p.Member(member)(args...)
}

// Call invokes member and decodes its result into reply, which may be nil.
// ctx bounds the wait only; the worker keeps running the call.
func (p *Proxy) Call(ctx context.Context, member string, reply any, args ...any) error {
	return p.Invoke(member, args...).Decode(ctx, reply)
}

// Members lists the member names the worker advertised when it became ready.
func (p *Proxy) Members() []string {
	return p.tr.Members()
}

// Pending is the number of calls still waiting for the worker.
func (p *Proxy) Pending() int {
	return p.tr.Pending()
}

// Done is closed when the worker channel is gone.
func (p *Proxy) Done() <-chan struct{} {
	return p.tr.Done()
}

// Err reports why the worker channel closed, nil while it is open.
func (p *Proxy) Err() error {
	return p.tr.Err()
}

// Close releases the worker. Outstanding calls fail with transport.ErrClosed.
func (p *Proxy) Close() error {
	pending := p.tr.Pending()
	err := p.tr.Close()
	p.logger.Debug("proxy closed", zap.Int("pending", pending), zap.Error(err))
	return err
}
