package worker

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"workerproxy/logging"
	"workerproxy/middleware"
	"workerproxy/registry"
)

// RegistryTTL is the lease TTL, in seconds, of a server's registry entry.
const RegistryTTL = 10

// Server hosts workers over a network listener. Every accepted connection gets its own
// target from the factory, so each proxy still talks to exactly one worker instance.
type Server struct {
	name          string
	factory       Factory
	opts          []Option
	middlewares   []middleware.Middleware
	logger        *zap.Logger
	listener      net.Listener
	conns         map[net.Conn]struct{}
	mu            sync.Mutex  // guards listener, conns, registry and advertiseAddr
	requests      *inflight   // in-flight requests across all connections, for graceful shutdown
	shutdown      atomic.Bool // set during shutdown to suppress Accept errors
	registry      registry.Registry
	advertiseAddr string // address recorded in the registry; must be routable, unlike ":8080"
}

// NewServer creates a server that registers under name and builds targets with factory.
func NewServer(name string, factory Factory, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		name:     name,
		factory:  factory,
		opts:     opts,
		logger:   logging.Or(o.logger).With(zap.String("server", name)),
		conns:    make(map[net.Conn]struct{}),
		requests: newInflight(),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are added,
// inside any passed to NewServer with WithMiddleware.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves connections until Shutdown.
//
//   - advertiseAddr: the address to register (e.g. "127.0.0.1:8080"); defaults to the
//     listener's address.
//   - reg: the registry. Pass nil to skip registration.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	svr.mu.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()

	if reg != nil {
		if err := reg.Register(svr.name, registry.Instance{Addr: advertiseAddr}, RegistryTTL); err != nil {
			listener.Close()
			return fmt.Errorf("register %s: %w", svr.name, err)
		}
	}

	svr.logger.Info("serving", zap.String("addr", advertiseAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before serving.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) handleConn(conn net.Conn) {
	log := svr.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	// A failed factory never sends Ready; the proxy side reports a load failure.
	target, err := svr.factory()
	if err != nil {
		log.Warn("construct target", zap.Error(err))
		conn.Close()
		return
	}

	opts := append([]Option{}, svr.opts...)
	opts = append(opts, withInflight(svr.requests), WithMiddleware(svr.middlewares...))
	w, err := New(target, opts...)
	if err != nil {
		log.Warn("build worker", zap.Error(err))
		conn.Close()
		return
	}

	svr.mu.Lock()
	svr.conns[conn] = struct{}{}
	svr.mu.Unlock()
	defer func() {
		svr.mu.Lock()
		delete(svr.conns, conn)
		svr.mu.Unlock()
	}()

	if err := w.ServeConn(conn); err != nil {
		log.Debug("connection closed", zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister (proxies stop resolving to this server)
//  2. Set shutdown flag (so the Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Refuse new requests and wait for in-flight ones to finish (with timeout)
//  5. Close the remaining connections; their proxies fail pending calls
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	reg, addr := svr.registry, svr.advertiseAddr
	svr.mu.Unlock()

	var err error
	if reg != nil {
		err = multierr.Append(err, reg.Deregister(svr.name, addr))
	}

	svr.shutdown.Store(true)
	svr.mu.Lock()
	if svr.listener != nil {
		err = multierr.Append(err, svr.listener.Close())
	}
	svr.mu.Unlock()

	select {
	case <-svr.requests.drain():
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()

	return err
}
