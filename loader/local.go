package loader

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"workerproxy/logging"
	"workerproxy/worker"
)

type localEntry struct {
	factory worker.Factory
	opts    []worker.Option
}

// Local runs registered workers in-process. Each Load builds a fresh target in its own
// goroutine and serves it over one end of a net.Pipe; the caller shares no memory with
// the target and reaches it only through the returned channel.
type Local struct {
	mu      sync.RWMutex
	workers map[string]localEntry
}

func NewLocal() *Local {
	return &Local{workers: make(map[string]localEntry)}
}

// Register binds path to a target factory. Registering a path again replaces it.
func (l *Local) Register(path string, factory worker.Factory, opts ...worker.Option) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers[path] = localEntry{factory: factory, opts: opts}
}

// Has reports whether path is registered.
func (l *Local) Has(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.workers[path]
	return ok
}

func (l *Local) Load(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	l.mu.RLock()
	entry, ok := l.workers[path]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	client, server := net.Pipe()
	go func() {
		log := logging.Logger().With(zap.String("path", path))

		target, err := entry.factory()
		if err != nil {
			log.Warn("construct target", zap.Error(err))
			server.Close()
			return
		}
		w, err := worker.New(target, entry.opts...)
		if err != nil {
			log.Warn("build worker", zap.Error(err))
			server.Close()
			return
		}
		if err := w.ServeConn(server); err != nil {
			log.Debug("worker stopped", zap.Error(err))
		}
	}()

	return client, nil
}
