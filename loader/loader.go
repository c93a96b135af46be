// Package loader starts workers and hands back the channel to talk to them.
//
// A path names a worker. How it is interpreted depends on the loader:
//
//	/foo.worker          registered in-process factory (Local), or an executable (Exec)
//	tcp://host:port      a worker server reached directly (Net)
//	etcd://name          a worker server looked up in a registry (Net)
//
// Mux routes a path to the right loader; Default is the Mux used by the client package.
package loader

import (
	"context"
	"errors"
	"io"
	"strings"

	"workerproxy/worker"
)

// ErrNotFound is returned when no worker is known under a path.
var ErrNotFound = errors.New("worker not found")

// Loader starts (or connects to) the worker at path. The returned channel speaks the
// call protocol; the worker sends its readiness signal on it once its target is built.
// Closing the channel releases the worker.
type Loader interface {
	Load(ctx context.Context, path string) (io.ReadWriteCloser, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, path string) (io.ReadWriteCloser, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	return f(ctx, path)
}

const (
	SchemeTCP  = "tcp://"
	SchemeEtcd = "etcd://"
)

// Mux dispatches on the path: network schemes go to Net, registered paths to Local,
// everything else to Exec. Nil loaders are skipped.
type Mux struct {
	Local *Local
	Exec  *Exec
	Net   *Net
}

func (m *Mux) Load(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(path, SchemeTCP) || strings.HasPrefix(path, SchemeEtcd) {
		if m.Net == nil {
			return nil, ErrNotFound
		}
		return m.Net.Load(ctx, path)
	}
	if m.Local != nil && m.Local.Has(path) {
		return m.Local.Load(ctx, path)
	}
	if m.Exec != nil {
		return m.Exec.Load(ctx, path)
	}
	return nil, ErrNotFound
}

var defaultLocal = NewLocal()

// Default serves registered in-process workers, network workers and executables.
// Its Net loader has no registry until one is assigned.
var Default = &Mux{
	Local: defaultLocal,
	Exec:  &Exec{},
	Net:   &Net{},
}

// Register adds an in-process worker to the default loader.
func Register(path string, factory worker.Factory, opts ...worker.Option) {
	defaultLocal.Register(path, factory, opts...)
}
