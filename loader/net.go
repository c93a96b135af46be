package loader

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"

	"workerproxy/logging"
	"workerproxy/registry"
)

// Net connects to worker servers. tcp:// paths are dialed directly; etcd:// paths are
// resolved through Registry and the first instance is dialed. An etcd:// load waits for
// the worker to register until ctx is done.
type Net struct {
	Registry registry.Registry
	Dialer   net.Dialer
}

func (n *Net) Load(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	switch {
	case strings.HasPrefix(path, SchemeTCP):
		return n.dial(ctx, strings.TrimPrefix(path, SchemeTCP))

	case strings.HasPrefix(path, SchemeEtcd):
		name := strings.TrimPrefix(path, SchemeEtcd)
		if n.Registry == nil {
			return nil, fmt.Errorf("%w: no registry for %s", ErrNotFound, path)
		}
		instance, err := n.resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		return n.dial(ctx, instance.Addr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// resolve returns the first instance registered under name. When there is none yet it
// waits for one to register until ctx is done.
func (n *Net) resolve(ctx context.Context, name string) (registry.Instance, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Watch before Discover so a registration between the two is not missed.
	updates := n.Registry.Watch(watchCtx, name)

	instances, err := n.Registry.Discover(name)
	for {
		if err != nil {
			return registry.Instance{}, fmt.Errorf("discover %s: %w", name, err)
		}
		if len(instances) > 0 {
			logging.Logger().Debug("discovered worker",
				zap.String("name", name),
				zap.String("addr", instances[0].Addr),
				zap.Int("instances", len(instances)))
			return instances[0], nil
		}

		var ok bool
		select {
		case instances, ok = <-updates:
			if !ok {
				return registry.Instance{}, fmt.Errorf("%w: no instances of %s", ErrNotFound, name)
			}
		case <-ctx.Done():
			return registry.Instance{}, fmt.Errorf("%w: no instances of %s: %w", ErrNotFound, name, ctx.Err())
		}
	}
}

func (n *Net) dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	conn, err := n.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	return conn, nil
}
