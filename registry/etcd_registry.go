// Package registry provides the etcd-based implementation of the Registry interface.
//
// Worker servers are recorded under
//
//	Key:   /workerproxy/{Name}/{Addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if a worker server dies, the lease expires
// and the entry is removed, so proxies never resolve a name to a dead address for long.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"workerproxy/logging"
)

const keyPrefix = "/workerproxy/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	timeout time.Duration    // per-operation timeout
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, timeout: 5 * time.Second}, nil
}

// Close releases the etcd client. Leases already granted expire on their own.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func key(name, addr string) string {
	return keyPrefix + name + "/" + addr
}

func prefix(name string) string {
	return keyPrefix + name + "/"
}

// Register adds an instance with a TTL lease and keeps the lease alive in the background.
//
// leaseID stays local, not on the struct, so several servers can share one registry.
func (r *EtcdRegistry) Register(name string, instance Instance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, key(name, instance.Addr), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive this call, so it gets the client's own context.
	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		return err
	}

	go func() {
		for range ch {
		}
		logging.Logger().Debug("lease keepalive stopped",
			zap.String("name", name),
			zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes an instance. Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(name string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.client.Delete(ctx, key(name, addr))
	return err
}

// Watch emits the full instance list whenever the set registered under name changes.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(clientv3.WithRequireLeader(ctx), prefix(name), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch rather than applying individual events.
			instances, err := r.Discover(name)
			if err != nil {
				logging.Logger().Warn("discover after watch event", zap.String("name", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for name.
func (r *EtcdRegistry) Discover(name string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, prefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
