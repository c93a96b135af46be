// Package registry lets worker servers advertise themselves so proxies can find them by name.
package registry

import "context"

// Instance is one reachable worker server.
type Instance struct {
	Addr    string
	Version string
}

type Registry interface {
	Register(name string, instance Instance, ttl int64) error
	Deregister(name string, addr string) error
	Discover(name string) ([]Instance, error)
	// Watch emits the instance list of name each time it changes. The channel is closed
	// once ctx is done.
	Watch(ctx context.Context, name string) <-chan []Instance
}
