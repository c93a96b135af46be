package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is a process-local Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string][]Instance
	watchers  map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string][]Instance),
		watchers:  make(map[string][]chan []Instance),
	}
}

func (m *MemoryRegistry) Register(name string, inst Instance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[name] = append(m.instances[name], inst)
	m.notify(name)
	return nil
}

func (m *MemoryRegistry) Deregister(name string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[name]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[name] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	m.notify(name)
	return nil
}

func (m *MemoryRegistry) Discover(name string) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Instance(nil), m.instances[name]...), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []Instance, 1)
	m.watchers[name] = append(m.watchers[name], ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[name]
		for i, w := range watchers {
			if w == ch {
				m.watchers[name] = append(watchers[:i:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify sends the latest list to every watcher, replacing an unread older list.
// Callers hold m.mu.
func (m *MemoryRegistry) notify(name string) {
	snapshot := append([]Instance(nil), m.instances[name]...)
	for _, ch := range m.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
