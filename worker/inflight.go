package worker

import "sync"

// inflight counts requests being processed across a Server's connections. Once
// draining starts no request is admitted, so the count can only fall to zero.
type inflight struct {
	mu       sync.Mutex
	n        int
	draining bool
	idle     chan struct{} // closed when draining and n is zero
}

func newInflight() *inflight {
	return &inflight{idle: make(chan struct{})}
}

// acquire admits one request. It fails once drain has been called.
func (f *inflight) acquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	f.n++
	return true
}

func (f *inflight) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.draining && f.n == 0 {
		close(f.idle)
	}
}

// drain stops admitting requests and returns a channel closed once none are left.
func (f *inflight) drain() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.draining {
		f.draining = true
		if f.n == 0 {
			close(f.idle)
		}
	}
	return f.idle
}
