package transport

import "sync"

// pendingTable maps correlation ids to outstanding calls for one transport.
//
// Ids come from a wrapping counter. Zero is never handed out, and ids still
// outstanding are skipped after a wrap, so no two live calls share an id.
type pendingTable struct {
	mu     sync.Mutex
	seq    uint32
	calls  map[uint32]*Call
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint32]*Call)}
}

// add mints an id for c and records it. It fails once the table is closed.
func (p *pendingTable) add(c *Call) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return 0, p.closed
	}

	for {
		p.seq++
		if p.seq == 0 {
			continue
		}
		if _, busy := p.calls[p.seq]; !busy {
			break
		}
	}

	c.ID = p.seq
	p.calls[c.ID] = c
	return c.ID, nil
}

// remove takes the call with the given id out of the table.
func (p *pendingTable) remove(id uint32) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return c, ok
}

// close rejects further adds with err and returns the calls still outstanding.
func (p *pendingTable) close(err error) []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed == nil {
		p.closed = err
	}
	calls := make([]*Call, 0, len(p.calls))
	for id, c := range p.calls {
		calls = append(calls, c)
		delete(p.calls, id)
	}
	return calls
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
