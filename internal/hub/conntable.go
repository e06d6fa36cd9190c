package hub

import "sync"

// connTable maps device ids to their live transport.
//
// At most one transport is bound per id; bind replaces. The table never
// performs I/O while holding its lock.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]Transport
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]Transport)}
}

// bind associates t with id and returns the transport it replaced, if any.
func (c *connTable) bind(id string, t Transport) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.conns[id]
	c.conns[id] = t
	return prev
}

// unbind removes the binding for id and returns it. Unknown ids are a no-op.
func (c *connTable) unbind(id string) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.conns[id]
	delete(c.conns, id)
	return t
}

// unbindIf removes the binding for id only while it is still t.
func (c *connTable) unbindIf(id string, t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.conns[id]; ok && cur == t {
		delete(c.conns, id)
		return true
	}
	return false
}

func (c *connTable) resolve(id string) (Transport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.conns[id]
	return t, ok
}

// isOpen reports whether id is bound to a transport that is still open.
func (c *connTable) isOpen(id string) bool {
	t, ok := c.resolve(id)
	return ok && t.IsOpen()
}

func (c *connTable) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// drain removes every binding and returns the transports.
func (c *connTable) drain() []Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transport, 0, len(c.conns))
	for id, t := range c.conns {
		out = append(out, t)
		delete(c.conns, id)
	}
	return out
}
