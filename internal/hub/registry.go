package hub

import (
	"sync"
	"time"
)

// ConnInfo is a diagnostic snapshot of one connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Room        string    `json:"room,omitempty"`
	Topics      []string  `json:"topics"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Registry tracks every live connection on this node.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

// Register adds c and reports whether it was newly added.
func (r *Registry) Register(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; ok {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// Deregister removes c and reports whether it was present.
func (r *Registry) Deregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Conns returns a snapshot of the live connections in no particular order.
func (r *Registry) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) List() []ConnInfo {
	conns := r.Conns()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		ident := c.Identity()
		out = append(out, ConnInfo{
			ID:          c.ID(),
			UserID:      ident.ID,
			UserName:    ident.Name,
			Room:        c.Room(),
			Topics:      c.Topics(),
			ConnectedAt: c.ConnectedAt(),
		})
	}
	return out
}
