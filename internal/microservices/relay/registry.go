package relay

import (
	"log/slog"
	"sync"
)

// Conn is anything the relay can deliver a frame to.
// ID must be unique per process and stable for the connection's lifetime.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// BinaryConn can also deliver binary frames. Conns without it receive binary
// traffic through Send.
type BinaryConn interface {
	Conn
	SendBinary(msg []byte) error
}

// Registry = live set of connections, keyed by connection ID.
// It tracks lifetime only and never closes a connection.
type Registry struct {
	conns  map[string]Conn // key: connection ID
	mu     sync.RWMutex    // read-write mutex, fan-out only needs the read side for Snapshot
	logger *slog.Logger
}

// constructor for Registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Register adds a connection; registering the same ID twice is a no-op
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID()]; exists {
		return
	}
	r.conns[c.ID()] = c
	r.logger.Info("client_added",
		"client_id", c.ID(),
		"clients", len(r.conns),
	)
}

// Unregister removes a connection and reports whether it was present.
// Removing an unknown or already removed connection is a no-op.
func (r *Registry) Unregister(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID()]; !exists {
		return false
	}
	delete(r.conns, c.ID())
	r.logger.Info("client_removed",
		"client_id", c.ID(),
		"clients", len(r.conns),
	)
	return true
}

// Snapshot returns a point-in-time copy of the live connections.
// Callers iterate the copy, so fan-out never holds the lock while sending.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
