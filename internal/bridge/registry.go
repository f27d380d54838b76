package bridge

import (
	"sync"

	"github.com/ggarber/rt-proxy/internal/logging"
)

// Closer is the slice of a connection the registry needs.
type Closer interface {
	ID() string
	Close()
}

// Registry is the process-wide set of live connections. It exists only so
// shutdown can fan out Close to every connection; it is never used for
// lookup or addressing.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Closer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Closer)}
}

// Register adds a connection.
func (r *Registry) Register(conn Closer) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Unregister removes a connection. Safe to call for connections that were
// never registered or were already removed.
func (r *Registry) Unregister(conn Closer) {
	r.mu.Lock()
	delete(r.conns, conn.ID())
	r.mu.Unlock()
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every registered connection concurrently, waits for all
// of them and clears the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Closer, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	logging.Info(logging.CategoryApp, "closing %d connection(s)", len(conns))

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c Closer) {
			defer wg.Done()
			c.Close()
		}(conn)
	}
	wg.Wait()

	r.mu.Lock()
	r.conns = make(map[string]Closer)
	r.mu.Unlock()
}
