package bridge

import (
	"sync/atomic"
	"testing"
)

type stubConn struct {
	id     string
	closed atomic.Int32
}

func (s *stubConn) ID() string { return s.id }
func (s *stubConn) Close()     { s.closed.Add(1) }

func TestRegistry_CloseAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	conns := []*stubConn{{id: "a"}, {id: "b"}, {id: "c"}}
	for _, c := range conns {
		r.Register(c)
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("Len()=%d, want 3", got)
	}

	r.CloseAll()

	for _, c := range conns {
		if n := c.closed.Load(); n != 1 {
			t.Errorf("connection %s closed %d times, want 1", c.id, n)
		}
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len()=%d after CloseAll, want 0", got)
	}
}

func TestRegistry_CloseAllEmpty(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.CloseAll() // must not block or panic
	if got := r.Len(); got != 0 {
		t.Errorf("Len()=%d, want 0", got)
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := &stubConn{id: "x"}
	r.Unregister(c) // never registered; must be a no-op

	r.Register(c)
	r.Unregister(c)
	r.Unregister(c)
	if got := r.Len(); got != 0 {
		t.Errorf("Len()=%d, want 0", got)
	}
}
