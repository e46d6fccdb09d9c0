// Package presence tracks which users currently hold a live realtime
// connection. It keeps at most one connection per user; registering a new
// one replaces (and returns) the previous handle.
//
// The registry is process-local and starts empty on every boot.
package presence

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrConnClosed is returned by Push on a connection that has shut down.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Push when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Event is one server→client frame: {"type": ..., "data": ...}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is a live, authenticated client connection.
type Conn interface {
	// ID uniquely identifies this connection (not the user).
	ID() string
	// UserID is the authenticated owner.
	UserID() string
	// Push enqueues ev without blocking.
	Push(ev Event) error
	// Close tears the connection down. Safe to call more than once.
	Close()
}

// Registry maps user ids to their live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register makes c the live connection for userID and returns the handle it
// replaced, or nil.
func (r *Registry) Register(userID string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Claim registers c for userID only when no connection is live, and reports
// whether it did.
func (r *Registry) Claim(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[userID]; ok {
		return false
	}
	r.conns[userID] = c
	return true
}

// Unregister removes userID only while it still maps to c, and reports
// whether it did. A stale handle never removes its replacement.
func (r *Registry) Unregister(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur != c {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Online returns the ids of every connected user, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the current connections. The slice is a copy; callers may
// push to the handles without holding any registry lock.
func (r *Registry) Snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
