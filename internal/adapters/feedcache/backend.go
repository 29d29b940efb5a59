package feedcache

import (
	"context"
	"maps"
	"sync"

	perr "feedthreads/internal/platform/errors"
)

// Backend persists one channel's key/value state. The cache is the only
// writer while it holds the backend open.
type Backend interface {
	// Load returns every stored key
	Load(ctx context.Context) (map[string][]byte, error)
	// Apply writes puts and deletes dels atomically
	Apply(ctx context.Context, puts map[string][]byte, dels []string) error
	// Destroy removes all stored state and releases the backend; Close
	// is not called afterwards
	Destroy(ctx context.Context) error
	Close() error
}

// MemoryBackend keeps state in process; it backs tests and the "memory"
// backend kind
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	closed  bool
	applies int
	fail    error
}

// NewMemoryBackend returns an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Load implements Backend
func (m *MemoryBackend) Load(context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, perr.Closedf("memory backend closed")
	}
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// Apply implements Backend
func (m *MemoryBackend) Apply(_ context.Context, puts map[string][]byte, dels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return perr.Closedf("memory backend closed")
	}
	if m.fail != nil {
		return m.fail
	}
	for _, k := range dels {
		delete(m.data, k)
	}
	for k, v := range puts {
		m.data[k] = append([]byte(nil), v...)
	}
	m.applies++
	return nil
}

// Destroy implements Backend
func (m *MemoryBackend) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	m.closed = true
	return nil
}

// Close implements Backend; a closed MemoryBackend can be reopened with Reopen
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen makes a closed backend usable again, keeping its data
func (m *MemoryBackend) Reopen() *MemoryBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return m
}

// Snapshot copies the stored state
func (m *MemoryBackend) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.data)
}

// SetFail sets the error Apply returns; nil clears it
func (m *MemoryBackend) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// ApplyCount returns how many Apply calls succeeded
func (m *MemoryBackend) ApplyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applies
}
