package document

import (
	"context"
	"errors"
	"sync"
)

// ErrVersionConflict is returned by WriteIfVersion when another writer committed after the read
var ErrVersionConflict = errors.New("costing document changed since it was read")

// Backend persists the encoded costing document as one opaque payload
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Read returns the stored payload, or nil when nothing has been written yet
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored payload
	Write(ctx context.Context, data []byte) error
}

// ConditionalBackend is a Backend that may be shared by several processes.
// Every write bumps a version; WriteIfVersion refuses to write over a newer one.
type ConditionalBackend interface {
	Backend

	// ReadVersion returns the payload together with its current version
	ReadVersion(ctx context.Context) ([]byte, int64, error)

	// WriteIfVersion replaces the payload only if the stored version still equals version.
	// It returns ErrVersionConflict otherwise.
	WriteIfVersion(ctx context.Context, data []byte, version int64) error
}

// MemoryBackend keeps the payload in process memory
type MemoryBackend struct {
	mu      sync.RWMutex
	data    []byte
	version int64
}

var _ ConditionalBackend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Name implements Backend
func (b *MemoryBackend) Name() string { return "memory" }

// Read implements Backend
func (b *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return nil, nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// Write implements Backend
func (b *MemoryBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store(data)
	return nil
}

// ReadVersion implements ConditionalBackend
func (b *MemoryBackend) ReadVersion(_ context.Context) ([]byte, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return nil, b.version, nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, b.version, nil
}

// WriteIfVersion implements ConditionalBackend
func (b *MemoryBackend) WriteIfVersion(_ context.Context, data []byte, version int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version != version {
		return ErrVersionConflict
	}
	b.store(data)
	return nil
}

func (b *MemoryBackend) store(data []byte) {
	b.data = make([]byte, len(data))
	copy(b.data, data)
	b.version++
}
