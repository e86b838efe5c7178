package quote

import (
	"context"
	"errors"
	"sync"
)

// ErrNotPersisted is returned by a Persister that holds nothing for the id
var ErrNotPersisted = errors.New("quote: no persisted record")

// Persister stores the serialized record of one session
type Persister interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
}

// MemoryPersister keeps records in process memory
type MemoryPersister struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryPersister creates an empty in-memory persister
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[string][]byte)}
}

// Save stores a copy of data under id
func (p *MemoryPersister) Save(_ context.Context, id string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	p.mu.Lock()
	p.records[id] = buf
	p.mu.Unlock()
	return nil
}

// Load returns the bytes saved under id
func (p *MemoryPersister) Load(_ context.Context, id string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, ok := p.records[id]
	if !ok {
		return nil, ErrNotPersisted
	}
	return data, nil
}
