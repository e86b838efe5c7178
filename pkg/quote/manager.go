package quote

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"quote-wizard/pkg/logging"
)

// ErrSessionNotFound is returned when no record exists for a session id
var ErrSessionNotFound = errors.New("quote session not found")

// Manager hands out one Store per session, restoring persisted records on first access
type Manager struct {
	mu        sync.Mutex
	stores    map[string]*Store
	persister Persister
	logger    *logging.Logger
}

// NewManager creates a manager over the given persister
func NewManager(persister Persister, logger *logging.Logger) *Manager {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		stores:    make(map[string]*Store),
		persister: persister,
		logger:    logger,
	}
}

// Create starts a new session with a default record
func (m *Manager) Create(ctx context.Context) *Store {
	store := NewStore(uuid.New().String(), m.persister, m.logger)

	m.mu.Lock()
	m.stores[store.id] = store
	m.mu.Unlock()

	store.mu.Lock()
	store.persistLocked(ctx)
	store.mu.Unlock()
	return store
}

// Get returns the store for id. A corrupt persisted record is replaced by defaults.
// The persister is read without holding the manager lock.
func (m *Manager) Get(ctx context.Context, id string) (*Store, error) {
	m.mu.Lock()
	store, ok := m.stores[id]
	m.mu.Unlock()
	if ok {
		return store, nil
	}

	data, err := m.persister.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotPersisted) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	store = NewStore(id, m.persister, m.logger)
	record, decodeErr := decodeRecord(data)
	if decodeErr == nil {
		store.record = record
	}

	m.mu.Lock()
	if existing, ok := m.stores[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.stores[id] = store
	m.mu.Unlock()

	if decodeErr != nil {
		m.logger.Warn("failed to parse saved quote data, starting over", "session_id", id, "error", decodeErr)
		store.mu.Lock()
		store.persistLocked(ctx)
		store.mu.Unlock()
	}
	return store, nil
}

// Evict drops the in-memory store for id. The persisted record is left alone,
// so a later Get restores it.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	delete(m.stores, id)
	m.mu.Unlock()
}
