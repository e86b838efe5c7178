package wizard

import (
	"context"
	"errors"
	"sync"
	"time"

	"quote-wizard/pkg/events"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/quote"
)

// ErrUnknownService is returned for an entry service the wizard has no branch for
var ErrUnknownService = errors.New("wizard: unknown entry service")

type session struct {
	machine  *Machine
	lastSeen time.Time
}

// Manager keeps one Machine per session on top of the quote store manager
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	quotes   *quote.Manager
	deps     Dependencies
}

func NewManager(quotes *quote.Manager, deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*session),
		quotes:   quotes,
		deps:     deps,
	}
}

// Create starts a session for the landing page's entry service
func (m *Manager) Create(ctx context.Context, service string) (*Machine, error) {
	if !ValidEntryService(service) {
		return nil, ErrUnknownService
	}
	if service == "" {
		service = models.ServiceMoving
	}

	store := m.quotes.Create(ctx)
	machine := NewMachine(store, service, StepTimeframe, m.deps)

	m.mu.Lock()
	m.sessions[store.ID()] = &session{machine: machine, lastSeen: m.deps.Now()}
	m.mu.Unlock()

	machine.mu.Lock()
	machine.publishLocked(ctx, events.ActionSessionStarted, StepTimeframe, nil)
	machine.mu.Unlock()
	return machine, nil
}

// Open returns the machine for a session, rebuilding it from the persisted record when this
// process has not seen the session yet. The service falls back to the one stored on the record.
func (m *Manager) Open(ctx context.Context, id, service string) (*Machine, error) {
	if !ValidEntryService(service) {
		return nil, ErrUnknownService
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.lastSeen = m.deps.Now()
		m.mu.Unlock()
		return s.machine, nil
	}
	m.mu.Unlock()

	// may hit the persister
	store, err := m.quotes.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.lastSeen = m.deps.Now()
		return s.machine, nil
	}

	record := store.Read()
	if service == "" {
		service = serviceFromRecord(record)
	}
	machine := NewMachine(store, service, Resume(record, ClassOf(service)), m.deps)
	m.sessions[id] = &session{machine: machine, lastSeen: m.deps.Now()}
	return machine, nil
}

// Sweep drops sessions not opened for longer than idle, along with their stores and
// verification state. Records stay with the persister, so a later Open rebuilds them.
// A session with an external call outstanding is kept.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.deps.Now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if !s.lastSeen.Before(cutoff) || s.machine.Busy() {
			continue
		}
		delete(m.sessions, id)
		m.quotes.Evict(id)
		if m.deps.Verifier != nil {
			m.deps.Verifier.Release(id)
		}
		evicted++
	}
	if evicted > 0 {
		m.deps.Logger.Info("evicted idle quote sessions", "count", evicted, "remaining", len(m.sessions))
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is done
func (m *Manager) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(idle)
			}
		}
	}()
}

func serviceFromRecord(r models.QuoteRecord) string {
	switch r.ServiceType {
	case models.ServiceJunkRemoval, models.ServiceLaborOnly:
		return r.ServiceType
	}
	return models.ServiceMoving
}
