package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/models"
)

// Store owns the QuoteRecord of one session. Every mutation persists the full record.
type Store struct {
	mu        sync.Mutex
	id        string
	record    models.QuoteRecord
	persister Persister
	logger    *logging.Logger
	now       func() time.Time
}

// NewStore creates a store holding a fresh record
func NewStore(id string, persister Persister, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		id:        id,
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}
	s.record = models.NewQuoteRecord(s.now())
	return s
}

// ID returns the session id the store persists under
func (s *Store) ID() string {
	return s.id
}

// Read returns a copy of the current record
func (s *Store) Read() models.QuoteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Merge shallow-merges the patch and refreshes updated-at
func (s *Store) Merge(ctx context.Context, p Patch) {
	s.mutate(ctx, func(r *models.QuoteRecord) bool {
		p.apply(r)
		return true
	})
}

// Reset restores the defaults with fresh timestamps
func (s *Store) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.After(s.record.UpdatedAt) {
		now = s.record.UpdatedAt.Add(time.Nanosecond)
	}
	s.record = models.NewQuoteRecord(now)
	s.persistLocked(ctx)
}

// MarkStepCompleted adds the step label once; repeated calls leave the record untouched
func (s *Store) MarkStepCompleted(ctx context.Context, step string) {
	s.mutate(ctx, func(r *models.QuoteRecord) bool {
		if slices.Contains(r.CompletedSteps, step) {
			return false
		}
		r.CompletedSteps = append(r.CompletedSteps, step)
		return true
	})
}

// IsStepCompleted reports whether the label was marked completed
func (s *Store) IsStepCompleted(step string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.record.CompletedSteps, step)
}

// SetCurrentStep records the label of the step the visitor is on. An unchanged label is not written.
func (s *Store) SetCurrentStep(ctx context.Context, step string) {
	s.mutate(ctx, func(r *models.QuoteRecord) bool {
		if r.CurrentStep == step {
			return false
		}
		r.CurrentStep = step
		return true
	})
}

// GenerateEstimate computes the price range unless one is already present.
// The existing or new estimate is returned.
func (s *Store) GenerateEstimate(ctx context.Context) models.EstimatedCost {
	var out models.EstimatedCost
	s.mutate(ctx, func(r *models.QuoteRecord) bool {
		if r.EstimatedCost != nil {
			out = *r.EstimatedCost
			return false
		}
		est := Estimate(*r)
		r.EstimatedCost = &est
		out = est
		return true
	})
	return out
}

func (s *Store) mutate(ctx context.Context, fn func(r *models.QuoteRecord) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fn(&s.record) {
		return
	}
	s.touchLocked()
	s.persistLocked(ctx)
}

// updated-at must strictly increase even when the clock has not moved
func (s *Store) touchLocked() {
	now := s.now()
	if !now.After(s.record.UpdatedAt) {
		now = s.record.UpdatedAt.Add(time.Nanosecond)
	}
	s.record.UpdatedAt = now
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.persister == nil {
		return
	}
	data, err := json.Marshal(s.record)
	if err != nil {
		s.logger.Error("failed to encode quote record", "session_id", s.id, "error", err)
		return
	}
	if err := s.persister.Save(ctx, s.id, data); err != nil {
		s.logger.Error("failed to persist quote record", "session_id", s.id, "error", err)
	}
}

// decodeRecord rebuilds a record from its persisted JSON; date fields come back as time values
func decodeRecord(data []byte) (models.QuoteRecord, error) {
	var r models.QuoteRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return models.QuoteRecord{}, fmt.Errorf("quote: decode record: %w", err)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		return models.QuoteRecord{}, fmt.Errorf("quote: decode record: missing timestamps")
	}
	return r.Clone(), nil
}
