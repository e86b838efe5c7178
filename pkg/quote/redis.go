package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 72 * time.Hour

// RedisPersister keeps each session record as a JSON string with a sliding TTL
type RedisPersister struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisPersister creates a persister on the given client. A zero ttl uses three days.
func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	if client == nil {
		panic("quote: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisPersister{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("quote-wizard.quote.persister"),
	}
}

// Save writes the record and refreshes its TTL
func (p *RedisPersister) Save(ctx context.Context, id string, data []byte) error {
	ctx, span := p.tracer.Start(ctx, "quote.save_record")
	defer span.End()

	if err := p.redis.Set(ctx, recordKey(id), data, p.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("quote: failed to persist record: %w", err)
	}
	return nil
}

// Load reads the record saved under id
func (p *RedisPersister) Load(ctx context.Context, id string) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "quote.load_record")
	defer span.End()

	data, err := p.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotPersisted
		}
		span.RecordError(err)
		return nil, fmt.Errorf("quote: failed to load record: %w", err)
	}
	return data, nil
}

func recordKey(id string) string {
	return fmt.Sprintf("quote:%s", id)
}
