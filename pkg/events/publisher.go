package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"quote-wizard/pkg/logging"
)

// Writer is the subset of kafka.Writer the producer needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher records wizard activity for analytics
type Publisher interface {
	Publish(ctx context.Context, activity Activity) error
	Close() error
}

// Activity is one analytics event, keyed by session
type Activity struct {
	SessionID  string            `json:"sessionId"`
	Action     string            `json:"action"`
	Step       int               `json:"step,omitempty"`
	Service    string            `json:"service,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Activity actions
const (
	ActionSessionStarted  = "session_started"
	ActionStepCompleted   = "step_completed"
	ActionSessionReset    = "session_reset"
	ActionCodeSent        = "verification_code_sent"
	ActionPhoneVerified   = "phone_verified"
	ActionLeadSubmitted   = "lead_submitted"
	ActionLeadFailed      = "lead_submission_failed"
	ActionLocationChecked = "location_checked"
)

type KafkaProducer struct {
	writer Writer
	logger *logging.Logger
}

// NewKafkaProducer creates a producer writing to topic on broker.
// Writes are async so a slow broker never holds up a wizard step.
func NewKafkaProducer(brokerURL, topic string, logger *logging.Logger) *KafkaProducer {
	if logger == nil {
		logger = logging.Default()
	}
	w := &skafka.Writer{
		Addr:     skafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &skafka.Hash{},
		Async:    true,
		Completion: func(msgs []skafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka activity write failed", "count", len(msgs), "error", err)
			}
		},
	}
	return &KafkaProducer{writer: w, logger: logger}
}

// NewKafkaProducerWithWriter allows injecting a test writer
func NewKafkaProducerWithWriter(w Writer, logger *logging.Logger) *KafkaProducer {
	if logger == nil {
		logger = logging.Default()
	}
	return &KafkaProducer{writer: w, logger: logger}
}

func (p *KafkaProducer) Publish(ctx context.Context, activity Activity) error {
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("error marshaling activity: %w", err)
	}
	msg := skafka.Message{Key: []byte(activity.SessionID), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write error", "action", activity.Action, "error", err)
		return fmt.Errorf("error publishing activity: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// LogPublisher writes activity to the log when no broker is configured
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, activity Activity) error {
	p.logger.Debug("activity",
		"session_id", activity.SessionID,
		"action", activity.Action,
		"step", activity.Step,
		"service", activity.Service)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
