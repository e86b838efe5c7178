package services

import (
	"context"
	"time"

	"quote-wizard/pkg/clients/smartmoving"
	"quote-wizard/pkg/events"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/metrics"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/utils"
)

// SubmissionOutcome is the status to store on the record. Terminal outcomes end the
// wizard; the rest leave the visitor on the verification step to retry.
type SubmissionOutcome struct {
	models.SubmissionStatus
	Terminal bool
}

// LeadSubmissionService defines the interface for forwarding a finished quote
type LeadSubmissionService interface {
	Validate(record models.QuoteRecord) error
	Submit(ctx context.Context, sessionID string, record models.QuoteRecord) SubmissionOutcome
}

type leadSubmissionServiceImpl struct {
	smartMovingClient smartmoving.Client
	publisher         events.Publisher
	metrics           *metrics.WizardMetrics
	logger            *logging.Logger
}

// NewLeadSubmissionService creates a new submission service
func NewLeadSubmissionService(
	smartMovingClient smartmoving.Client,
	publisher events.Publisher,
	wizardMetrics *metrics.WizardMetrics,
	logger *logging.Logger,
) LeadSubmissionService {
	if logger == nil {
		logger = logging.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &leadSubmissionServiceImpl{
		smartMovingClient: smartMovingClient,
		publisher:         publisher,
		metrics:           wizardMetrics,
		logger:            logger,
	}
}

// Validate runs the pre-submission check without any network call
func (s *leadSubmissionServiceImpl) Validate(record models.QuoteRecord) error {
	return smartmoving.ValidateRecord(record)
}

// Submit sends the lead and resolves every failure into a status the visitor can read
func (s *leadSubmissionServiceImpl) Submit(ctx context.Context, sessionID string, record models.QuoteRecord) SubmissionOutcome {
	phoneHash := utils.PhoneHash(models.ToE164(record.PhoneNumber))

	s.logger.Info("processing lead submission", "session_id", sessionID, "phone_hash", phoneHash)

	start := time.Now()
	result := s.smartMovingClient.Submit(ctx, record)
	s.metrics.ObserveExternalLatency("smartmoving", time.Since(start).Seconds())
	s.metrics.ObserveSubmission(string(result.Outcome))

	switch result.Outcome {
	case smartmoving.OutcomeSuccess, smartmoving.OutcomeDuplicate:
		s.logger.Info("lead submitted",
			"session_id", sessionID,
			"phone_hash", phoneHash,
			"outcome", result.Outcome,
			"lead_id", result.ID)
	case smartmoving.OutcomeRejected:
		// unclassified API errors never reach the visitor verbatim
		s.logger.Error("lead rejected by SmartMoving",
			"session_id", sessionID,
			"phone_hash", phoneHash,
			"error", result.Err)
		result.SubmissionStatus = models.SubmissionStatus{Success: false, Message: smartmoving.MsgGeneric}
	default:
		s.logger.Warn("lead submission failed",
			"session_id", sessionID,
			"phone_hash", phoneHash,
			"outcome", result.Outcome,
			"error", result.Err)
	}

	terminal := result.Outcome == smartmoving.OutcomeSuccess || result.Outcome == smartmoving.OutcomeDuplicate

	action := events.ActionLeadFailed
	if terminal {
		action = events.ActionLeadSubmitted
	}
	if err := s.publisher.Publish(ctx, events.Activity{
		SessionID: sessionID,
		Action:    action,
		Service:   record.ServiceType,
		Attributes: map[string]string{
			"outcome": string(result.Outcome),
		},
	}); err != nil {
		s.logger.Warn("error publishing submission activity", "session_id", sessionID, "error", err)
	}

	return SubmissionOutcome{SubmissionStatus: result.SubmissionStatus, Terminal: terminal}
}
