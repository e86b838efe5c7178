package smartmoving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/utils"
)

const (
	DefaultBaseURL = "https://api.smartmoving.com"
	leadPath       = "/api/leads/from-provider/v2"

	// submitted when no provider key is configured; the API rejects it
	placeholderProviderKey = "your_provider_key_here"
)

// User-facing outcome messages
const (
	MsgSuccess     = "Your moving request has been submitted successfully! A representative will contact you shortly."
	MsgDuplicate   = "Your information has already been received. A representative will contact you shortly."
	MsgRateLimited = "Too many requests. Please wait a moment and try again."
	MsgUnavailable = "Our system is temporarily unavailable. Please try again in a few minutes or call us directly."
	MsgNetwork     = "Network connection error. Please check your internet connection and try again."
	MsgTimeout     = "Request timed out. Please try again or contact us directly."
	MsgGeneric     = "There was an error submitting your information. Please try again or contact us directly at (239) 722-0000."
)

// Outcome labels a submission result for metrics and events
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeRejected    Outcome = "rejected"
	OutcomeNetwork     Outcome = "network"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
	OutcomeInvalid     Outcome = "invalid"
)

// APIError is a non-2xx response the classification table does not cover
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("error from SmartMoving API: status %d: %s", e.Status, e.Body)
}

// Result is a classified submission
type Result struct {
	models.SubmissionStatus
	Outcome Outcome
	// Err is set for OutcomeRejected (an *APIError) and transport failures
	Err error
}

// Client defines the interface for sending leads to SmartMoving
type Client interface {
	Submit(ctx context.Context, record models.QuoteRecord) Result
}

type clientImpl struct {
	providerKey string
	baseURL     string
	httpClient  *http.Client
	logger      *logging.Logger
	tracer      trace.Tracer
}

// NewClient creates a SmartMoving client. An empty baseURL uses the production API.
func NewClient(providerKey, baseURL string, httpClient *http.Client, logger *logging.Logger) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &clientImpl{
		providerKey: providerKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
		tracer:      otel.Tracer("quote-wizard.smartmoving"),
	}
}

func (c *clientImpl) endpoint() string {
	key := c.providerKey
	if key == "" {
		c.logger.Error("SmartMoving provider key is not configured, lead will be rejected")
		key = placeholderProviderKey
	}
	return fmt.Sprintf("%s%s?providerKey=%s", c.baseURL, leadPath, url.QueryEscape(key))
}

// Submit validates, maps and posts the record, classifying every outcome into a
// user-facing status. It never returns an error to the caller.
func (c *clientImpl) Submit(ctx context.Context, record models.QuoteRecord) Result {
	ctx, span := c.tracer.Start(ctx, "smartmoving.submit_lead")
	defer span.End()

	if err := ValidateRecord(record); err != nil {
		return Result{
			SubmissionStatus: models.SubmissionStatus{Success: false, Message: err.Error()},
			Outcome:          OutcomeInvalid,
			Err:              err,
		}
	}

	lead := BuildLeadRequest(record)
	payload, err := json.Marshal(lead)
	if err != nil {
		return failed(OutcomeError, MsgGeneric, fmt.Errorf("error marshaling lead: %w", err))
	}

	c.logger.Info("submitting lead to SmartMoving",
		"phone", utils.MaskPhone(lead.PhoneNumber),
		"service_type", lead.ServiceType,
		"move_date", lead.MoveDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return failed(OutcomeError, MsgGeneric, fmt.Errorf("error creating request: %w", err))
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return classifyTransportError(fmt.Errorf("error reading response: %w", err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return classifyResponse(resp.StatusCode, body)
}

func failed(outcome Outcome, message string, err error) Result {
	return Result{
		SubmissionStatus: models.SubmissionStatus{Success: false, Message: message},
		Outcome:          outcome,
		Err:              err,
	}
}

func classifyResponse(status int, body []byte) Result {
	switch {
	case status >= 200 && status < 300:
		var parsed struct {
			ID string `json:"id"`
		}
		// a body without an id is still a success
		_ = json.Unmarshal(body, &parsed)
		id := parsed.ID
		if id == "" {
			id = "unknown"
		}
		return Result{
			SubmissionStatus: models.SubmissionStatus{Success: true, Message: MsgSuccess, ID: id},
			Outcome:          OutcomeSuccess,
		}
	case status == http.StatusBadRequest && isDuplicate(string(body)):
		return Result{
			SubmissionStatus: models.SubmissionStatus{Success: false, Message: MsgDuplicate},
			Outcome:          OutcomeDuplicate,
		}
	case status == http.StatusTooManyRequests:
		return failed(OutcomeRateLimited, MsgRateLimited, nil)
	case status >= 500:
		return failed(OutcomeUnavailable, MsgUnavailable, &APIError{Status: status, Body: string(body)})
	default:
		return failed(OutcomeRejected, MsgGeneric, &APIError{Status: status, Body: string(body)})
	}
}

// TODO: match on a structured error code once SmartMoving documents one for duplicate leads
func isDuplicate(body string) bool {
	return strings.Contains(body, "already been submitted") || strings.Contains(body, "duplicate")
}

func classifyTransportError(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(OutcomeTimeout, MsgTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failed(OutcomeTimeout, MsgTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return failed(OutcomeNetwork, MsgNetwork, err)
	}
	return failed(OutcomeError, MsgGeneric, err)
}
