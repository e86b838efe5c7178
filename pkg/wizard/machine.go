package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"quote-wizard/pkg/events"
	"quote-wizard/pkg/location"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/metrics"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/quote"
	"quote-wizard/pkg/services"
)

var (
	// ErrStepMismatch is returned when an action targets a step the visitor is not on
	ErrStepMismatch = errors.New("wizard: action does not match the current step")
	// ErrStaleResponse is returned when an external call completes after the visitor moved on
	ErrStaleResponse = errors.New("wizard: response arrived for a step that is no longer active")
)

// Inline messages
const (
	MsgSelectTimeframe     = "Please select when you are planning to move"
	MsgSelectMoveSize      = "Please select the size of your move"
	MsgSelectServiceType   = "Please select a service type"
	MsgSelectProjectStatus = "Please select your project status"
	MsgOriginRequired      = "Please enter your origin city or ZIP code"
	MsgDestinationRequired = "Please enter your destination city or ZIP code"
	MsgDestinationInvalid  = "Please enter a valid destination city or ZIP code"
	MsgEmailInvalid        = "Please enter a valid email address"
	MsgNameInvalid         = "Please enter your first and last name"
	MsgPhoneInvalid        = "Please enter a valid phone number"
	MsgConsentRequired     = "Please agree to receive text messages to verify your number"
	MsgSendFailed          = "There was an error submitting your information. Please try again."
	MsgChallengeRequired   = "Please complete the verification challenge before requesting a code."
	MsgCodeRequired        = "Please enter the verification code"
	MsgCodeInvalid         = "The verification code is invalid or has expired. Please try again."
	MsgRequestInFlight     = "Your request is already being processed"
	MsgEnterNotAvailable   = "Please choose an option to continue"
)

const minCodeLength = 3

// GuardError is a blocked transition. It carries the inline message for the step.
type GuardError struct {
	Step    Step
	Message string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("wizard: step %d: %s", e.Step, e.Message)
}

// Trigger is the control that fired an action
type Trigger string

const (
	TriggerClick Trigger = "click"
	TriggerEnter Trigger = "enter"
)

// Action is the input submitted with a forward transition. Fields not used by the step are ignored.
type Action struct {
	Trigger Trigger

	// option chosen on steps 1 to 4
	Value string

	MoveDate *time.Time

	Email     string
	FirstName string
	LastName  string

	Phone            string
	SMSConsent       bool
	MarketingConsent bool

	Code string
}

// Side names the end of the move a location lookup fills in
type Side string

const (
	SideOrigin      Side = "origin"
	SideDestination Side = "destination"
)

// LocationRequest resolves free text, or accepts a candidate picked from suggestions
type LocationRequest struct {
	Side      Side
	Query     string
	Candidate *location.Components
}

// Verifier sends and confirms SMS codes
type Verifier interface {
	SendCode(ctx context.Context, sessionID, phone string) (services.Handle, error)
	Confirm(ctx context.Context, handle services.Handle, code string) error
	Forget(sessionID string)
	Release(sessionID string)
}

// Submitter forwards the finished record as a lead
type Submitter interface {
	Validate(record models.QuoteRecord) error
	Submit(ctx context.Context, sessionID string, record models.QuoteRecord) services.SubmissionOutcome
}

// LocationValidator resolves free text into a city or ZIP code
type LocationValidator interface {
	Validate(ctx context.Context, input string) location.Result
}

// Dependencies are the collaborators shared by every machine
type Dependencies struct {
	Verifier  Verifier
	Submitter Submitter
	Locations LocationValidator
	Publisher events.Publisher
	Metrics   *metrics.WizardMetrics
	Logger    *logging.Logger
	Now       func() time.Time
}

// View is what a client needs to render the current step
type View struct {
	SessionID   string             `json:"sessionId"`
	Step        Step               `json:"step"`
	StepLabel   string             `json:"stepLabel"`
	DisplayStep int                `json:"displayStep"`
	TotalSteps  int                `json:"totalSteps"`
	Service     string             `json:"service"`
	Terminal    bool               `json:"terminal"`
	Message     string             `json:"message,omitempty"`
	CodeSent    bool               `json:"codeSent"`
	Pending     bool               `json:"pending"`
	Record      models.QuoteRecord `json:"record"`
}

// token pins an external call to the step and generation it was started on
type token struct {
	generation uint64
	step       Step
}

// Machine drives one session through the wizard. The lock is not held while an
// external call is outstanding; completions re-check their token before committing.
type Machine struct {
	mu         sync.Mutex
	store      *quote.Store
	deps       Dependencies
	service    string
	class      ServiceClass
	step       Step
	generation uint64
	message    string

	handle        *services.Handle
	verifiedPhone string
	pending       *token
}

// NewMachine creates a machine for store starting at step
func NewMachine(store *quote.Store, service string, step Step, deps Dependencies) *Machine {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewLogPublisher(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Machine{
		store:   store,
		deps:    deps,
		service: service,
		class:   ClassOf(service),
		step:    step,
	}
	store.SetCurrentStep(context.Background(), Label(step))
	return m
}

// Busy reports whether an external call is outstanding
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

func (m *Machine) SessionID() string {
	return m.store.ID()
}

// View returns the current state
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	return View{
		SessionID:   m.store.ID(),
		Step:        m.step,
		StepLabel:   Label(m.step),
		DisplayStep: DisplayStep(m.step, m.class),
		TotalSteps:  TotalSteps(m.class),
		Service:     m.service,
		Terminal:    m.step == StepDone,
		Message:     m.message,
		CodeSent:    m.handle != nil,
		Pending:     m.pending != nil,
		Record:      m.store.Read(),
	}
}

// Forward attempts the guarded transition out of step
func (m *Machine) Forward(ctx context.Context, step Step, action Action) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if step != m.step || m.step == StepDone {
		return m.viewLocked(), ErrStepMismatch
	}
	if action.Trigger == TriggerEnter && (step < StepDestination || step > StepVerifyCode) {
		return m.viewLocked(), &GuardError{Step: step, Message: MsgEnterNotAvailable}
	}

	var err error
	switch step {
	case StepTimeframe:
		err = m.selectOption(ctx, action.Value, models.Timeframes, MsgSelectTimeframe, func(v string) quote.Patch {
			return quote.Patch{MoveTimeframe: quote.Ptr(v)}
		})
	case StepMoveSize:
		err = m.selectOption(ctx, action.Value, models.MoveSizes, MsgSelectMoveSize, func(v string) quote.Patch {
			return quote.Patch{MoveSize: quote.Ptr(v)}
		})
	case StepServiceType:
		err = m.confirmServiceType(ctx, action.Value)
	case StepProjectStatus:
		err = m.selectProjectStatus(ctx, action.Value)
	case StepLocation:
		err = m.confirmLocations(ctx)
	case StepDestination:
		err = m.confirmDestination(ctx, action.MoveDate)
	case StepEmail:
		err = m.collectEmail(ctx, action.Email)
	case StepName:
		err = m.collectName(ctx, action.FirstName, action.LastName)
	case StepPhone:
		err = m.collectPhone(ctx, action)
	case StepSendCode:
		err = m.sendCode(ctx, action.Phone)
	case StepVerifyCode:
		err = m.verifyAndSubmit(ctx, action.Code)
	}

	if err != nil {
		var guardErr *GuardError
		if errors.As(err, &guardErr) {
			m.deps.Metrics.ObserveTransition(int(step), "blocked")
		}
	}
	return m.viewLocked(), err
}

// Back steps to the previous position. Step 1 stays put and the terminal state cannot go back.
func (m *Machine) Back(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step == StepDone {
		return m.viewLocked(), ErrStepMismatch
	}
	if prev, ok := Previous(m.step, m.class); ok {
		m.moveLocked(ctx, prev)
	}
	return m.viewLocked(), nil
}

// ChangeNumber leaves code entry so the visitor can correct the phone number
func (m *Machine) ChangeNumber(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step != StepVerifyCode {
		return m.viewLocked(), ErrStepMismatch
	}
	m.moveLocked(ctx, StepSendCode)
	return m.viewLocked(), nil
}

// Reset clears the record and returns to step 1. It is only offered from step 2 onwards.
func (m *Machine) Reset(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step < StepMoveSize {
		return m.viewLocked(), ErrStepMismatch
	}

	m.store.Reset(ctx)
	if m.deps.Verifier != nil {
		m.deps.Verifier.Forget(m.store.ID())
	}
	m.verifiedPhone = ""
	m.moveLocked(ctx, StepTimeframe)
	m.publishLocked(ctx, events.ActionSessionReset, StepTimeframe, nil)
	return m.viewLocked(), nil
}

// ResolveLocation validates a location for the origin (step 5) or destination (steps 5 and 6)
// and writes the resolved components to the record.
func (m *Machine) ResolveLocation(ctx context.Context, req LocationRequest) (View, location.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Side {
	case SideOrigin:
		if m.step != StepLocation {
			return m.viewLocked(), location.Result{}, ErrStepMismatch
		}
	case SideDestination:
		if m.step != StepLocation && m.step != StepDestination {
			return m.viewLocked(), location.Result{}, ErrStepMismatch
		}
	default:
		return m.viewLocked(), location.Result{}, fmt.Errorf("wizard: unknown location side %q", req.Side)
	}

	var res location.Result
	if req.Candidate != nil {
		c := location.Normalize(*req.Candidate)
		if c.Resolved() {
			res = location.Result{Valid: true, Message: "Valid location", Components: &c}
		} else {
			res = location.Result{Message: "Please select a city or ZIP code"}
		}
	} else {
		if m.deps.Locations == nil {
			res = location.Result{Message: "Location validation service unavailable"}
		} else {
			tok := m.tokenLocked()
			m.mu.Unlock()
			start := time.Now()
			res = m.deps.Locations.Validate(ctx, req.Query)
			m.deps.Metrics.ObserveExternalLatency("geocoding", time.Since(start).Seconds())
			m.mu.Lock()

			if !m.currentLocked(tok) {
				m.deps.Logger.Info("discarding stale location lookup",
					"session_id", m.store.ID(), "side", req.Side, "started_on", tok.step, "now_on", m.step)
				return m.viewLocked(), res, ErrStaleResponse
			}
		}
	}

	m.publishLocked(ctx, events.ActionLocationChecked, m.step, map[string]string{
		"side":  string(req.Side),
		"valid": strconv.FormatBool(res.Valid),
	})

	if !res.Valid {
		m.message = res.Message
		return m.viewLocked(), res, nil
	}

	m.message = ""
	m.store.Merge(ctx, locationPatch(req.Side, req.Query, *res.Components))
	return m.viewLocked(), res, nil
}

// Resend dispatches a fresh code from step 11 and replaces the previous handle.
func (m *Machine) Resend(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step != StepVerifyCode {
		return m.viewLocked(), ErrStepMismatch
	}
	if err := m.dispatchLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	return m.viewLocked(), nil
}

func locationPatch(side Side, query string, c location.Components) quote.Patch {
	address := c.FormattedAddress
	if address == "" {
		address = strings.TrimSpace(query)
	}
	if side == SideOrigin {
		return quote.Patch{
			OriginZip:           quote.Ptr(c.Zip),
			OriginCity:          quote.Ptr(c.City),
			OriginState:         quote.Ptr(c.State),
			OriginAddress:       quote.Ptr(address),
			OriginStreetAddress: quote.Ptr(c.Street),
		}
	}
	return quote.Patch{
		DestinationZip:           quote.Ptr(c.Zip),
		DestinationCity:          quote.Ptr(c.City),
		DestinationState:         quote.Ptr(c.State),
		DestinationAddress:       quote.Ptr(address),
		DestinationStreetAddress: quote.Ptr(c.Street),
	}
}

func (m *Machine) blockLocked(message string) error {
	m.message = message
	return &GuardError{Step: m.step, Message: message}
}

func (m *Machine) selectOption(ctx context.Context, value string, options []string, msg string, patch func(string) quote.Patch) error {
	if !slices.Contains(options, value) {
		return m.blockLocked(msg)
	}
	m.store.Merge(ctx, patch(value))
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) confirmServiceType(ctx context.Context, value string) error {
	if m.class != ClassMoving {
		// the entry service is pre-selected; the submitted value is ignored
		m.store.Merge(ctx, quote.Patch{ServiceType: quote.Ptr(m.service)})
		m.advanceLocked(ctx)
		return nil
	}
	return m.selectOption(ctx, value, models.ServiceLevels, MsgSelectServiceType, func(v string) quote.Patch {
		return quote.Patch{ServiceType: quote.Ptr(v)}
	})
}

func (m *Machine) selectProjectStatus(ctx context.Context, value string) error {
	if !slices.Contains(models.ProjectStatuses, value) {
		return m.blockLocked(MsgSelectProjectStatus)
	}
	p := quote.Patch{ProjectStatus: quote.Ptr(value)}
	if m.store.Read().MoveDate == nil {
		p.MoveDate = quote.Ptr(m.today())
	}
	m.store.Merge(ctx, p)
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) confirmLocations(ctx context.Context) error {
	r := m.store.Read()
	if !r.OriginResolved() {
		return m.blockLocked(MsgOriginRequired)
	}
	if !r.DestinationResolved() {
		return m.blockLocked(MsgDestinationRequired)
	}
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) confirmDestination(ctx context.Context, date *time.Time) error {
	r := m.store.Read()
	if !r.DestinationResolved() {
		return m.blockLocked(MsgDestinationInvalid)
	}

	switch {
	case date != nil:
		d := dateOnly(*date)
		m.store.Merge(ctx, quote.Patch{MoveDate: &d})
	case r.MoveDate == nil:
		m.store.Merge(ctx, quote.Patch{MoveDate: quote.Ptr(m.today())})
	}
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) collectEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !models.ValidEmail(email) {
		return m.blockLocked(MsgEmailInvalid)
	}
	m.store.Merge(ctx, quote.Patch{Email: quote.Ptr(email)})
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) collectName(ctx context.Context, first, last string) error {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if !models.ValidName(first) || !models.ValidName(last) {
		return m.blockLocked(MsgNameInvalid)
	}
	m.store.Merge(ctx, quote.Patch{FirstName: quote.Ptr(first), LastName: quote.Ptr(last)})
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) collectPhone(ctx context.Context, action Action) error {
	if !models.ValidPhone(action.Phone) {
		return m.blockLocked(MsgPhoneInvalid)
	}
	if !action.SMSConsent {
		return m.blockLocked(MsgConsentRequired)
	}
	m.store.Merge(ctx, quote.Patch{
		PhoneNumber:      quote.Ptr(models.FormatPhone(action.Phone)),
		SMSConsent:       quote.Ptr(true),
		MarketingConsent: quote.Ptr(action.MarketingConsent),
	})
	m.advanceLocked(ctx)
	return nil
}

func (m *Machine) sendCode(ctx context.Context, phone string) error {
	if m.pending != nil {
		return m.blockLocked(MsgRequestInFlight)
	}
	// the number can still be corrected on this step
	if phone != "" {
		if !models.ValidPhone(phone) {
			return m.blockLocked(MsgPhoneInvalid)
		}
		m.store.Merge(ctx, quote.Patch{PhoneNumber: quote.Ptr(models.FormatPhone(phone))})
	}
	if err := m.dispatchLocked(ctx); err != nil {
		return err
	}
	m.advanceLocked(ctx)
	return nil
}

// dispatchLocked sends a code for the current phone number and installs the new handle.
// The lock is released while the provider is called.
func (m *Machine) dispatchLocked(ctx context.Context) error {
	if m.pending != nil {
		return m.blockLocked(MsgRequestInFlight)
	}
	if m.deps.Verifier == nil {
		return m.blockLocked(MsgSendFailed)
	}

	phone := m.store.Read().PhoneNumber
	tok := m.beginLocked()

	m.mu.Unlock()
	start := time.Now()
	handle, err := m.deps.Verifier.SendCode(ctx, m.store.ID(), phone)
	m.deps.Metrics.ObserveExternalLatency("twilio", time.Since(start).Seconds())
	m.mu.Lock()

	if !m.finishLocked(tok) {
		m.deps.Logger.Info("discarding stale verification dispatch", "session_id", m.store.ID())
		return ErrStaleResponse
	}
	m.deps.Metrics.ObserveVerification("dispatch", err == nil)

	if err != nil {
		m.deps.Logger.Warn("verification dispatch failed", "session_id", m.store.ID(), "error", err)
		if errors.Is(err, services.ErrChallengeNotArmed) {
			return m.blockLocked(MsgChallengeRequired)
		}
		return m.blockLocked(MsgSendFailed)
	}

	m.handle = &handle
	m.message = ""
	m.publishLocked(ctx, events.ActionCodeSent, m.step, nil)
	return nil
}

func (m *Machine) verifyAndSubmit(ctx context.Context, code string) error {
	if m.pending != nil {
		return m.blockLocked(MsgRequestInFlight)
	}
	code = strings.TrimSpace(code)
	phone := m.store.Read().PhoneNumber

	// a number confirmed by an earlier attempt is not checked again when only the submission failed
	if m.verifiedPhone == "" || m.verifiedPhone != phone {
		if len(code) < minCodeLength {
			return m.blockLocked(MsgCodeRequired)
		}
		if m.handle == nil || m.deps.Verifier == nil {
			return m.blockLocked(MsgCodeInvalid)
		}

		handle := *m.handle
		tok := m.beginLocked()
		m.mu.Unlock()
		start := time.Now()
		err := m.deps.Verifier.Confirm(ctx, handle, code)
		m.deps.Metrics.ObserveExternalLatency("twilio", time.Since(start).Seconds())
		m.mu.Lock()

		if !m.finishLocked(tok) {
			m.deps.Logger.Info("discarding stale code confirmation", "session_id", m.store.ID())
			return ErrStaleResponse
		}
		m.deps.Metrics.ObserveVerification("confirm", err == nil)
		if err != nil {
			return m.blockLocked(MsgCodeInvalid)
		}

		m.verifiedPhone = phone
		m.store.MarkStepCompleted(ctx, models.StepLabelVerified)
		m.publishLocked(ctx, events.ActionPhoneVerified, m.step, nil)
	}

	return m.submitLocked(ctx)
}

func (m *Machine) submitLocked(ctx context.Context) error {
	if m.deps.Submitter == nil {
		return m.blockLocked(MsgSendFailed)
	}

	if err := m.deps.Submitter.Validate(m.store.Read()); err != nil {
		status := models.SubmissionStatus{Success: false, Message: err.Error()}
		m.store.Merge(ctx, quote.Patch{SubmissionStatus: &status})
		return m.blockLocked(status.Message)
	}

	m.store.GenerateEstimate(ctx)
	record := m.store.Read()
	tok := m.beginLocked()

	m.mu.Unlock()
	outcome := m.deps.Submitter.Submit(ctx, m.store.ID(), record)
	m.mu.Lock()

	if !m.finishLocked(tok) {
		m.deps.Logger.Warn("discarding stale submission result",
			"session_id", m.store.ID(), "success", outcome.Success)
		return ErrStaleResponse
	}

	status := outcome.SubmissionStatus
	m.store.Merge(ctx, quote.Patch{SubmissionStatus: &status})
	if !outcome.Terminal {
		return m.blockLocked(status.Message)
	}

	m.advanceLocked(ctx)
	m.message = status.Message
	return nil
}

// advanceLocked marks the current step completed and moves forward along the table
func (m *Machine) advanceLocked(ctx context.Context) {
	from := m.step
	next, ok := Next(from, m.class)
	if !ok {
		return
	}
	m.store.MarkStepCompleted(ctx, Label(from))
	if next == StepDone {
		m.store.MarkStepCompleted(ctx, Label(StepDone))
	}
	m.deps.Metrics.ObserveTransition(int(from), "advanced")
	m.publishLocked(ctx, events.ActionStepCompleted, from, nil)
	m.moveLocked(ctx, next)
}

// moveLocked changes the active step. Any outstanding call becomes stale.
func (m *Machine) moveLocked(ctx context.Context, to Step) {
	m.step = to
	m.generation++
	m.pending = nil
	m.message = ""
	if to < StepVerifyCode {
		m.handle = nil
	}
	m.store.SetCurrentStep(ctx, Label(to))
}

func (m *Machine) tokenLocked() token {
	return token{generation: m.generation, step: m.step}
}

func (m *Machine) currentLocked(tok token) bool {
	return tok.generation == m.generation && tok.step == m.step
}

// beginLocked registers an in-flight call that blocks double submits on the step
func (m *Machine) beginLocked() *token {
	tok := m.tokenLocked()
	m.pending = &tok
	return &tok
}

// finishLocked clears the in-flight marker and reports whether the call may still commit
func (m *Machine) finishLocked(tok *token) bool {
	if m.pending == tok {
		m.pending = nil
	}
	return m.currentLocked(*tok)
}

func (m *Machine) publishLocked(ctx context.Context, action string, step Step, attrs map[string]string) {
	err := m.deps.Publisher.Publish(ctx, events.Activity{
		SessionID:  m.store.ID(),
		Action:     action,
		Step:       int(step),
		Service:    m.service,
		Attributes: attrs,
		OccurredAt: m.deps.Now().UTC(),
	})
	if err != nil {
		m.deps.Logger.Warn("error publishing activity", "session_id", m.store.ID(), "action", action, "error", err)
	}
}

func (m *Machine) today() time.Time {
	return dateOnly(m.deps.Now())
}

func dateOnly(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
