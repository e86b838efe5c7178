package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-wizard/pkg/location"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/quote"
	"quote-wizard/pkg/services"
)

var testNow = time.Date(2026, 4, 3, 14, 30, 0, 0, time.UTC)

type fakeVerifier struct {
	mu        sync.Mutex
	sendErr   error
	code      string
	sends     int
	confirms  int
	forgotten []string
	released  []string
	latest    string
	// when set, SendCode waits for a value before returning
	gate chan struct{}
	sent chan struct{}
	// when set, Confirm waits the same way
	confirmGate chan struct{}
	confirming  chan struct{}
}

func (f *fakeVerifier) SendCode(ctx context.Context, sessionID, phone string) (services.Handle, error) {
	if f.gate != nil {
		f.sent <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return services.Handle{}, f.sendErr
	}
	f.sends++
	f.latest = phone + "#" + string(rune('0'+f.sends))
	return services.Handle{ID: f.latest, SessionID: sessionID, Phone: phone}, nil
}

func (f *fakeVerifier) Confirm(ctx context.Context, handle services.Handle, code string) error {
	if f.confirmGate != nil {
		f.confirming <- struct{}{}
		<-f.confirmGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if handle.ID != f.latest || code != f.code {
		return services.ErrVerification
	}
	return nil
}

func (f *fakeVerifier) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, sessionID)
}

func (f *fakeVerifier) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
}

type fakeSubmitter struct {
	validateErr error
	outcomes    []services.SubmissionOutcome
	submitted   []models.QuoteRecord
	// when set, Submit signals started and waits on release
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Validate(record models.QuoteRecord) error {
	return f.validateErr
}

func (f *fakeSubmitter) Submit(ctx context.Context, sessionID string, record models.QuoteRecord) services.SubmissionOutcome {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.submitted = append(f.submitted, record)
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out
}

type gatedLocator struct {
	started chan struct{}
	release chan struct{}
	result  location.Result
}

func (g *gatedLocator) Validate(ctx context.Context, input string) location.Result {
	g.started <- struct{}{}
	<-g.release
	return g.result
}

var success = services.SubmissionOutcome{
	SubmissionStatus: models.SubmissionStatus{Success: true, Message: "submitted", ID: "L-1"},
	Terminal:         true,
}

type harness struct {
	machine   *Machine
	store     *quote.Store
	verifier  *fakeVerifier
	submitter *fakeSubmitter
}

func newHarness(t *testing.T, service string) *harness {
	t.Helper()
	h := &harness{
		verifier:  &fakeVerifier{code: "123456"},
		submitter: &fakeSubmitter{outcomes: []services.SubmissionOutcome{success}},
	}
	h.store = quote.NewStore("sess-1", quote.NewMemoryPersister(), logging.Discard())
	h.machine = NewMachine(h.store, service, StepTimeframe, Dependencies{
		Verifier:  h.verifier,
		Submitter: h.submitter,
		Logger:    logging.Discard(),
		Now:       func() time.Time { return testNow },
	})
	return h
}

func (h *harness) forward(t *testing.T, step Step, a Action) View {
	t.Helper()
	v, err := h.machine.Forward(context.Background(), step, a)
	require.NoError(t, err)
	return v
}

func (h *harness) pick(t *testing.T, side Side, c location.Components) {
	t.Helper()
	_, res, err := h.machine.ResolveLocation(context.Background(), LocationRequest{Side: side, Candidate: &c})
	require.NoError(t, err)
	require.True(t, res.Valid)
}

// driveTo walks a moving session forward until target is the active step
func (h *harness) driveTo(t *testing.T, target Step) {
	t.Helper()
	steps := map[Step]func(){
		StepTimeframe:     func() { h.forward(t, StepTimeframe, Action{Value: "In 2 weeks"}) },
		StepMoveSize:      func() { h.forward(t, StepMoveSize, Action{Value: "2 Bedroom"}) },
		StepServiceType:   func() { h.forward(t, StepServiceType, Action{Value: "Standard"}) },
		StepProjectStatus: func() { h.forward(t, StepProjectStatus, Action{Value: "Ready to Hire"}) },
		StepLocation: func() {
			h.pick(t, SideOrigin, location.Components{City: "Cape Coral", State: "FL", Zip: "33904"})
			h.pick(t, SideDestination, location.Components{City: "Tampa", State: "FL"})
			h.forward(t, StepLocation, Action{})
		},
		StepDestination: func() { h.forward(t, StepDestination, Action{}) },
		StepEmail:       func() { h.forward(t, StepEmail, Action{Email: "ada@example.com"}) },
		StepName:        func() { h.forward(t, StepName, Action{FirstName: "Ada", LastName: "Lovelace"}) },
		StepPhone: func() {
			h.forward(t, StepPhone, Action{Phone: "2395550100", SMSConsent: true})
		},
		StepSendCode: func() { h.forward(t, StepSendCode, Action{}) },
	}
	for h.machine.View().Step != target {
		cur := h.machine.View().Step
		step, ok := steps[cur]
		require.True(t, ok, "cannot drive past step %d", cur)
		step()
	}
}

func TestFullFlow(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepVerifyCode)

	v := h.forward(t, StepVerifyCode, Action{Code: "123456"})

	assert.True(t, v.Terminal)
	assert.Equal(t, StepDone, v.Step)
	assert.Equal(t, "submitted", v.Message)

	r := v.Record
	assert.Equal(t, "Ada Lovelace", r.FullName)
	assert.Equal(t, "(239) 555-0100", r.PhoneNumber)
	assert.True(t, r.SMSConsent)
	require.NotNil(t, r.MoveDate)
	assert.Equal(t, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), *r.MoveDate)
	require.NotNil(t, r.SubmissionStatus)
	assert.True(t, r.SubmissionStatus.Success)
	assert.Equal(t, "L-1", r.SubmissionStatus.ID)
	require.NotNil(t, r.EstimatedCost)
	assert.Equal(t, models.StepLabelComplete, r.CurrentStep)
	for _, label := range []string{"moveTimeframe", "moveSize", "serviceType", "projectStatus", "location",
		"destinationZip", "email", "name", "phone", "smsSent", "verified", "complete"} {
		assert.Contains(t, r.CompletedSteps, label)
	}

	require.Len(t, h.submitter.submitted, 1)
	assert.NotNil(t, h.submitter.submitted[0].EstimatedCost, "estimate is generated before submission")

	_, err := h.machine.Back(context.Background())
	assert.ErrorIs(t, err, ErrStepMismatch)
}

func TestJunkRemovalSkipsMoveSize(t *testing.T) {
	h := newHarness(t, models.ServiceJunkRemoval)

	v := h.forward(t, StepTimeframe, Action{Value: "In a few days"})
	assert.Equal(t, StepServiceType, v.Step)
	assert.Equal(t, 2, v.DisplayStep)
	assert.Equal(t, 10, v.TotalSteps)

	// the entry service is confirmed whatever the client sends
	v = h.forward(t, StepServiceType, Action{Value: "Premium"})
	assert.Equal(t, StepProjectStatus, v.Step)
	assert.Equal(t, models.ServiceJunkRemoval, v.Record.ServiceType)
	assert.NotContains(t, v.Record.CompletedSteps, models.StepLabelMoveSize)

	v, err := h.machine.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepServiceType, v.Step)
	v, err = h.machine.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepTimeframe, v.Step)
}

func TestGuardsBlockWithoutSideEffects(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	before := h.store.Read()

	v, err := h.machine.Forward(context.Background(), StepTimeframe, Action{Value: "Someday"})

	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StepTimeframe, guardErr.Step)
	assert.Equal(t, MsgSelectTimeframe, v.Message)
	assert.Equal(t, StepTimeframe, v.Step)
	assert.Equal(t, before.CompletedSteps, h.store.Read().CompletedSteps)
}

func TestDestinationGuard(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepDestination)

	// clear the destination behind the machine's back
	h.store.Merge(context.Background(), quote.Patch{DestinationCity: quote.Ptr(""), DestinationZip: quote.Ptr("")})

	for _, trigger := range []Trigger{TriggerClick, TriggerEnter} {
		v, err := h.machine.Forward(context.Background(), StepDestination, Action{Trigger: trigger})
		var guardErr *GuardError
		require.ErrorAs(t, err, &guardErr)
		assert.Equal(t, StepDestination, v.Step)
		assert.Equal(t, MsgDestinationInvalid, v.Message)
	}
}

func TestLocationGuardNamesMissingSide(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepLocation)

	v, err := h.machine.Forward(context.Background(), StepLocation, Action{})
	assert.Error(t, err)
	assert.Equal(t, MsgOriginRequired, v.Message)

	h.pick(t, SideOrigin, location.Components{Zip: "33904"})
	v, err = h.machine.Forward(context.Background(), StepLocation, Action{})
	assert.Error(t, err)
	assert.Equal(t, MsgDestinationRequired, v.Message)
}

func TestEnterOnlyOnLaterSteps(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepServiceType)
	before := h.store.Read()

	v, err := h.machine.Forward(context.Background(), StepServiceType, Action{Trigger: TriggerEnter, Value: "Standard"})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StepServiceType, v.Step)
	assert.Empty(t, h.store.Read().ServiceType)
	assert.Equal(t, before.UpdatedAt, h.store.Read().UpdatedAt)

	h.driveTo(t, StepEmail)
	_, err = h.machine.Forward(context.Background(), StepEmail, Action{Trigger: TriggerEnter, Email: "not-an-email"})
	require.ErrorAs(t, err, &guardErr)

	v = h.forward(t, StepEmail, Action{Trigger: TriggerEnter, Email: "ada@example.com"})
	assert.Equal(t, StepName, v.Step)
	assert.Contains(t, v.Record.CompletedSteps, models.StepLabelEmail)
}

func TestStepMismatch(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	_, err := h.machine.Forward(context.Background(), StepEmail, Action{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrStepMismatch)

	_, err = h.machine.Reset(context.Background())
	assert.ErrorIs(t, err, ErrStepMismatch)

	_, err = h.machine.Resend(context.Background())
	assert.ErrorIs(t, err, ErrStepMismatch)
}

func TestPhoneGuard(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepPhone)

	v, err := h.machine.Forward(context.Background(), StepPhone, Action{Phone: "239555", SMSConsent: true})
	assert.Error(t, err)
	assert.Equal(t, MsgPhoneInvalid, v.Message)

	v, err = h.machine.Forward(context.Background(), StepPhone, Action{Phone: "2395550100"})
	assert.Error(t, err)
	assert.Equal(t, MsgConsentRequired, v.Message)
}

func TestPhoneWithCountryCode(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepPhone)

	v, err := h.machine.Forward(context.Background(), StepPhone, Action{Phone: "239-555-0100-12", SMSConsent: true})
	assert.Error(t, err)
	assert.Equal(t, MsgPhoneInvalid, v.Message)

	v = h.forward(t, StepPhone, Action{Phone: "+1 (239) 555-0100", SMSConsent: true})
	assert.Equal(t, "(239) 555-0100", v.Record.PhoneNumber)
	assert.Equal(t, "+12395550100", models.ToE164(v.Record.PhoneNumber))

	v = h.forward(t, StepSendCode, Action{Phone: "1-941-555-0199"})
	assert.Equal(t, "(941) 555-0199", v.Record.PhoneNumber)
	assert.Equal(t, "(941) 555-0199#1", h.verifier.latest)
}

func TestDispatchFailureStaysOnStep(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepSendCode)
	h.verifier.sendErr = errors.New("provider down")

	v, err := h.machine.Forward(context.Background(), StepSendCode, Action{Trigger: TriggerEnter})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StepSendCode, v.Step)
	assert.Equal(t, MsgSendFailed, v.Message)
	assert.False(t, v.CodeSent)

	h.verifier.sendErr = fmt.Errorf("wrapped: %w", services.ErrChallengeNotArmed)
	v, _ = h.machine.Forward(context.Background(), StepSendCode, Action{})
	assert.Equal(t, MsgChallengeRequired, v.Message)

	h.verifier.sendErr = nil
	v = h.forward(t, StepSendCode, Action{})
	assert.Equal(t, StepVerifyCode, v.Step)
	assert.True(t, v.CodeSent)
}

func TestSendCodeAcceptsCorrectedNumber(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepVerifyCode)

	v, err := h.machine.ChangeNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSendCode, v.Step)
	assert.False(t, v.CodeSent)

	v = h.forward(t, StepSendCode, Action{Phone: "941-555-0199"})
	assert.Equal(t, "(941) 555-0199", v.Record.PhoneNumber)
	assert.Equal(t, StepVerifyCode, v.Step)
}

func TestWrongCodeThenResend(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepVerifyCode)

	v, err := h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "12"})
	assert.Error(t, err)
	assert.Equal(t, MsgCodeRequired, v.Message)

	v, err = h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "999999"})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StepVerifyCode, v.Step)
	assert.Equal(t, MsgCodeInvalid, v.Message)

	v, err = h.machine.Resend(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v.Message)
	assert.True(t, v.CodeSent)
	assert.Equal(t, 2, h.verifier.sends)

	v = h.forward(t, StepVerifyCode, Action{Code: "123456"})
	assert.True(t, v.Terminal)
}

func TestRetryableSubmissionDoesNotReconfirm(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.submitter.outcomes = []services.SubmissionOutcome{
		{SubmissionStatus: models.SubmissionStatus{Message: "Network connection error."}},
		success,
	}
	h.driveTo(t, StepVerifyCode)

	v, err := h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "123456"})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, StepVerifyCode, v.Step)
	assert.Equal(t, "Network connection error.", v.Message)
	require.NotNil(t, v.Record.SubmissionStatus)
	assert.False(t, v.Record.SubmissionStatus.Success)
	assert.Contains(t, v.Record.CompletedSteps, models.StepLabelVerified)

	v = h.forward(t, StepVerifyCode, Action{})
	assert.True(t, v.Terminal)
	assert.Equal(t, 1, h.verifier.confirms)
	assert.Len(t, h.submitter.submitted, 2)
}

func TestPreSubmissionValidationFailure(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.submitter.validateErr = errors.New("Missing required information: moveDate. Please complete all fields.")
	h.driveTo(t, StepVerifyCode)

	v, err := h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "123456"})
	assert.Error(t, err)
	assert.Equal(t, StepVerifyCode, v.Step)
	assert.Equal(t, "Missing required information: moveDate. Please complete all fields.", v.Record.SubmissionStatus.Message)
	assert.Empty(t, h.submitter.submitted)
}

func TestReset(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepEmail)

	v, err := h.machine.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepTimeframe, v.Step)
	assert.Empty(t, v.Record.MoveTimeframe)
	assert.Empty(t, v.Record.CompletedSteps)
	assert.Nil(t, v.Record.MoveDate)
	assert.Equal(t, []string{"sess-1"}, h.verifier.forgotten)
}

func TestStaleLocationLookupIsDiscarded(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	locator := &gatedLocator{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result: location.Result{Valid: true, Message: "Valid city",
			Components: &location.Components{City: "Miami", State: "FL"}},
	}
	h.machine.deps.Locations = locator
	h.driveTo(t, StepLocation)
	h.pick(t, SideOrigin, location.Components{City: "Cape Coral", State: "FL"})
	h.pick(t, SideDestination, location.Components{Zip: "33601"})

	type outcome struct {
		view View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		v, _, err := h.machine.ResolveLocation(context.Background(), LocationRequest{Side: SideOrigin, Query: "Miami"})
		done <- outcome{v, err}
	}()
	<-locator.started

	h.forward(t, StepLocation, Action{})
	h.forward(t, StepDestination, Action{Trigger: TriggerEnter})
	close(locator.release)

	got := <-done
	assert.ErrorIs(t, got.err, ErrStaleResponse)
	assert.Equal(t, StepEmail, got.view.Step)
	assert.Equal(t, "Cape Coral", h.store.Read().OriginCity)
	assert.Equal(t, StepEmail, h.machine.View().Step)
}

func TestLocationLookupCommitsWhenCurrent(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	locator := &gatedLocator{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result: location.Result{Valid: true, Message: "Valid ZIP code",
			Components: &location.Components{City: "Fort Myers", State: "FL", Zip: "33901",
				FormattedAddress: "Fort Myers, FL 33901, USA"}},
	}
	close(locator.release)
	h.machine.deps.Locations = locator
	h.driveTo(t, StepLocation)

	v, res, err := h.machine.ResolveLocation(context.Background(), LocationRequest{Side: SideDestination, Query: "33901"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "33901", v.Record.DestinationZip)
	assert.Equal(t, "Fort Myers, FL 33901, USA", v.Record.DestinationAddress)

	_, _, err = h.machine.ResolveLocation(context.Background(), LocationRequest{Side: "sideways"})
	assert.Error(t, err)
}

func TestOriginOnlyOnLocationStep(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepDestination)

	c := location.Components{City: "Naples"}
	_, _, err := h.machine.ResolveLocation(context.Background(), LocationRequest{Side: SideOrigin, Candidate: &c})
	assert.ErrorIs(t, err, ErrStepMismatch)

	h.pick(t, SideDestination, c)
	assert.Equal(t, "Naples", h.store.Read().DestinationCity)
}

func TestDoubleSendIsBlocked(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepSendCode)
	h.verifier.gate = make(chan struct{})
	h.verifier.sent = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.Forward(context.Background(), StepSendCode, Action{})
		done <- err
	}()
	<-h.verifier.sent

	v, err := h.machine.Forward(context.Background(), StepSendCode, Action{Trigger: TriggerEnter})
	var guardErr *GuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, MsgRequestInFlight, guardErr.Message)
	assert.True(t, v.Pending)

	close(h.verifier.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StepVerifyCode, h.machine.View().Step)
	assert.Equal(t, 1, h.verifier.sends)
}

func TestBackDuringDispatchMakesItStale(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepSendCode)
	h.verifier.gate = make(chan struct{})
	h.verifier.sent = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.Forward(context.Background(), StepSendCode, Action{})
		done <- err
	}()
	<-h.verifier.sent

	v, err := h.machine.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepPhone, v.Step)
	assert.False(t, v.Pending)

	close(h.verifier.gate)
	assert.ErrorIs(t, <-done, ErrStaleResponse)
	v = h.machine.View()
	assert.Equal(t, StepPhone, v.Step)
	assert.False(t, v.CodeSent)
}

func TestBackDuringConfirmationMakesItStale(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepVerifyCode)
	h.verifier.confirmGate = make(chan struct{})
	h.verifier.confirming = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "123456"})
		done <- err
	}()
	<-h.verifier.confirming

	v, err := h.machine.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSendCode, v.Step)

	close(h.verifier.confirmGate)
	assert.ErrorIs(t, <-done, ErrStaleResponse)
	v = h.machine.View()
	assert.Equal(t, StepSendCode, v.Step)
	assert.NotContains(t, v.Record.CompletedSteps, models.StepLabelVerified)
	assert.Empty(t, h.submitter.submitted)
}

func TestBackDuringSubmissionMakesItStale(t *testing.T) {
	h := newHarness(t, models.ServiceMoving)
	h.driveTo(t, StepVerifyCode)
	h.submitter.started = make(chan struct{}, 1)
	h.submitter.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.Forward(context.Background(), StepVerifyCode, Action{Code: "123456"})
		done <- err
	}()
	<-h.submitter.started

	v, err := h.machine.Back(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSendCode, v.Step)

	close(h.submitter.release)
	assert.ErrorIs(t, <-done, ErrStaleResponse)
	v = h.machine.View()
	assert.Equal(t, StepSendCode, v.Step)
	assert.False(t, v.Terminal)
	assert.Nil(t, v.Record.SubmissionStatus)
	assert.NotContains(t, v.Record.CompletedSteps, models.StepLabelComplete)
}
