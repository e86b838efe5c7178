package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quote-wizard/pkg/clients/recaptcha"
	"quote-wizard/pkg/clients/twilio"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/models"
	"quote-wizard/pkg/utils"
)

var (
	ErrDispatch          = errors.New("verification code dispatch failed")
	ErrVerification      = errors.New("verification failed")
	ErrChallengeNotArmed = errors.New("verification challenge not armed")
	ErrChallengeFailed   = errors.New("verification challenge rejected")
)

const defaultVerificationTimeout = 10 * time.Minute

// Handle identifies one dispatched code. A later SendCode for the same session replaces it.
type Handle struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Phone     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VerificationService struct {
	twilioClient twilio.Client
	captcha      recaptcha.Client
	logger       *logging.Logger

	// latest handle per session
	pending map[string]*Handle
	armed   map[string]bool
	mu      sync.RWMutex
	timeout time.Duration
	now     func() time.Time
}

// NewVerificationService creates the SMS verification flow. A nil captcha client arms
// challenges without calling out, which is only meant for local development.
func NewVerificationService(twilioClient twilio.Client, captcha recaptcha.Client, logger *logging.Logger) *VerificationService {
	if logger == nil {
		logger = logging.Default()
	}
	return &VerificationService{
		twilioClient: twilioClient,
		captcha:      captcha,
		logger:       logger,
		pending:      make(map[string]*Handle),
		armed:        make(map[string]bool),
		timeout:      defaultVerificationTimeout,
		now:          time.Now,
	}
}

// ArmChallenge verifies the anti-automation token once per session. Arming an armed session is a no-op.
func (s *VerificationService) ArmChallenge(ctx context.Context, sessionID, token, remoteIP string) error {
	if s.IsArmed(sessionID) {
		return nil
	}

	if s.captcha != nil {
		ok, err := s.captcha.Verify(ctx, token, remoteIP)
		if err != nil {
			return fmt.Errorf("error verifying challenge: %w", err)
		}
		if !ok {
			return ErrChallengeFailed
		}
	} else {
		s.logger.Warn("reCAPTCHA is not configured, arming challenge without verification", "session_id", sessionID)
	}

	s.mu.Lock()
	s.armed[sessionID] = true
	s.mu.Unlock()
	return nil
}

func (s *VerificationService) IsArmed(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed[sessionID]
}

// SendCode dispatches a code to phone and returns the handle that must confirm it
func (s *VerificationService) SendCode(ctx context.Context, sessionID, phone string) (Handle, error) {
	if !s.IsArmed(sessionID) {
		return Handle{}, ErrChallengeNotArmed
	}
	if err := ctx.Err(); err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	e164 := models.ToE164(phone)
	sid, err := s.twilioClient.SendVerificationCode(e164)
	if err != nil {
		s.logger.Error("error sending verification code", "phone_hash", utils.PhoneHash(e164), "error", err)
		return Handle{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	h := &Handle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Phone:     e164,
		ExpiresAt: s.now().Add(s.timeout),
	}

	s.mu.Lock()
	s.pending[sessionID] = h
	s.mu.Unlock()

	s.logger.Info("verification code sent",
		"session_id", sessionID,
		"phone_hash", utils.PhoneHash(e164),
		"verification_sid", sid)

	// Start cleanup goroutine
	go func(id string) {
		time.Sleep(s.timeout)
		s.mu.Lock()
		if cur, ok := s.pending[sessionID]; ok && cur.ID == id {
			delete(s.pending, sessionID)
		}
		s.mu.Unlock()
	}(h.ID)

	return *h, nil
}

// Confirm checks code against the verification behind handle
func (s *VerificationService) Confirm(ctx context.Context, handle Handle, code string) error {
	s.mu.RLock()
	current, exists := s.pending[handle.SessionID]
	s.mu.RUnlock()

	if !exists || current.ID != handle.ID {
		return fmt.Errorf("%w: verification handle is no longer current", ErrVerification)
	}

	if s.now().After(current.ExpiresAt) {
		s.forget(handle)
		return fmt.Errorf("%w: verification expired", ErrVerification)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}

	verified, err := s.twilioClient.CheckVerificationCode(current.Phone, code)
	if err != nil {
		s.logger.Error("error checking verification code", "phone_hash", utils.PhoneHash(current.Phone), "error", err)
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if !verified {
		return fmt.Errorf("%w: invalid verification code", ErrVerification)
	}

	s.forget(handle)
	return nil
}

// Forget drops the outstanding code for a session, e.g. after a wizard reset.
// The challenge stays armed for the rest of the page session.
func (s *VerificationService) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	s.mu.Unlock()
}

// Release drops everything held for a session, including the armed challenge
func (s *VerificationService) Release(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	delete(s.armed, sessionID)
	s.mu.Unlock()
}

func (s *VerificationService) forget(handle Handle) {
	s.mu.Lock()
	if cur, ok := s.pending[handle.SessionID]; ok && cur.ID == handle.ID {
		delete(s.pending, handle.SessionID)
	}
	s.mu.Unlock()
}
