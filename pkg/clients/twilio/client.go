package twilio

import (
	"fmt"

	"github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/utils"
)

// Client defines the interface for interacting with Twilio Verify API
type Client interface {
	SendVerificationCode(phoneNumber string) (string, error)
	CheckVerificationCode(phoneNumber, code string) (bool, error)
}

type clientImpl struct {
	client    *twilio.RestClient
	serviceID string
	logger    *logging.Logger
}

// NewClient creates a new Twilio Verify client
func NewClient(accountSid, authToken, serviceID string, logger *logging.Logger) Client {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	if logger == nil {
		logger = logging.Default()
	}

	return &clientImpl{
		client:    client,
		serviceID: serviceID,
		logger:    logger,
	}
}

// SendVerificationCode starts an SMS verification and returns the verification SID
func (c *clientImpl) SendVerificationCode(phoneNumber string) (string, error) {
	params := &verify.CreateVerificationParams{}
	params.SetTo(phoneNumber)
	params.SetChannel("sms")

	resp, err := c.client.VerifyV2.CreateVerification(c.serviceID, params)
	if err != nil {
		return "", fmt.Errorf("error sending verification code: %w", err)
	}

	sid, status := "", ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	if resp.Status != nil {
		status = *resp.Status
	}
	c.logger.Info("sent verification code", "phone_hash", utils.PhoneHash(phoneNumber), "status", status)
	return sid, nil
}

// CheckVerificationCode reports whether code is approved for the phone's pending verification
func (c *clientImpl) CheckVerificationCode(phoneNumber, code string) (bool, error) {
	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phoneNumber)
	params.SetCode(code)

	resp, err := c.client.VerifyV2.CreateVerificationCheck(c.serviceID, params)
	if err != nil {
		return false, fmt.Errorf("error checking verification code: %w", err)
	}

	verified := resp.Status != nil && *resp.Status == "approved"
	c.logger.Info("verification check", "phone_hash", utils.PhoneHash(phoneNumber), "verified", verified)
	return verified, nil
}
