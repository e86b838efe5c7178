package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Client defines the interface for verifying reCAPTCHA tokens
type Client interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type clientImpl struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewClient creates a reCAPTCHA client. An empty verifyURL uses Google's endpoint.
func NewClient(secret, verifyURL string) Client {
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &clientImpl{
		secret:     secret,
		verifyURL:  verifyURL,
		httpClient: &http.Client{},
	}
}

func (c *clientImpl) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("error verifying challenge: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("error from reCAPTCHA API: %s", string(body))
	}

	var response struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return false, fmt.Errorf("error parsing response: %w", err)
	}

	return response.Success, nil
}
