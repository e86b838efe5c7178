package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quote-wizard/pkg/location"
	"quote-wizard/pkg/logging"
	"quote-wizard/pkg/middleware"
	"quote-wizard/pkg/quote"
	"quote-wizard/pkg/services"
	"quote-wizard/pkg/wizard"
)

// ChallengeArmer arms the anti-automation challenge for a session
type ChallengeArmer interface {
	ArmChallenge(ctx context.Context, sessionID, token, remoteIP string) error
}

// Suggester lists location candidates for autocomplete
type Suggester interface {
	Suggest(ctx context.Context, input string) []location.Components
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	wizards    *wizard.Manager
	challenges ChallengeArmer
	locations  Suggester
	logger     *logging.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(wizards *wizard.Manager, challenges ChallengeArmer, locations Suggester, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		wizards:    wizards,
		challenges: challenges,
		locations:  locations,
		logger:     logger,
	}
}

// Register mounts the quote API on router. smsLimiter throttles the endpoints that send SMS.
func (h *Handlers) Register(router gin.IRouter, smsLimiter *middleware.RateLimiter) {
	sendsSMS := func(c *gin.Context) bool {
		return c.Param("step") == strconv.Itoa(int(wizard.StepSendCode))
	}

	router.GET("/health", h.HealthCheck)

	quotes := router.Group("/api/quotes")
	quotes.POST("", h.CreateQuote)
	quotes.GET("/:id", h.GetQuote)
	quotes.POST("/:id/back", h.Back)
	quotes.POST("/:id/reset", h.Reset)
	quotes.POST("/:id/change-number", h.ChangeNumber)
	quotes.POST("/:id/locations", h.ResolveLocation)
	quotes.POST("/:id/steps/:step", middleware.RateLimitIf(smsLimiter, sendsSMS), h.Forward)
	quotes.POST("/:id/challenge", middleware.RateLimit(smsLimiter), h.ArmChallenge)
	quotes.POST("/:id/sms/resend", middleware.RateLimit(smsLimiter), h.Resend)

	router.GET("/api/locations/suggest", h.SuggestLocations)
}

// HealthCheck handler for monitoring
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

type createRequest struct {
	Service string `json:"service" binding:"omitempty,oneof=Moving JunkRemoval LaborOnly"`
}

// CreateQuote starts a wizard session
func (h *Handlers) CreateQuote(c *gin.Context) {
	var req createRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	machine, err := h.wizards.Create(c.Request.Context(), req.Service)
	if err != nil {
		h.writeError(c, nil, err)
		return
	}
	c.JSON(http.StatusCreated, machine.View())
}

// GetQuote returns the current step and record of a session
func (h *Handlers) GetQuote(c *gin.Context) {
	machine, ok := h.open(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, machine.View())
}

type stepRequest struct {
	Trigger          string `json:"trigger" binding:"omitempty,oneof=click enter"`
	Value            string `json:"value"`
	MoveDate         string `json:"moveDate"`
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Phone            string `json:"phone"`
	SMSConsent       bool   `json:"smsConsent"`
	MarketingConsent bool   `json:"marketingConsent"`
	Code             string `json:"code"`
}

// Forward runs the guarded transition out of the step in the path
func (h *Handlers) Forward(c *gin.Context) {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid step"})
		return
	}

	var req stepRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	action := wizard.Action{
		Trigger:          wizard.Trigger(req.Trigger),
		Value:            req.Value,
		Email:            req.Email,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		SMSConsent:       req.SMSConsent,
		MarketingConsent: req.MarketingConsent,
		Code:             req.Code,
	}
	if req.MoveDate != "" {
		date, err := time.Parse(time.DateOnly, req.MoveDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid move date"})
			return
		}
		action.MoveDate = &date
	}

	machine, ok := h.open(c)
	if !ok {
		return
	}

	view, err := machine.Forward(c.Request.Context(), wizard.Step(step), action)
	if err != nil {
		h.writeError(c, &view, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Back returns to the previous step
func (h *Handlers) Back(c *gin.Context) {
	h.navigate(c, (*wizard.Machine).Back)
}

// Reset clears the session and returns to the first step
func (h *Handlers) Reset(c *gin.Context) {
	h.navigate(c, (*wizard.Machine).Reset)
}

// ChangeNumber leaves code entry to correct the phone number
func (h *Handlers) ChangeNumber(c *gin.Context) {
	h.navigate(c, (*wizard.Machine).ChangeNumber)
}

// Resend sends a new verification code
func (h *Handlers) Resend(c *gin.Context) {
	h.navigate(c, (*wizard.Machine).Resend)
}

func (h *Handlers) navigate(c *gin.Context, op func(*wizard.Machine, context.Context) (wizard.View, error)) {
	machine, ok := h.open(c)
	if !ok {
		return
	}
	view, err := op(machine, c.Request.Context())
	if err != nil {
		h.writeError(c, &view, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type locationRequest struct {
	Side      string               `json:"side" binding:"required,oneof=origin destination"`
	Query     string               `json:"query"`
	Candidate *location.Components `json:"candidate"`
}

// ResolveLocation validates an origin or destination and stores it on the record
func (h *Handlers) ResolveLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	machine, ok := h.open(c)
	if !ok {
		return
	}

	view, result, err := machine.ResolveLocation(c.Request.Context(), wizard.LocationRequest{
		Side:      wizard.Side(req.Side),
		Query:     req.Query,
		Candidate: req.Candidate,
	})
	if err != nil {
		h.writeError(c, &view, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"location": result,
		"quote":    view,
	})
}

// SuggestLocations lists autocomplete candidates for the query
func (h *Handlers) SuggestLocations(c *gin.Context) {
	suggestions := []location.Components{}
	if h.locations != nil {
		if found := h.locations.Suggest(c.Request.Context(), c.Query("q")); found != nil {
			suggestions = found
		}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

type challengeRequest struct {
	Token string `json:"token"`
}

// ArmChallenge verifies the reCAPTCHA token that must precede the first SMS
func (h *Handlers) ArmChallenge(c *gin.Context) {
	var req challengeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	machine, ok := h.open(c)
	if !ok {
		return
	}

	err := h.challenges.ArmChallenge(c.Request.Context(), machine.SessionID(), req.Token, c.ClientIP())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"armed": true})
	case errors.Is(err, services.ErrChallengeFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"armed": false, "error": wizard.MsgChallengeRequired})
	default:
		h.logger.Error("error arming challenge", "session_id", machine.SessionID(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"armed": false, "error": "Verification service unavailable"})
	}
}

func (h *Handlers) open(c *gin.Context) (*wizard.Machine, bool) {
	machine, err := h.wizards.Open(c.Request.Context(), c.Param("id"), c.Query("service"))
	if err != nil {
		h.writeError(c, nil, err)
		return nil, false
	}
	return machine, true
}

func (h *Handlers) writeError(c *gin.Context, view *wizard.View, err error) {
	body := gin.H{}
	if view != nil {
		body["quote"] = view
	}

	var guardErr *wizard.GuardError
	switch {
	case errors.As(err, &guardErr):
		body["error"] = guardErr.Message
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, quote.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Quote session not found"})
	case errors.Is(err, wizard.ErrUnknownService):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown service"})
	case errors.Is(err, wizard.ErrStepMismatch), errors.Is(err, wizard.ErrStaleResponse):
		body["error"] = err.Error()
		c.JSON(http.StatusConflict, body)
	default:
		h.logger.Error("unhandled wizard error", "path", c.FullPath(), "error", err)
		body["error"] = "Internal server error"
		c.JSON(http.StatusInternalServerError, body)
	}
}

// bindOptionalJSON binds the body when there is one; a bad body answers 400
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return false
	}
	return true
}
