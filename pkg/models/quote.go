package models

import (
	"slices"
	"time"
)

// Move timeframe options offered on the first step
var Timeframes = []string{"In a few days", "In 2 weeks", "In 1 month", "In 2 months", "Later"}

// Move size options; "a Studio" and "a Business" are the labels the form shows
var MoveSizes = []string{"a Studio", "1 Bedroom", "2 Bedroom", "3 Bedroom", "4 Bedroom", "a Business"}

// Service levels a visitor can pick when no service is fixed by the landing page
var ServiceLevels = []string{"Cheapest", "Standard", "Premium"}

// Project statuses offered on the fourth step
var ProjectStatuses = []string{"Ready to Hire", "Viewing Options"}

// Entry services passed by the landing page
const (
	ServiceMoving      = "Moving"
	ServiceJunkRemoval = "JunkRemoval"
	ServiceLaborOnly   = "LaborOnly"
)

// Completed-step labels
const (
	StepLabelTimeframe     = "moveTimeframe"
	StepLabelMoveSize      = "moveSize"
	StepLabelServiceType   = "serviceType"
	StepLabelProjectStatus = "projectStatus"
	StepLabelLocation      = "location"
	StepLabelDestination   = "destinationZip"
	StepLabelEmail         = "email"
	StepLabelName          = "name"
	StepLabelPhone         = "phone"
	StepLabelSMSSent       = "smsSent"
	StepLabelVerified      = "verified"
	StepLabelComplete      = "complete"
)

// EstimatedCost is the placeholder price range shown after submission
type EstimatedCost struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// SubmissionStatus is the outcome of forwarding the lead to the CRM
type SubmissionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// QuoteRecord holds everything collected across the quote wizard for one session
type QuoteRecord struct {
	OriginZip                string `json:"originZip"`
	OriginCity               string `json:"originCity"`
	OriginState              string `json:"originState"`
	OriginAddress            string `json:"originAddress"`
	OriginStreetAddress      string `json:"originStreetAddress"`
	DestinationZip           string `json:"destinationZip"`
	DestinationCity          string `json:"destinationCity"`
	DestinationState         string `json:"destinationState"`
	DestinationAddress       string `json:"destinationAddress"`
	DestinationStreetAddress string `json:"destinationStreetAddress"`

	MoveSize      string     `json:"moveSize"`
	MoveDate      *time.Time `json:"moveDate"`
	MoveTimeframe string     `json:"moveTimeframe"`
	ServiceType   string     `json:"serviceType"`
	ProjectStatus string     `json:"projectStatus"`

	AdditionalServices []string `json:"additionalServices"`

	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`

	MarketingConsent bool `json:"marketingConsent"`
	SMSConsent       bool `json:"smsConsent"`

	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	CompletedSteps []string  `json:"completedSteps"`
	CurrentStep    string    `json:"currentStep"`

	EstimatedCost    *EstimatedCost    `json:"estimatedCost"`
	SubmissionStatus *SubmissionStatus `json:"submissionStatus,omitempty"`
}

// NewQuoteRecord returns a record holding the documented defaults
func NewQuoteRecord(now time.Time) QuoteRecord {
	return QuoteRecord{
		AdditionalServices: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
		CompletedSteps:     []string{},
		CurrentStep:        StepLabelLocation,
	}
}

// Clone returns a deep copy so callers never share slices or pointers with the store
func (q QuoteRecord) Clone() QuoteRecord {
	out := q
	out.AdditionalServices = slices.Clone(q.AdditionalServices)
	out.CompletedSteps = slices.Clone(q.CompletedSteps)
	if out.AdditionalServices == nil {
		out.AdditionalServices = []string{}
	}
	if out.CompletedSteps == nil {
		out.CompletedSteps = []string{}
	}
	if q.MoveDate != nil {
		d := *q.MoveDate
		out.MoveDate = &d
	}
	if q.EstimatedCost != nil {
		c := *q.EstimatedCost
		out.EstimatedCost = &c
	}
	if q.SubmissionStatus != nil {
		s := *q.SubmissionStatus
		out.SubmissionStatus = &s
	}
	return out
}

// OriginResolved reports whether the origin carries at least a city or a ZIP code
func (q QuoteRecord) OriginResolved() bool {
	return q.OriginCity != "" || q.OriginZip != ""
}

// DestinationResolved reports whether the destination carries at least a city or a ZIP code
func (q QuoteRecord) DestinationResolved() bool {
	return q.DestinationCity != "" || q.DestinationZip != ""
}

// HasCompleted reports whether the step label was marked completed
func (q QuoteRecord) HasCompleted(step string) bool {
	return slices.Contains(q.CompletedSteps, step)
}
