package smartmoving

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"quote-wizard/pkg/models"
)

// LeadRequest is the body of the SmartMoving "lead from provider" call
type LeadRequest struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	FullName    string `json:"fullName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	UserOptIn   string `json:"userOptIn"`
	Email       string `json:"email,omitempty"`

	MoveDate    string `json:"moveDate,omitempty"`
	MoveSize    string `json:"moveSize,omitempty"`
	ServiceType string `json:"serviceType"`
	Notes       string `json:"notes"`

	OriginStreet      string `json:"originStreet,omitempty"`
	OriginCity        string `json:"originCity,omitempty"`
	OriginState       string `json:"originState,omitempty"`
	OriginZip         string `json:"originZip,omitempty"`
	OriginAddressFull string `json:"originAddressFull,omitempty"`

	DestinationStreet      string `json:"destinationStreet,omitempty"`
	DestinationCity        string `json:"destinationCity,omitempty"`
	DestinationState       string `json:"destinationState,omitempty"`
	DestinationZip         string `json:"destinationZip,omitempty"`
	DestinationAddressFull string `json:"destinationAddressFull,omitempty"`

	// custom fields configured on the SmartMoving account
	QuoteEstimateMin string `json:"QuoteEstimateMin"`
	QuoteEstimateMax string `json:"QuoteEstimateMax"`
	VerificationCode string `json:"VerificationCode"`
}

const (
	baselineService    = "Moving"
	notSpecified       = "Not specified"
	verificationMarker = "Verified"
)

var serviceTypes = map[string]string{
	"Cheapest":                "Moving",
	"Standard":                "MovingAndPacking",
	"Premium":                 "MovingAndPacking",
	models.ServiceJunkRemoval: models.ServiceJunkRemoval,
	models.ServiceLaborOnly:   models.ServiceLaborOnly,
}

var moveSizes = map[string]string{
	"a Studio":   "Studio",
	"1 Bedroom":  "1 Bedroom",
	"2 Bedroom":  "2 Bedroom",
	"3 Bedroom":  "3 Bedroom",
	"4 Bedroom":  "4 Bedroom",
	"a Business": "Commercial",
}

// MapServiceType translates the wizard's service type into SmartMoving's vocabulary.
// Anything unknown becomes the baseline "Moving" service.
func MapServiceType(serviceType string) string {
	if v, ok := serviceTypes[serviceType]; ok {
		return v
	}
	return baselineService
}

// MapMoveSize translates a move size; unmapped values pass through
func MapMoveSize(moveSize string) string {
	if v, ok := moveSizes[moveSize]; ok {
		return v
	}
	return moveSize
}

// FormatMoveDate renders a date as YYYYMMDD; a nil date renders empty
func FormatMoveDate(date *time.Time) string {
	if date == nil {
		return ""
	}
	return date.Format("20060102")
}

func orNotSpecified(v string) string {
	if v == "" {
		return notSpecified
	}
	return v
}

// BuildLeadRequest maps a quote record to the SmartMoving request shape
func BuildLeadRequest(r models.QuoteRecord) LeadRequest {
	req := LeadRequest{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		PhoneNumber: r.PhoneNumber,
		UserOptIn:   strconv.FormatBool(r.SMSConsent),
		Email:       r.Email,
		MoveDate:    FormatMoveDate(r.MoveDate),
		ServiceType: MapServiceType(r.ServiceType),
		Notes: fmt.Sprintf("Move timeframe: %s, Project status: %s",
			orNotSpecified(r.MoveTimeframe), orNotSpecified(r.ProjectStatus)),

		OriginStreet: r.OriginStreetAddress,
		OriginCity:   r.OriginCity,
		OriginState:  r.OriginState,
		OriginZip:    r.OriginZip,

		DestinationStreet: r.DestinationStreetAddress,
		DestinationCity:   r.DestinationCity,
		DestinationState:  r.DestinationState,
		DestinationZip:    r.DestinationZip,

		VerificationCode: verificationMarker,
	}

	if r.MoveSize != "" {
		req.MoveSize = MapMoveSize(r.MoveSize)
	}
	if r.FirstName == "" && r.LastName == "" {
		req.FullName = r.FullName
	}
	if r.EstimatedCost != nil {
		req.QuoteEstimateMin = strconv.Itoa(r.EstimatedCost.Min)
		req.QuoteEstimateMax = strconv.Itoa(r.EstimatedCost.Max)
	}

	// without structured components the raw address text is sent instead
	if req.OriginStreet == "" && req.OriginCity == "" {
		req.OriginAddressFull = r.OriginAddress
	}
	if req.DestinationStreet == "" && req.DestinationCity == "" {
		req.DestinationAddressFull = r.DestinationAddress
	}
	return req
}

// ValidationError lists the required fields a record is missing
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Missing required information: %s. Please complete all fields.", strings.Join(e.Missing, ", "))
}

type requiredFields struct {
	FirstName   string     `json:"firstName" validate:"required"`
	LastName    string     `json:"lastName" validate:"required"`
	Email       string     `json:"email" validate:"required"`
	PhoneNumber string     `json:"phoneNumber" validate:"required"`
	MoveDate    *time.Time `json:"moveDate" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// ValidateRecord fails with a *ValidationError naming every missing required field
func ValidateRecord(r models.QuoteRecord) error {
	err := validate.Struct(requiredFields{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
		MoveDate:    r.MoveDate,
	})
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &ValidationError{Missing: missing}
}
