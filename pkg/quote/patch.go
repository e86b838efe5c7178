package quote

import (
	"time"

	"quote-wizard/pkg/models"
)

// Patch is a partial update; nil fields are left untouched by Merge
type Patch struct {
	OriginZip                *string
	OriginCity               *string
	OriginState              *string
	OriginAddress            *string
	OriginStreetAddress      *string
	DestinationZip           *string
	DestinationCity          *string
	DestinationState         *string
	DestinationAddress       *string
	DestinationStreetAddress *string

	MoveSize      *string
	MoveDate      *time.Time
	MoveTimeframe *string
	ServiceType   *string
	ProjectStatus *string

	AdditionalServices []string

	FirstName   *string
	LastName    *string
	FullName    *string
	Email       *string
	PhoneNumber *string

	MarketingConsent *bool
	SMSConsent       *bool

	SubmissionStatus *models.SubmissionStatus
}

// Ptr returns a pointer to v, for building patches inline
func Ptr[T any](v T) *T {
	return &v
}

func (p Patch) apply(r *models.QuoteRecord) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	set(&r.OriginZip, p.OriginZip)
	set(&r.OriginCity, p.OriginCity)
	set(&r.OriginState, p.OriginState)
	set(&r.OriginAddress, p.OriginAddress)
	set(&r.OriginStreetAddress, p.OriginStreetAddress)
	set(&r.DestinationZip, p.DestinationZip)
	set(&r.DestinationCity, p.DestinationCity)
	set(&r.DestinationState, p.DestinationState)
	set(&r.DestinationAddress, p.DestinationAddress)
	set(&r.DestinationStreetAddress, p.DestinationStreetAddress)
	set(&r.MoveSize, p.MoveSize)
	set(&r.MoveTimeframe, p.MoveTimeframe)
	set(&r.ServiceType, p.ServiceType)
	set(&r.ProjectStatus, p.ProjectStatus)
	set(&r.FirstName, p.FirstName)
	set(&r.LastName, p.LastName)
	set(&r.FullName, p.FullName)
	set(&r.Email, p.Email)
	set(&r.PhoneNumber, p.PhoneNumber)

	if p.MoveDate != nil {
		d := *p.MoveDate
		r.MoveDate = &d
	}
	if p.AdditionalServices != nil {
		r.AdditionalServices = dedupe(p.AdditionalServices)
	}
	if p.MarketingConsent != nil {
		r.MarketingConsent = *p.MarketingConsent
	}
	if p.SMSConsent != nil {
		r.SMSConsent = *p.SMSConsent
	}
	if p.SubmissionStatus != nil {
		s := *p.SubmissionStatus
		r.SubmissionStatus = &s
	}

	// full name follows first/last whenever either is written
	if (p.FirstName != nil || p.LastName != nil) && r.FirstName != "" && r.LastName != "" {
		r.FullName = r.FirstName + " " + r.LastName
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
