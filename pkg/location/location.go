package location

import (
	"context"
	"regexp"
	"strings"

	"quote-wizard/pkg/logging"
)

// Components is a normalized geocoding candidate
type Components struct {
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	Zip              string `json:"zip,omitempty"`
	Street           string `json:"street,omitempty"`
	FormattedAddress string `json:"formattedAddress,omitempty"`
}

// Resolved reports whether the candidate carries at least a city or a ZIP code
func (c Components) Resolved() bool {
	return c.City != "" || c.Zip != ""
}

// Result is the classification of a free-text location
type Result struct {
	Valid      bool        `json:"valid"`
	Message    string      `json:"message"`
	Components *Components `json:"components,omitempty"`
}

// Geocoder resolves free text into zero or more candidates
type Geocoder interface {
	Geocode(ctx context.Context, address string) ([]Components, error)
}

const maxSuggestions = 10

var (
	zipPattern        = regexp.MustCompile(`^\d{5}$`)
	trailingStateCode = regexp.MustCompile(`\s[A-Z]{2}$`)
)

// Validator turns free text into a validated location
type Validator struct {
	geocoder Geocoder
	logger   *logging.Logger
}

// NewValidator creates a validator. A nil geocoder reports the service as unavailable.
func NewValidator(geocoder Geocoder, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Validator{geocoder: geocoder, logger: logger}
}

// IsZip reports whether input is a five digit ZIP code
func IsZip(input string) bool {
	return zipPattern.MatchString(strings.TrimSpace(input))
}

// Validate resolves input to a city or ZIP code
func (v *Validator) Validate(ctx context.Context, input string) Result {
	input = strings.TrimSpace(input)
	if len(input) < 2 {
		return Result{Message: "Please enter a city or ZIP code"}
	}
	if v.geocoder == nil {
		return Result{Message: "Location validation service unavailable"}
	}

	isZip := IsZip(input)
	candidates, err := v.geocoder.Geocode(ctx, input)
	if err != nil {
		v.logger.Warn("geocoding failed", "error", err)
		return Result{Message: "Could not validate location"}
	}
	if len(candidates) == 0 {
		if isZip {
			return Result{Message: "ZIP code not found"}
		}
		return Result{Message: "City not found"}
	}

	c := Normalize(candidates[0])
	if isZip {
		if c.Zip == "" {
			return Result{Message: "Invalid ZIP code"}
		}
		return Result{Valid: true, Message: "Valid ZIP code", Components: &c}
	}
	if c.City == "" {
		return Result{Message: "Invalid city name"}
	}
	return Result{Valid: true, Message: "Valid city", Components: &c}
}

// Suggest returns up to ten candidates for an autocomplete list
func (v *Validator) Suggest(ctx context.Context, input string) []Components {
	input = strings.TrimSpace(input)
	if len(input) < 2 || v.geocoder == nil {
		return nil
	}
	candidates, err := v.geocoder.Geocode(ctx, input)
	if err != nil {
		v.logger.Warn("geocoding suggestions failed", "error", err)
		return nil
	}
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]Components, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Normalize(c))
	}
	return out
}

// Normalize fills a missing city from the formatted address
func Normalize(c Components) Components {
	if c.City == "" && c.FormattedAddress != "" {
		c.City = CityFromAddress(c.FormattedAddress)
	}
	return c
}

// CityFromAddress takes the city out of "Street, City, ST 12345" style addresses.
// The second-to-last comma separated part is assumed to be the city.
func CityFromAddress(formatted string) string {
	parts := strings.Split(formatted, ",")
	if len(parts) < 2 {
		return ""
	}
	city := strings.TrimSpace(parts[len(parts)-2])
	return strings.TrimSpace(trailingStateCode.ReplaceAllString(city, ""))
}
