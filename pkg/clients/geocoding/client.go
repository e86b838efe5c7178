package geocoding

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"googlemaps.github.io/maps"

	"quote-wizard/pkg/location"
)

// Client defines the interface for the Google Maps Geocoding API
type Client interface {
	Geocode(ctx context.Context, address string) ([]location.Components, error)
}

type clientImpl struct {
	maps *maps.Client
}

// NewClient creates a geocoding client restricted to US addresses.
// Extra options (e.g. maps.WithBaseURL) are passed to the maps client.
func NewClient(apiKey string, opts ...maps.ClientOption) (Client, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating maps client: %w", err)
	}
	return &clientImpl{maps: c}, nil
}

func (c *clientImpl) Geocode(ctx context.Context, address string) ([]location.Components, error) {
	req := &maps.GeocodingRequest{
		Address:    strings.TrimSpace(address),
		Components: map[maps.Component]string{maps.ComponentCountry: "us"},
		Region:     "us",
	}

	results, err := c.maps.Geocode(ctx, req)
	if err != nil {
		// the maps client reports ZERO_RESULTS as an error
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return nil, nil
		}
		return nil, fmt.Errorf("error geocoding address: %w", err)
	}

	out := make([]location.Components, 0, len(results))
	for _, r := range results {
		out = append(out, toComponents(r))
	}
	return out, nil
}

func toComponents(r maps.GeocodingResult) location.Components {
	var c location.Components
	var number, route string
	for _, comp := range r.AddressComponents {
		switch {
		case slices.Contains(comp.Types, "locality"):
			c.City = comp.LongName
		case slices.Contains(comp.Types, "administrative_area_level_1"):
			c.State = comp.ShortName
		case slices.Contains(comp.Types, "postal_code"):
			c.Zip = comp.LongName
		case slices.Contains(comp.Types, "street_number"):
			number = comp.LongName
		case slices.Contains(comp.Types, "route"):
			route = comp.ShortName
		}
	}
	c.Street = strings.TrimSpace(number + " " + route)
	c.FormattedAddress = r.FormattedAddress
	return c
}
