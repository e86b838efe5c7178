package quote

import (
	"math"

	"quote-wizard/pkg/models"
)

// Placeholder pricing: a fixed base per move size scaled by the service level.
// It is not a pricing engine.
var basePrices = map[string]float64{
	"a Studio":  500,
	"Studio":    500,
	"1 Bedroom": 800,
	"2 Bedroom": 1200,
	"3 Bedroom": 1800,
	"4 Bedroom": 2500,
}

const defaultBasePrice = 3000

func serviceMultiplier(serviceType string) float64 {
	switch serviceType {
	case "Cheapest":
		return 1
	case "Standard":
		return 1.3
	default:
		return 1.6
	}
}

// Estimate computes the price range for a record
func Estimate(r models.QuoteRecord) models.EstimatedCost {
	base, ok := basePrices[r.MoveSize]
	if !ok {
		base = defaultBasePrice
	}
	m := serviceMultiplier(r.ServiceType)
	return models.EstimatedCost{
		Min: int(math.Round(base * m * 0.9)),
		Max: int(math.Round(base * m * 1.1)),
	}
}
