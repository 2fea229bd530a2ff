// Package pricing turns slicer estimates into a customer price.
package pricing

import (
	"math"

	"github.com/example/printshop/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	pricePerGram      = decimal.RequireFromString("1.5")
	pricePerHour      = decimal.NewFromInt(2)
	packagingCost     = decimal.NewFromInt(15)
	humanEffortsShare = decimal.RequireFromString("0.20")
	profitShare       = decimal.RequireFromString("0.50")
)

var densities = map[models.Material]float64{
	models.MaterialPLA:     1.24,
	models.MaterialPLAPlus: 1.25,
	models.MaterialABS:     1.05,
}

const defaultDensity = 1.24

// Density returns the filament density in g/cm³.
func Density(material models.Material) float64 {
	if d, ok := densities[material.Normalize()]; ok {
		return d
	}
	return defaultDensity
}

var infillFactors = map[models.Material]map[int]float64{
	models.MaterialPLA:     {20: 1.62, 40: 1.00, 60: 0.72, 80: 0.56, 100: 0.49},
	models.MaterialPLAPlus: {20: 1.62, 40: 1.00, 60: 0.72, 80: 0.56, 100: 0.49},
	models.MaterialABS:     {20: 1.50, 40: 0.96, 60: 0.69, 80: 0.54, 100: 0.47},
}

var supportFactors = map[models.Material]float64{
	models.MaterialPLA:     0.64,
	models.MaterialPLAPlus: 0.64,
	models.MaterialABS:     0.71,
}

// CorrectionFactor is the empirical divisor applied to the slicer's filament mass. Infill is
// ignored when support is enabled; unknown infill steps or materials map to 1.
func CorrectionFactor(material models.Material, infillPercent int, supportEnabled bool) float64 {
	m := material.Normalize()
	if supportEnabled {
		if f, ok := supportFactors[m]; ok {
			return f
		}
		return 1.0
	}
	if f, ok := infillFactors[m][infillPercent]; ok {
		return f
	}
	return 1.0
}

// FilamentGrams converts filament length to corrected grams, rounded up.
func FilamentGrams(filamentMm float64, material models.Material, infillPercent int, supportEnabled bool) int64 {
	grams := (filamentMm / 1000) * Density(material)
	corrected := grams / CorrectionFactor(material, infillPercent, supportEnabled)
	return int64(math.Ceil(corrected))
}

// PrintHours rounds the estimate up to whole hours.
func PrintHours(seconds float64) int64 {
	return int64(math.Ceil(seconds / 3600))
}

// EstimatePrice prices a print from the slicer's filament length (mm) and time (s). Grams and
// hours are rounded up, packaging is added, then human effort (20%) and profit (50%) are charged
// on that subtotal. FinalPrice is the whole total rounded half away from zero.
func EstimatePrice(filamentMm, seconds float64, material models.Material, infillPercent int, supportEnabled bool) models.PriceBreakdown {
	grams := FilamentGrams(filamentMm, material, infillPercent, supportEnabled)
	hours := PrintHours(seconds)

	filamentCost := decimal.NewFromInt(grams).Mul(pricePerGram)
	timeCost := decimal.NewFromInt(hours).Mul(pricePerHour)
	subtotal := filamentCost.Add(timeCost).Add(packagingCost)
	humanEfforts := subtotal.Mul(humanEffortsShare)
	profit := subtotal.Mul(profitShare)

	return models.PriceBreakdown{
		FilamentCost:     filamentCost,
		TimeCost:         timeCost,
		PackagingCost:    packagingCost,
		HumanEffortsCost: humanEfforts,
		ProfitCost:       profit,
		FinalPrice:       subtotal.Add(humanEfforts).Add(profit).Round(0).IntPart(),
	}
}
