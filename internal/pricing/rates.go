package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Material identifiers understood by the engine.
const (
	MaterialPE            = "PE"
	MaterialPP            = "PP"
	MaterialPET           = "PET"
	MaterialAluminum      = "ALUMINUM"
	MaterialPaperLaminate = "PAPER_LAMINATE"
	MaterialSpecialty     = "特殊素材"
)

// Printing, delivery and urgency values.
const (
	PrintingDigital = "digital"
	PrintingGravure = "gravure"

	DeliveryDomestic      = "domestic"
	DeliveryInternational = "international"

	UrgencyStandard = "standard"
	UrgencyExpress  = "express"
)

const (
	// MinimumPriceThreshold is the order total at or below which a quote is flagged
	// as falling under the minimum order price.
	MinimumPriceThreshold = 160000
	// MinOrderQuantity is the smallest quantity accepted by the quote wizard.
	MinOrderQuantity = 100
	// MaxOrderQuantity is the largest quantity accepted by the quote wizard.
	MaxOrderQuantity = 100000
)

// flatBagTypes are made from a single flat web and have no gusset depth.
var flatBagTypes = map[string]bool{
	"flat_3_side":   true,
	"flat_with_zip": true,
	"roll_film":     true,
}

// IsFlatBagType reports whether a bag type is quoted without a depth.
func IsFlatBagType(bagTypeID string) bool {
	return flatBagTypes[bagTypeID]
}

var materialMultipliers = map[string]decimal.Decimal{
	MaterialPE:            decimal.NewFromFloat(1.0),
	MaterialPP:            decimal.NewFromFloat(1.1),
	MaterialPET:           decimal.NewFromFloat(1.2),
	MaterialAluminum:      decimal.NewFromFloat(1.5),
	MaterialPaperLaminate: decimal.NewFromFloat(1.3),
	MaterialSpecialty:     decimal.NewFromFloat(2.0),

	// Laminate structures offered by the quote wizard.
	"pet_al":    decimal.NewFromFloat(1.5),
	"pet_ny_al": decimal.NewFromFloat(1.5),
	"pet_vmpet": decimal.NewFromFloat(1.3),
	"pet_ldpe":  decimal.NewFromFloat(1.2),
	"kraft_pe":  decimal.NewFromFloat(1.3),
}

// MaterialMultiplier returns the cost factor for a material. Unknown materials cost 1.0.
func MaterialMultiplier(materialID string) decimal.Decimal {
	if m, ok := materialMultipliers[materialID]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

var thicknessFactors = map[string]decimal.Decimal{
	"light":  decimal.NewFromFloat(0.9),
	"medium": decimal.NewFromFloat(1.0),
	"heavy":  decimal.NewFromFloat(1.1),
	"ultra":  decimal.NewFromFloat(1.2),
}

func thicknessFactor(selection string) decimal.Decimal {
	if f, ok := thicknessFactors[selection]; ok {
		return f
	}
	return decimal.NewFromInt(1)
}

var processingMultipliers = map[string]decimal.Decimal{
	"zipper-yes":     decimal.NewFromFloat(1.12),
	"zipper-no":      decimal.NewFromFloat(1.0),
	"valve-yes":      decimal.NewFromFloat(1.08),
	"glossy":         decimal.NewFromFloat(1.06),
	"matte":          decimal.NewFromFloat(1.04),
	"notch-yes":      decimal.NewFromFloat(1.03),
	"corner-round":   decimal.NewFromFloat(1.05),
	"corner-square":  decimal.NewFromFloat(1.0),
	"hang-hole-6mm":  decimal.NewFromFloat(1.04),
	"hang-hole-8mm":  decimal.NewFromFloat(1.05),
	"opening-top":    decimal.NewFromFloat(1.02),
	"opening-bottom": decimal.NewFromFloat(1.03),
}

// ProcessingMultiplier returns the product of the multipliers of the given
// post-processing options. Unknown options contribute 1.0.
func ProcessingMultiplier(options []string) decimal.Decimal {
	m := decimal.NewFromInt(1)
	for _, id := range options {
		if f, ok := processingMultipliers[id]; ok {
			m = m.Mul(f)
		}
	}
	return m
}

// IsKnownProcessingOption reports whether id is a post-processing option.
func IsKnownProcessingOption(id string) bool {
	_, ok := processingMultipliers[id]
	return ok
}

// volumeDiscounts is sorted by descending minimum quantity.
var volumeDiscounts = []struct {
	min  int
	rate decimal.Decimal
}{
	{min: 10000, rate: decimal.NewFromFloat(0.15)},
	{min: 5000, rate: decimal.NewFromFloat(0.10)},
	{min: 3000, rate: decimal.NewFromFloat(0.05)},
}

func volumeDiscountRate(quantity int) decimal.Decimal {
	for _, d := range volumeDiscounts {
		if quantity >= d.min {
			return d.rate
		}
	}
	return decimal.Zero
}

// PriceBreak labels a quantity's lot tier.
type PriceBreak struct {
	Quantity     int    `json:"quantity"`
	Label        string `json:"priceBreak"`
	DiscountRate int    `json:"discountRate"`
}

type priceBreakTier struct {
	min   int
	label string
	rate  int
}

var priceBreakTiers = sortedTiers([]priceBreakTier{
	{min: 5000, label: "小ロット", rate: 10},
	{min: 10000, label: "標準ロット", rate: 20},
	{min: 20000, label: "中ロット", rate: 30},
	{min: 50000, label: "大ロット", rate: 40},
})

func sortedTiers(tiers []priceBreakTier) []priceBreakTier {
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].min > tiers[j].min })
	return tiers
}

// PriceBreakFor returns the lot tier of quantity based on its magnitude.
func PriceBreakFor(quantity int) PriceBreak {
	for _, t := range priceBreakTiers {
		if quantity >= t.min {
			return PriceBreak{Quantity: quantity, Label: t.label, DiscountRate: t.rate}
		}
	}
	return PriceBreak{Quantity: quantity, Label: "小ロット", DiscountRate: 0}
}
