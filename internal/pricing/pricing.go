package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSpecification is returned when a required specification field is
	// missing or the quantity is not positive.
	ErrInvalidSpecification = errors.New("invalid specification")
	// ErrUnknownBagType is returned when no pricing formula exists for a bag type.
	ErrUnknownBagType = errors.New("unknown bag type")
)

// referenceArea is the printable area (mm²) the per-unit cost of a formula is quoted for.
const referenceArea = 200 * 300

// Upper bounds of the values the engine prices.
const (
	MaxDimension      = 5000
	MaxPrintingColors = 12
	MaxQuantity       = 10_000_000
)

var (
	one                  = decimal.NewFromInt(1)
	minSizeFactor        = decimal.NewFromFloat(0.25)
	expressMultiplier    = decimal.NewFromFloat(1.2)
	internationalFreight = decimal.NewFromInt(5000)
	uvPrintingFixed      = decimal.NewFromInt(15000)
)

var printingRates = map[string]struct {
	setup    decimal.Decimal
	perColor decimal.Decimal
}{
	PrintingDigital: {setup: decimal.NewFromInt(10000), perColor: decimal.NewFromInt(5)},
	PrintingGravure: {setup: decimal.NewFromInt(50000), perColor: decimal.NewFromInt(2)},
}

// Specification describes the pouch being quoted.
type Specification struct {
	BagTypeID             string   `json:"bagTypeId"`
	MaterialID            string   `json:"materialId"`
	Width                 float64  `json:"width"`
	Height                float64  `json:"height"`
	Depth                 float64  `json:"depth"`
	ThicknessSelection    string   `json:"thicknessSelection,omitempty"`
	IsUVPrinting          bool     `json:"isUVPrinting"`
	PrintingType          string   `json:"printingType,omitempty"`
	PrintingColors        int      `json:"printingColors"`
	DoubleSided           bool     `json:"doubleSided"`
	PostProcessingOptions []string `json:"postProcessingOptions,omitempty"`
	DeliveryLocation      string   `json:"deliveryLocation,omitempty"`
	Urgency               string   `json:"urgency,omitempty"`
}

// Formula is the catalog pricing formula of a product or bag type.
type Formula struct {
	BaseCost    decimal.Decimal `json:"base_cost"`
	PerUnitCost decimal.Decimal `json:"per_unit_cost"`
	SetupFee    decimal.Decimal `json:"setup_fee"`
}

// Breakdown contains the intermediate values of a quote.
type Breakdown struct {
	BaseCost             decimal.Decimal `json:"baseCost"`
	SetupFee             decimal.Decimal `json:"setupFee"`
	PrintingCost         decimal.Decimal `json:"printingCost"`
	DeliveryCost         decimal.Decimal `json:"deliveryCost"`
	MaterialMultiplier   decimal.Decimal `json:"materialMultiplier"`
	ProcessingMultiplier decimal.Decimal `json:"processingMultiplier"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
}

// Result groups the full pricing output of one quantity.
type Result struct {
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	TotalPrice          decimal.Decimal `json:"totalPrice"`
	DiscountRate        float64         `json:"discountRate"`
	LeadTimeDays        int             `json:"leadTimeDays"`
	MinimumPriceApplied bool            `json:"minimumPriceApplied"`
	Breakdown           Breakdown       `json:"breakdown"`
}

// Calculate prices spec at quantity using formula. It has no side effects.
func Calculate(spec Specification, formula Formula, quantity int) (Result, error) {
	if spec.BagTypeID == "" {
		return Result{}, fmt.Errorf("%w: bag type is required", ErrInvalidSpecification)
	}
	if spec.MaterialID == "" {
		return Result{}, fmt.Errorf("%w: material is required", ErrInvalidSpecification)
	}
	if quantity <= 0 {
		return Result{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidSpecification, quantity)
	}
	if quantity > MaxQuantity {
		return Result{}, fmt.Errorf("%w: quantity exceeds %d, got %d", ErrInvalidSpecification, MaxQuantity, quantity)
	}
	if err := checkDimensions(spec); err != nil {
		return Result{}, err
	}
	if spec.PrintingColors < 0 || spec.PrintingColors > MaxPrintingColors {
		return Result{}, fmt.Errorf("%w: printing colors must be 0-%d, got %d", ErrInvalidSpecification, MaxPrintingColors, spec.PrintingColors)
	}

	q := decimal.NewFromInt(int64(quantity))
	materialMultiplier := MaterialMultiplier(spec.MaterialID)
	processingMultiplier := ProcessingMultiplier(spec.PostProcessingOptions)
	printing := printingCost(spec, quantity)

	unit := formula.PerUnitCost.Mul(sizeFactor(spec)).Mul(thicknessFactor(spec.ThicknessSelection))
	unit = unit.Add(printing.Div(q)).Add(formula.SetupFee.Div(q))
	unit = unit.Mul(materialMultiplier).Mul(processingMultiplier)
	if spec.Urgency == UrgencyExpress {
		unit = unit.Mul(expressMultiplier)
	}

	grossUnit := unit.Round(2)
	unitPrice := grossUnit.Mul(one.Sub(volumeDiscountRate(quantity))).Round(2)

	delivery := decimal.Zero
	if spec.DeliveryLocation == DeliveryInternational {
		delivery = internationalFreight
	}
	fixed := formula.BaseCost.Add(delivery)

	subtotal := grossUnit.Mul(q).Add(fixed).Round(0)
	total := unitPrice.Mul(q).Add(fixed).Round(0)
	discount := subtotal.Sub(total)

	discountRate := 0.0
	if subtotal.IsPositive() {
		discountRate = discount.Div(subtotal).Round(4).InexactFloat64()
	}

	return Result{
		Quantity:            quantity,
		UnitPrice:           unitPrice,
		TotalPrice:          total,
		DiscountRate:        discountRate,
		LeadTimeDays:        LeadTimeDays(spec, quantity),
		MinimumPriceApplied: total.LessThanOrEqual(decimal.NewFromInt(MinimumPriceThreshold)),
		Breakdown: Breakdown{
			BaseCost:             formula.BaseCost,
			SetupFee:             formula.SetupFee,
			PrintingCost:         printing.Round(0),
			DeliveryCost:         delivery,
			MaterialMultiplier:   materialMultiplier,
			ProcessingMultiplier: processingMultiplier,
			Subtotal:             subtotal,
			Discount:             discount,
			Total:                total,
		},
	}, nil
}

// ItemPrice prices a catalog product line: the setup fee is amortized over
// quantity, the material multiplier applied per unit and the base cost added once.
func ItemPrice(formula Formula, quantity int, materialID string) (unitPrice, totalPrice decimal.Decimal) {
	if quantity <= 0 {
		return decimal.Zero, decimal.Zero
	}
	q := decimal.NewFromInt(int64(quantity))
	unit := formula.PerUnitCost.Add(formula.SetupFee.Div(q)).Mul(MaterialMultiplier(materialID)).Round(2)
	return unit, unit.Mul(q).Add(formula.BaseCost).Round(0)
}

// LeadTimeDays estimates production days for spec at quantity.
func LeadTimeDays(spec Specification, quantity int) int {
	days := 14
	if spec.Urgency == UrgencyExpress {
		days = 7
	}
	if spec.IsUVPrinting {
		days -= 3
		if days < 5 {
			days = 5
		}
	}
	switch {
	case quantity >= 10000:
		days += 7
	case quantity >= 5000:
		days += 3
	}
	if len(spec.PostProcessingOptions) > 0 {
		days += 2
	}
	return days
}

func checkDimensions(spec Specification) error {
	for _, d := range []struct {
		name  string
		value float64
	}{{"width", spec.Width}, {"height", spec.Height}, {"depth", spec.Depth}} {
		if math.IsNaN(d.value) || math.IsInf(d.value, 0) || math.Abs(d.value) > MaxDimension {
			return fmt.Errorf("%w: %s must be within %dmm, got %g", ErrInvalidSpecification, d.name, MaxDimension, d.value)
		}
	}
	return nil
}

func sizeFactor(spec Specification) decimal.Decimal {
	if spec.Width <= 0 || spec.Height <= 0 {
		return one
	}
	depth := spec.Depth
	if depth < 0 {
		depth = 0
	}
	f := decimal.NewFromFloat(spec.Width * (spec.Height + depth) / referenceArea)
	if f.LessThan(minSizeFactor) {
		return minSizeFactor
	}
	return f
}

// printingCost returns the total printing cost of the run.
func printingCost(spec Specification, quantity int) decimal.Decimal {
	if spec.IsUVPrinting {
		return uvPrintingFixed
	}
	if spec.PrintingColors <= 0 {
		return decimal.Zero
	}
	rates, ok := printingRates[spec.PrintingType]
	if !ok {
		rates = printingRates[PrintingDigital]
	}
	sides := int64(1)
	if spec.DoubleSided {
		sides = 2
	}
	perRun := rates.perColor.Mul(decimal.NewFromInt(int64(spec.PrintingColors) * sides * int64(quantity)))
	return rates.setup.Add(perRun)
}

// FormulaSource resolves the pricing formula of a bag type.
type FormulaSource interface {
	Formula(ctx context.Context, bagTypeID string) (Formula, error)
}

// StaticFormulas is an in-memory FormulaSource.
type StaticFormulas map[string]Formula

// Formula implements FormulaSource.
func (s StaticFormulas) Formula(_ context.Context, bagTypeID string) (Formula, error) {
	f, ok := s[bagTypeID]
	if !ok {
		return Formula{}, fmt.Errorf("%w: %q", ErrUnknownBagType, bagTypeID)
	}
	return f, nil
}

func newFormula(base, perUnit, setup int64) Formula {
	return Formula{
		BaseCost:    decimal.NewFromInt(base),
		PerUnitCost: decimal.NewFromInt(perUnit),
		SetupFee:    decimal.NewFromInt(setup),
	}
}

// DefaultFormulas returns the standard formula of every bag type.
func DefaultFormulas() StaticFormulas {
	return StaticFormulas{
		"flat_3_side":   newFormula(30000, 15, 30000),
		"stand_up":      newFormula(40000, 18, 40000),
		"gusset":        newFormula(40000, 20, 40000),
		"box":           newFormula(45000, 22, 45000),
		"flat_with_zip": newFormula(35000, 20, 35000),
		"special":       newFormula(50000, 25, 50000),
		"soft_pouch":    newFormula(40000, 17, 40000),
		"spout_pouch":   newFormula(50000, 30, 50000),
		"roll_film":     newFormula(20000, 8, 20000),
	}
}

// Engine prices specifications using formulas from a FormulaSource.
type Engine struct {
	formulas FormulaSource
}

// NewEngine returns an Engine backed by formulas.
func NewEngine(formulas FormulaSource) *Engine {
	return &Engine{formulas: formulas}
}

// Quote prices spec at quantity.
func (e *Engine) Quote(ctx context.Context, spec Specification, quantity int) (Result, error) {
	if spec.BagTypeID == "" || spec.MaterialID == "" || quantity <= 0 {
		return Calculate(spec, Formula{}, quantity)
	}
	formula, err := e.formulas.Formula(ctx, spec.BagTypeID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve formula: %w", err)
	}
	return Calculate(spec, formula, quantity)
}
