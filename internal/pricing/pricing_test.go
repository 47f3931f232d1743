package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalEqual(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func flatSpec() Specification {
	return Specification{
		BagTypeID:  "flat_3_side",
		MaterialID: MaterialPE,
		Width:      200,
		Height:     300,
	}
}

func withSize(spec Specification, width, height float64) Specification {
	spec.Width, spec.Height = width, height
	return spec
}

func withColors(spec Specification, colors int) Specification {
	spec.PrintingColors = colors
	return spec
}

func flatFormula() Formula {
	return DefaultFormulas()["flat_3_side"]
}

func TestCalculate_SetupFeeAmortized(t *testing.T) {
	result, err := Calculate(flatSpec(), flatFormula(), 1000)
	require.NoError(t, err)

	decimalEqual(t, "unitPrice", result.UnitPrice, "45")
	decimalEqual(t, "totalPrice", result.TotalPrice, "75000")
	decimalEqual(t, "subtotal", result.Breakdown.Subtotal, "75000")
	decimalEqual(t, "discount", result.Breakdown.Discount, "0")
	assert.Zero(t, result.DiscountRate)
	assert.True(t, result.MinimumPriceApplied)
	assert.Equal(t, 14, result.LeadTimeDays)
}

func TestCalculate_VolumeDiscountDerivesRate(t *testing.T) {
	result, err := Calculate(flatSpec(), flatFormula(), 5000)
	require.NoError(t, err)

	decimalEqual(t, "unitPrice", result.UnitPrice, "18.9")
	decimalEqual(t, "totalPrice", result.TotalPrice, "124500")
	decimalEqual(t, "subtotal", result.Breakdown.Subtotal, "135000")
	decimalEqual(t, "discount", result.Breakdown.Discount, "10500")
	assert.InDelta(t, 0.0778, result.DiscountRate, 1e-9)
	assert.Equal(t, 17, result.LeadTimeDays)
}

func TestCalculate_MaterialMultiplier(t *testing.T) {
	spec := flatSpec()
	spec.MaterialID = MaterialAluminum

	aluminum, err := Calculate(spec, flatFormula(), 1000)
	require.NoError(t, err)
	pe, err := Calculate(flatSpec(), flatFormula(), 1000)
	require.NoError(t, err)

	decimalEqual(t, "aluminum unitPrice", aluminum.UnitPrice, "67.5")
	decimalEqual(t, "aluminum totalPrice", aluminum.TotalPrice, "97500")
	assert.True(t, aluminum.TotalPrice.GreaterThan(pe.TotalPrice))
}

func TestCalculate_MaterialsAreMonotonic(t *testing.T) {
	order := []string{MaterialPE, MaterialPP, MaterialPET, MaterialPaperLaminate, MaterialAluminum, MaterialSpecialty}
	for _, quantity := range []int{100, 1000, 3000, 10000} {
		prev := decimal.Zero
		for _, material := range order {
			spec := flatSpec()
			spec.MaterialID = material
			result, err := Calculate(spec, flatFormula(), quantity)
			require.NoError(t, err)
			assert.Truef(t, result.TotalPrice.GreaterThan(prev), "%s at %d: %s <= %s", material, quantity, result.TotalPrice, prev)
			prev = result.TotalPrice
		}
	}
}

func TestCalculate_PrintingCost(t *testing.T) {
	spec := flatSpec()
	spec.PrintingType = PrintingDigital
	spec.PrintingColors = 2

	result, err := Calculate(spec, flatFormula(), 1000)
	require.NoError(t, err)

	decimalEqual(t, "printingCost", result.Breakdown.PrintingCost, "20000")
	decimalEqual(t, "unitPrice", result.UnitPrice, "65")
	decimalEqual(t, "totalPrice", result.TotalPrice, "95000")
}

func TestCalculate_InternationalDeliveryAddsFixedCost(t *testing.T) {
	spec := flatSpec()
	spec.DeliveryLocation = DeliveryInternational

	result, err := Calculate(spec, flatFormula(), 1000)
	require.NoError(t, err)

	decimalEqual(t, "deliveryCost", result.Breakdown.DeliveryCost, "5000")
	decimalEqual(t, "totalPrice", result.TotalPrice, "80000")
}

func TestCalculate_TotalAtLeastBaseCost(t *testing.T) {
	formula := flatFormula()
	for _, quantity := range []int{1, 100, 999, 5000, 100000} {
		result, err := Calculate(flatSpec(), formula, quantity)
		require.NoError(t, err)
		assert.True(t, result.TotalPrice.GreaterThanOrEqual(formula.BaseCost), "quantity %d", quantity)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	spec := flatSpec()
	spec.PostProcessingOptions = []string{"zipper-yes", "matte"}
	spec.Urgency = UrgencyExpress

	first, err := Calculate(spec, flatFormula(), 3000)
	require.NoError(t, err)
	second, err := Calculate(spec, flatFormula(), 3000)
	require.NoError(t, err)

	assert.True(t, first.UnitPrice.Equal(second.UnitPrice))
	assert.True(t, first.TotalPrice.Equal(second.TotalPrice))
}

func TestCalculate_RejectsIncompleteSpecification(t *testing.T) {
	tests := []struct {
		name     string
		spec     Specification
		quantity int
	}{
		{name: "missing bag type", spec: Specification{MaterialID: MaterialPE}, quantity: 1000},
		{name: "missing material", spec: Specification{BagTypeID: "stand_up"}, quantity: 1000},
		{name: "zero quantity", spec: flatSpec(), quantity: 0},
		{name: "negative quantity", spec: flatSpec(), quantity: -10},
		{name: "quantity above limit", spec: flatSpec(), quantity: MaxQuantity + 1},
		{name: "huge dimensions", spec: withSize(flatSpec(), 1e200, 1e200), quantity: 1000},
		{name: "infinite width", spec: withSize(flatSpec(), math.Inf(1), 300), quantity: 1000},
		{name: "NaN height", spec: withSize(flatSpec(), 200, math.NaN()), quantity: 1000},
		{name: "too many colors", spec: withColors(flatSpec(), math.MaxInt32), quantity: 1000},
		{name: "negative colors", spec: withColors(flatSpec(), -1), quantity: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(tt.spec, flatFormula(), tt.quantity)
			require.ErrorIs(t, err, ErrInvalidSpecification)
		})
	}
}

func TestEngineQuote_UnknownBagType(t *testing.T) {
	engine := NewEngine(DefaultFormulas())

	spec := flatSpec()
	spec.BagTypeID = "teapot"
	_, err := engine.Quote(context.Background(), spec, 1000)
	require.True(t, errors.Is(err, ErrUnknownBagType), "got %v", err)
}

func TestItemPrice(t *testing.T) {
	unit, total := ItemPrice(flatFormula(), 1000, MaterialPP)
	decimalEqual(t, "unitPrice", unit, "49.5")
	decimalEqual(t, "totalPrice", total, "79500")

	unit, total = ItemPrice(flatFormula(), 0, MaterialPP)
	assert.True(t, unit.IsZero())
	assert.True(t, total.IsZero())
}

func TestLeadTimeDays(t *testing.T) {
	tests := []struct {
		name     string
		spec     Specification
		quantity int
		want     int
	}{
		{name: "standard: ok", spec: Specification{}, quantity: 1000, want: 14},
		{name: "express: ok", spec: Specification{Urgency: UrgencyExpress}, quantity: 1000, want: 7},
		{name: "express uv floors at five", spec: Specification{Urgency: UrgencyExpress, IsUVPrinting: true}, quantity: 1000, want: 5},
		{name: "large lot", spec: Specification{}, quantity: 10000, want: 21},
		{name: "post processing", spec: Specification{PostProcessingOptions: []string{"glossy"}}, quantity: 5000, want: 19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LeadTimeDays(tt.spec, tt.quantity))
		})
	}
}

func TestPriceBreakFor_UsesMagnitude(t *testing.T) {
	tests := []struct {
		quantity int
		label    string
		rate     int
	}{
		{quantity: 100, label: "小ロット", rate: 0},
		{quantity: 4999, label: "小ロット", rate: 0},
		{quantity: 5000, label: "小ロット", rate: 10},
		{quantity: 10000, label: "標準ロット", rate: 20},
		{quantity: 20000, label: "中ロット", rate: 30},
		{quantity: 75000, label: "大ロット", rate: 40},
	}
	for _, tt := range tests {
		got := PriceBreakFor(tt.quantity)
		assert.Equal(t, tt.label, got.Label, "quantity %d", tt.quantity)
		assert.Equal(t, tt.rate, got.DiscountRate, "quantity %d", tt.quantity)
	}
}

func TestProcessingMultiplier(t *testing.T) {
	decimalEqual(t, "none", ProcessingMultiplier(nil), "1")
	decimalEqual(t, "zipper+glossy", ProcessingMultiplier([]string{"zipper-yes", "glossy"}), "1.1872")
	decimalEqual(t, "unknown", ProcessingMultiplier([]string{"laser-engraving"}), "1")
}
