package pricing

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingQuoter struct {
	inner Quoter
	calls atomic.Int64
}

func (c *countingQuoter) Quote(ctx context.Context, spec Specification, quantity int) (Result, error) {
	c.calls.Add(1)
	return c.inner.Quote(ctx, spec, quantity)
}

func standUpSpec() Specification {
	return Specification{
		BagTypeID:  "stand_up",
		MaterialID: MaterialPE,
		Width:      100,
		Height:     150,
		Depth:      30,
	}
}

func TestCompare_StandUpPouchEconomiesOfScale(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), 0)

	result, err := comparator.Compare(context.Background(), standUpSpec(), []int{1000, 5000}, 1000)
	require.NoError(t, err)

	require.Len(t, result.Quotes, 2)
	assert.Equal(t, 1000, result.Quotes[0].Quantity)
	assert.Equal(t, 5000, result.Quotes[1].Quantity)
	decimalEqual(t, "unitPrice(1000)", result.Quotes[0].UnitPrice, "45.4")
	decimalEqual(t, "unitPrice(5000)", result.Quotes[1].UnitPrice, "12.06")
	assert.True(t, result.Quotes[1].UnitPrice.LessThanOrEqual(result.Quotes[0].UnitPrice))

	assert.Contains(t, []int{1000, 5000}, result.Comparison.BestValue.Quantity)
	assert.Equal(t, 5000, result.Comparison.BestValue.Quantity)
	decimalEqual(t, "savings", result.Comparison.BestValue.Savings, "166700")
	assert.Equal(t, "5,000個で最も効率的な単価", result.Comparison.BestValue.Reason)

	require.NotNil(t, result.Recommended)
	assert.Equal(t, 1000, result.Recommended.Quantity)
}

func TestCompare_DefaultQuantities(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), 0)

	result, err := comparator.Compare(context.Background(), standUpSpec(), nil, 0)
	require.NoError(t, err)

	got := make([]int, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		got = append(got, q.Quantity)
	}
	assert.Equal(t, DefaultQuantities, got)
	assert.Nil(t, result.Recommended)
	assert.Equal(t, "decreasing", result.Comparison.Trends.PriceTrend)
	assert.Equal(t, 10000, result.Comparison.Trends.OptimalQuantity)
	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, "cost-optimized", result.Recommendations[0].Type)
}

func TestCompare_DropsFailingQuantity(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.New(core), 0)

	result, err := comparator.Compare(context.Background(), standUpSpec(), []int{3000, -5, 1000}, 0)
	require.NoError(t, err)

	require.Len(t, result.Quotes, 2)
	assert.Equal(t, 1000, result.Quotes[0].Quantity)
	assert.Equal(t, 3000, result.Quotes[1].Quantity)
	assert.Equal(t, 1, logs.FilterMessage("quantity dropped from comparison").Len())
}

func TestCompare_AllQuantitiesFail(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), 0)

	spec := standUpSpec()
	spec.BagTypeID = "unknown"
	_, err := comparator.Compare(context.Background(), spec, []int{1000, 2000}, 0)
	require.ErrorIs(t, err, ErrNoQuotes)
}

func TestCompare_OutOfRangeSpecificationIsNotPriced(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), time.Minute)

	spec := standUpSpec()
	spec.Width, spec.Height = 1e200, 1e200
	_, err := comparator.Compare(context.Background(), spec, []int{1000, 5000}, 1000)
	require.ErrorIs(t, err, ErrNoQuotes)

	spec = standUpSpec()
	spec.PrintingColors = math.MaxInt32
	_, err = comparator.Compare(context.Background(), spec, []int{1000}, 0)
	require.ErrorIs(t, err, ErrNoQuotes)

	result, err := comparator.Compare(context.Background(), standUpSpec(), []int{1000, MaxQuantity + 1}, 0)
	require.NoError(t, err)
	require.Len(t, result.Quotes, 1)
	assert.Equal(t, 1000, result.Quotes[0].Quantity)
}

type panickingQuoter struct{}

func (panickingQuoter) Quote(context.Context, Specification, int) (Result, error) {
	panic("boom")
}

func TestCompare_PanickingQuoterDropsQuantity(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	comparator := NewComparator(panickingQuoter{}, zap.New(core), 0)

	_, err := comparator.Compare(context.Background(), standUpSpec(), []int{1000}, 0)
	require.ErrorIs(t, err, ErrNoQuotes)
	assert.Equal(t, 1, logs.FilterMessage("quantity pricing panicked").Len())
}

func TestCompare_LabelsIndependentOfOrder(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), 0)

	result, err := comparator.Compare(context.Background(), standUpSpec(), []int{50000, 700, 12000}, 0)
	require.NoError(t, err)

	labels := map[int]string{}
	for _, pb := range result.Comparison.PriceBreaks {
		labels[pb.Quantity] = pb.Label
	}
	assert.Equal(t, map[int]string{700: "小ロット", 12000: "標準ロット", 50000: "大ロット"}, labels)
	for _, q := range result.Quotes {
		assert.Equal(t, labels[q.Quantity], q.PriceBreak)
	}
}

func TestCompare_CachesResults(t *testing.T) {
	quoter := &countingQuoter{inner: NewEngine(DefaultFormulas())}
	comparator := NewComparator(quoter, zap.NewNop(), time.Minute)

	_, err := comparator.Compare(context.Background(), standUpSpec(), []int{1000, 5000}, 0)
	require.NoError(t, err)
	_, err = comparator.Compare(context.Background(), standUpSpec(), []int{5000, 1000}, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 2, quoter.calls.Load())
}

func TestComparator_InvalidateDropsCachedResults(t *testing.T) {
	quoter := &countingQuoter{inner: NewEngine(DefaultFormulas())}
	comparator := NewComparator(quoter, zap.NewNop(), time.Minute)

	_, err := comparator.Compare(context.Background(), standUpSpec(), []int{1000}, 0)
	require.NoError(t, err)
	comparator.Invalidate()
	_, err = comparator.Compare(context.Background(), standUpSpec(), []int{1000}, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 2, quoter.calls.Load())
}

func TestCompare_CancelledContext(t *testing.T) {
	comparator := NewComparator(NewEngine(DefaultFormulas()), zap.NewNop(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := comparator.Compare(ctx, standUpSpec(), []int{1000}, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompareQuotes_BestValueTiesPreferSmallerQuantity(t *testing.T) {
	quotes := []QuantityQuote{
		{Quantity: 1000, UnitPrice: decimal.RequireFromString("10")},
		{Quantity: 2000, UnitPrice: decimal.RequireFromString("10")},
	}

	c := Compare(quotes)
	assert.Equal(t, 1000, c.BestValue.Quantity)
	assert.Zero(t, c.BestValue.Percentage)
	assert.Equal(t, 100, c.EconomiesOfScale[2000].Efficiency)
}

func TestCompareQuotes_DiminishingReturns(t *testing.T) {
	quotes := []QuantityQuote{
		{Quantity: 1000, UnitPrice: decimal.RequireFromString("100")},
		{Quantity: 3000, UnitPrice: decimal.RequireFromString("50")},
		{Quantity: 5000, UnitPrice: decimal.RequireFromString("40")},
	}

	c := Compare(quotes)
	// first improvement 50%, last 20%: 1 - 0.2/0.5 = 0.6
	assert.Equal(t, 60, c.Trends.DiminishingReturns)
	assert.Equal(t, 5000, c.BestValue.Quantity)
	assert.InDelta(t, 60.0, c.BestValue.Percentage, 1e-9)
	assert.Equal(t, 40, c.EconomiesOfScale[5000].Efficiency)
	decimalEqual(t, "totalSavings", c.EconomiesOfScale[3000].TotalSavings, "150000")
}
