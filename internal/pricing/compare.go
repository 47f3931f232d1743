package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoQuotes is returned when every candidate quantity failed to price.
var ErrNoQuotes = errors.New("no quantity could be priced")

// DefaultQuantities are compared when the caller gives no candidates.
var DefaultQuantities = []int{1000, 3000, 5000, 10000}

const (
	defaultCacheSize = 256
	defaultParallel  = 8
)

// Quoter prices a single quantity.
type Quoter interface {
	Quote(ctx context.Context, spec Specification, quantity int) (Result, error)
}

// QuantityQuote is the price of one candidate quantity.
type QuantityQuote struct {
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	TotalPrice          decimal.Decimal `json:"totalPrice"`
	PriceBreak          string          `json:"priceBreak"`
	DiscountRate        float64         `json:"discountRate"`
	LeadTimeDays        int             `json:"leadTimeDays"`
	MinimumPriceApplied bool            `json:"minimumPriceApplied"`
}

// NewQuantityQuote derives the quantity quote of an engine result.
func NewQuantityQuote(r Result) QuantityQuote {
	return QuantityQuote{
		Quantity:            r.Quantity,
		UnitPrice:           r.UnitPrice,
		TotalPrice:          r.TotalPrice,
		PriceBreak:          PriceBreakFor(r.Quantity).Label,
		DiscountRate:        r.DiscountRate,
		LeadTimeDays:        r.LeadTimeDays,
		MinimumPriceApplied: r.MinimumPriceApplied,
	}
}

// BestValue identifies the quantity with the largest unit price saving.
type BestValue struct {
	Quantity   int             `json:"quantity"`
	Savings    decimal.Decimal `json:"savings"`
	Percentage float64         `json:"percentage"`
	Reason     string          `json:"reason"`
}

// Scale describes the saving of a quantity against the smallest one.
type Scale struct {
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalSavings decimal.Decimal `json:"totalSavings"`
	Efficiency   int             `json:"efficiency"`
}

// Trends summarizes how unit price evolves with quantity.
type Trends struct {
	PriceTrend         string `json:"priceTrend"`
	OptimalQuantity    int    `json:"optimalQuantity"`
	DiminishingReturns int    `json:"diminishingReturns"`
}

// Comparison is derived from a set of quantity quotes.
type Comparison struct {
	BestValue        BestValue     `json:"bestValue"`
	PriceBreaks      []PriceBreak  `json:"priceBreaks"`
	EconomiesOfScale map[int]Scale `json:"economiesOfScale"`
	Trends           Trends        `json:"trends"`
}

// Recommendation suggests a quantity to the customer.
type Recommendation struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

// MultiQuantityResult is the outcome of a comparison run.
type MultiQuantityResult struct {
	Quotes          []QuantityQuote  `json:"quotes"`
	Recommended     *QuantityQuote   `json:"recommended,omitempty"`
	Comparison      Comparison       `json:"comparison"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Comparator prices a specification at several quantities.
type Comparator struct {
	quoter   Quoter
	logger   *zap.Logger
	cache    *expirable.LRU[string, MultiQuantityResult]
	parallel int
}

// NewComparator returns a Comparator. Results are cached for cacheTTL; a
// non-positive TTL disables caching.
func NewComparator(quoter Quoter, logger *zap.Logger, cacheTTL time.Duration) *Comparator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Comparator{quoter: quoter, logger: logger, parallel: defaultParallel}
	if cacheTTL > 0 {
		c.cache = expirable.NewLRU[string, MultiQuantityResult](defaultCacheSize, nil, cacheTTL)
	}
	return c
}

// Compare prices spec at every candidate quantity and, when selected is positive,
// at the selected quantity. A quantity that fails to price is logged and left out.
// Cached results are shared and must not be modified.
func (c *Comparator) Compare(ctx context.Context, spec Specification, quantities []int, selected int) (MultiQuantityResult, error) {
	if len(quantities) == 0 {
		quantities = DefaultQuantities
	}
	candidates := slices.Clone(quantities)
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	key := cacheKey(spec, candidates, selected)
	if c.cache != nil && key != "" {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	quotes := make([]*QuantityQuote, len(candidates))
	var recommended *QuantityQuote

	g := new(errgroup.Group)
	g.SetLimit(c.parallel)
	for i, quantity := range candidates {
		i, quantity := i, quantity
		g.Go(func() error {
			q, err := c.quote(ctx, spec, quantity)
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}
	if selected > 0 {
		g.Go(func() error {
			q, err := c.quote(ctx, spec, selected)
			if err != nil {
				return err
			}
			recommended = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MultiQuantityResult{}, fmt.Errorf("compare quantities: %w", err)
	}

	priced := make([]QuantityQuote, 0, len(quotes))
	for _, q := range quotes {
		if q != nil {
			priced = append(priced, *q)
		}
	}
	if len(priced) == 0 {
		return MultiQuantityResult{}, ErrNoQuotes
	}

	comparison := Compare(priced)
	result := MultiQuantityResult{
		Quotes:          priced,
		Recommended:     recommended,
		Comparison:      comparison,
		Recommendations: recommend(priced, comparison),
	}
	if c.cache != nil && key != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}

// Invalidate drops every cached comparison.
func (c *Comparator) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// quote prices one quantity. Pricing failures are swallowed; only cancellation
// of ctx is reported.
func (c *Comparator) quote(ctx context.Context, spec Specification, quantity int) (q *QuantityQuote, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("quantity pricing panicked",
				zap.Int("quantity", quantity),
				zap.String("bag_type", spec.BagTypeID),
				zap.Any("panic", p),
			)
			q, err = nil, nil
		}
	}()
	r, err := c.quoter.Quote(ctx, spec, quantity)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("quantity dropped from comparison",
			zap.Int("quantity", quantity),
			zap.String("bag_type", spec.BagTypeID),
			zap.Error(err),
		)
		return nil, nil
	}
	quoted := NewQuantityQuote(r)
	return &quoted, nil
}

func cacheKey(spec Specification, quantities []int, selected int) string {
	raw, err := json.Marshal(struct {
		Spec       Specification `json:"s"`
		Quantities []int         `json:"q"`
		Selected   int           `json:"sel"`
	}{spec, quantities, selected})
	if err != nil {
		return ""
	}
	return string(raw)
}

// Compare derives the comparison of quotes, which must be sorted by ascending quantity.
func Compare(quotes []QuantityQuote) Comparison {
	if len(quotes) == 0 {
		return Comparison{EconomiesOfScale: map[int]Scale{}}
	}

	baseline := quotes[0].UnitPrice
	hundred := decimal.NewFromInt(100)

	best := quotes[0]
	bestPct := decimal.Zero
	breaks := make([]PriceBreak, 0, len(quotes))
	scale := make(map[int]Scale, len(quotes))
	unitPrices := make([]float64, 0, len(quotes))

	for _, q := range quotes {
		saving := baseline.Sub(q.UnitPrice)
		pct := decimal.Zero
		efficiency := 100
		if baseline.IsPositive() {
			pct = saving.Div(baseline).Mul(hundred)
			efficiency = int(q.UnitPrice.Div(baseline).Mul(hundred).Round(0).IntPart())
		}
		if pct.GreaterThan(bestPct) {
			best, bestPct = q, pct
		}

		breaks = append(breaks, PriceBreakFor(q.Quantity))
		scale[q.Quantity] = Scale{
			UnitPrice:    q.UnitPrice,
			TotalSavings: saving.Mul(decimal.NewFromInt(int64(q.Quantity))).Round(0),
			Efficiency:   efficiency,
		}
		unitPrices = append(unitPrices, q.UnitPrice.InexactFloat64())
	}

	return Comparison{
		BestValue: BestValue{
			Quantity:   best.Quantity,
			Savings:    baseline.Sub(best.UnitPrice).Mul(decimal.NewFromInt(int64(best.Quantity))).Round(0),
			Percentage: bestPct.Round(1).InexactFloat64(),
			Reason:     fmt.Sprintf("%s個で最も効率的な単価", humanize.Comma(int64(best.Quantity))),
		},
		PriceBreaks:      breaks,
		EconomiesOfScale: scale,
		Trends: Trends{
			PriceTrend:         priceTrend(unitPrices),
			OptimalQuantity:    optimalQuantity(quotes),
			DiminishingReturns: diminishingReturns(unitPrices),
		},
	}
}

// priceTrend compares the average unit price of the first and second half.
func priceTrend(prices []float64) string {
	if len(prices) < 2 {
		return "stable"
	}
	mid := len(prices) / 2
	first, second := mean(prices[:mid]), mean(prices[mid:])
	if first == 0 {
		return "stable"
	}
	diff := (second - first) / first
	switch {
	case diff < -0.05:
		return "decreasing"
	case diff > 0.05:
		return "increasing"
	default:
		return "stable"
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func optimalQuantity(quotes []QuantityQuote) int {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.UnitPrice.LessThan(best.UnitPrice) {
			best = q
		}
	}
	return best.Quantity
}

// diminishingReturns compares the last step's unit price improvement to the first's.
func diminishingReturns(prices []float64) int {
	n := len(prices)
	if n < 3 || prices[0] == 0 || prices[n-2] == 0 {
		return 0
	}
	first := (prices[0] - prices[1]) / prices[0]
	last := (prices[n-2] - prices[n-1]) / prices[n-2]
	if first == 0 {
		return 0
	}
	return int(math.Round((1 - last/first) * 100))
}

func recommend(quotes []QuantityQuote, c Comparison) []Recommendation {
	recs := []Recommendation{{
		Type:     "cost-optimized",
		Quantity: c.BestValue.Quantity,
		Title:    "コスト最適化",
		Reason:   c.BestValue.Reason,
	}}

	// Balanced: the smallest quantity within 10% of the best unit price.
	bestUnit := c.EconomiesOfScale[c.BestValue.Quantity].UnitPrice
	limit := bestUnit.Mul(decimal.NewFromFloat(1.1))
	for _, q := range quotes {
		if q.UnitPrice.LessThanOrEqual(limit) {
			if q.Quantity != c.BestValue.Quantity {
				recs = append(recs, Recommendation{
					Type:     "balanced",
					Quantity: q.Quantity,
					Title:    "バランス重視",
					Reason:   fmt.Sprintf("%s個で在庫リスクを抑えつつ単価差10%%以内", humanize.Comma(int64(q.Quantity))),
				})
			}
			break
		}
	}
	return recs
}
