package quote

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/pricing"
)

// Status is the calculator's position in its lifecycle.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDebouncing  Status = "debouncing"
	StatusCalculating Status = "calculating"
	StatusSettled     Status = "settled"
	StatusErrored     Status = "errored"
)

// PriceChange is the direction of the last price update.
type PriceChange string

const (
	PriceUp     PriceChange = "up"
	PriceDown   PriceChange = "down"
	PriceStable PriceChange = "stable"
)

const calculationFailedMessage = "価格の計算に失敗しました。入力内容をご確認のうえ、もう一度お試しください。"

// Comparer prices a specification at several quantities.
type Comparer interface {
	Compare(ctx context.Context, spec pricing.Specification, quantities []int, selected int) (pricing.MultiQuantityResult, error)
}

// Snapshot is what the calculator currently shows.
type Snapshot struct {
	Status          Status                   `json:"status"`
	Generation      uint64                   `json:"generation"`
	CurrentPrice    *pricing.QuantityQuote   `json:"currentPrice,omitempty"`
	Quotes          []pricing.QuantityQuote  `json:"quantityQuotes"`
	Comparison      *pricing.Comparison      `json:"comparison,omitempty"`
	Recommendations []pricing.Recommendation `json:"recommendations,omitempty"`
	PriceChange     PriceChange              `json:"priceChange"`
	Error           string                   `json:"error,omitempty"`
	CalculatedAt    time.Time                `json:"calculatedAt,omitzero"`
}

// Calculator recomputes prices after the quote state stops changing. Every
// Watch or Calculate call starts a new generation; the result of an older
// generation is discarded and its context cancelled.
type Calculator struct {
	comparer Comparer
	logger   *zap.Logger
	debounce time.Duration
	settle   time.Duration

	mu       sync.Mutex
	gen      uint64
	timer    *time.Timer
	settler  *time.Timer
	cancel   context.CancelFunc
	snap     Snapshot
	closed   bool
	inflight sync.WaitGroup
}

// NewCalculator returns a Calculator that waits debounce after the last change
// before calculating and resets the price direction settle after an update.
func NewCalculator(comparer Comparer, logger *zap.Logger, debounce, settle time.Duration) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		comparer: comparer,
		logger:   logger,
		debounce: debounce,
		settle:   settle,
		snap:     Snapshot{Status: StatusIdle, PriceChange: PriceStable, Quotes: []pricing.QuantityQuote{}},
	}
}

// Watch schedules a calculation of s, superseding any pending or running one.
func (c *Calculator) Watch(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	gen := c.supersede()
	c.snap.Status = StatusDebouncing
	c.timer = time.AfterFunc(c.debounce, func() {
		c.run(gen, s)
	})
}

// Calculate runs a full calculation of s immediately and returns the resulting
// snapshot. When ctx ends before the calculation does, the displayed prices are
// left as they were.
func (c *Calculator) Calculate(ctx context.Context, s State) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.View(), context.Canceled
	}
	gen := c.supersede()
	callerCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.snap.Status = StatusCalculating
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()
	defer cancel()

	result, err := c.comparer.Compare(ctx, s.Specification(), s.Quantities, s.Quantity)
	if err != nil && callerCtx.Err() != nil {
		c.abandon(gen)
		return c.View(), err
	}
	c.apply(gen, result, err)
	return c.View(), err
}

// abandon ends generation gen without touching the displayed prices.
func (c *Calculator) abandon(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	c.cancel = nil
	switch {
	case c.snap.Error != "":
		c.snap.Status = StatusErrored
	case !c.snap.CalculatedAt.IsZero():
		c.snap.Status = StatusSettled
	default:
		c.snap.Status = StatusIdle
	}
}

// View returns a copy of the current snapshot.
func (c *Calculator) View() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.snap
	v.Quotes = slices.Clone(v.Quotes)
	v.Recommendations = slices.Clone(v.Recommendations)
	return v
}

// Close stops pending timers, cancels a running calculation and waits for it to return.
func (c *Calculator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.supersede()
	if c.settler != nil {
		c.settler.Stop()
	}
	c.mu.Unlock()

	c.inflight.Wait()
}

// supersede starts a new generation. Callers hold c.mu.
func (c *Calculator) supersede() uint64 {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.snap.Generation = c.gen
	return c.gen
}

func (c *Calculator) run(gen uint64, s State) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.timer = nil
	c.snap.Status = StatusCalculating
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()
	defer cancel()

	result, err := c.comparer.Compare(ctx, s.Specification(), s.Quantities, s.Quantity)
	c.apply(gen, result, err)
}

func (c *Calculator) apply(gen uint64, result pricing.MultiQuantityResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		c.logger.Debug("discarding superseded calculation", zap.Uint64("generation", gen), zap.Uint64("current", c.gen))
		return
	}
	c.cancel = nil

	if err != nil {
		c.logger.Warn("quote calculation failed", zap.Uint64("generation", gen), zap.Error(err))
		c.snap.Status = StatusErrored
		c.snap.CurrentPrice = nil
		c.snap.Quotes = []pricing.QuantityQuote{}
		c.snap.Comparison = nil
		c.snap.Recommendations = nil
		c.snap.PriceChange = PriceStable
		c.snap.Error = calculationFailedMessage
		return
	}

	current := result.Recommended
	if current == nil && len(result.Quotes) > 0 {
		first := result.Quotes[0]
		current = &first
	}

	change := direction(c.snap.CurrentPrice, current)
	comparison := result.Comparison

	c.snap.Status = StatusSettled
	c.snap.CurrentPrice = current
	c.snap.Quotes = slices.Clone(result.Quotes)
	c.snap.Comparison = &comparison
	c.snap.Recommendations = slices.Clone(result.Recommendations)
	c.snap.PriceChange = change
	c.snap.Error = ""
	c.snap.CalculatedAt = time.Now()

	if c.settler != nil {
		c.settler.Stop()
		c.settler = nil
	}
	if change != PriceStable {
		c.settler = time.AfterFunc(c.settle, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.snap.PriceChange = PriceStable
		})
	}
}

func direction(prev, next *pricing.QuantityQuote) PriceChange {
	if prev == nil || next == nil {
		return PriceStable
	}
	switch next.TotalPrice.Cmp(prev.TotalPrice) {
	case 1:
		return PriceUp
	case -1:
		return PriceDown
	default:
		return PriceStable
	}
}
