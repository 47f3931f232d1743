package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/cart"
	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/pricing"
	"github.com/Simplici0/epackage/internal/quote"
	"github.com/Simplici0/epackage/internal/storage"
)

type nopSubmitter struct{}

func (nopSubmitter) RequestQuote(context.Context, cart.QuoteRequest) (cart.QuoteResponse, error) {
	return cart.QuoteResponse{QuoteID: "quote-1"}, nil
}

func (nopSubmitter) CreateOrder(context.Context, cart.OrderRequest) (cart.OrderConfirmation, error) {
	return cart.OrderConfirmation{OrderID: "order-1"}, nil
}

var testConfig = Config{
	TTL:          time.Hour,
	MaxSessions:  8,
	CalcDebounce: 10 * time.Millisecond,
	PriceSettle:  10 * time.Millisecond,
	Drafts:       quote.DraftConfig{Debounce: time.Hour, MaxAge: 7 * 24 * time.Hour},
}

func newTestManager(t *testing.T, st storage.Store, cfg Config) *Manager {
	t.Helper()
	comparer := pricing.NewComparator(pricing.NewEngine(pricing.DefaultFormulas()), zap.NewNop(), 0)
	m := NewManager(st, comparer, nopSubmitter{}, cfg, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func testProduct() catalog.Product {
	return catalog.Product{
		ID:        "prod_flat",
		Name:      "Flat pouch",
		NameJa:    "三方シール袋",
		BagTypeID: "flat_3_side",
		PricingFormula: pricing.Formula{
			BaseCost:    decimal.NewFromInt(30000),
			PerUnitCost: decimal.NewFromInt(15),
			SetupFee:    decimal.NewFromInt(30000),
		},
		LeadTimeDays: 14,
	}
}

func TestManagerReusesBundle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemory(), testConfig)

	a, err := m.Get(ctx, "a")
	require.NoError(t, err)
	again, err := m.Get(ctx, "a")
	require.NoError(t, err)
	b, err := m.Get(ctx, "b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, m.Len())
}

func TestManagerRestoresDraft(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()

	s := quote.DefaultState()
	s.BagTypeID = "stand_up"
	s.Quantity = 3000
	d := quote.NewDrafts(st, sid, testConfig.Drafts, zap.NewNop())
	require.NoError(t, d.Save(ctx, s))
	require.NoError(t, d.Close(ctx))

	b, err := newTestManager(t, st, testConfig).Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "stand_up", b.Quote.State().BagTypeID)
	assert.Equal(t, 3000, b.Quote.State().Quantity)
	assert.Empty(t, b.DraftNotice)
}

func TestManagerReportsRejectedDraft(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	sid := uuid.NewString()

	raw, err := json.Marshal(map[string]any{"version": 1, "timestamp": time.Now(), "state": quote.DefaultState()})
	require.NoError(t, err)
	_, err = st.Put(ctx, sid, storage.KeyQuoteDraft, raw, storage.AnyVersion)
	require.NoError(t, err)

	b, err := newTestManager(t, st, testConfig).Get(ctx, sid)
	require.NoError(t, err)
	assert.NotEmpty(t, b.DraftNotice)
	assert.Equal(t, quote.DefaultState().BagTypeID, b.Quote.State().BagTypeID)
}

func TestCartChangesReachCheckout(t *testing.T) {
	ctx := context.Background()
	b, err := newTestManager(t, storage.NewMemory(), testConfig).Get(ctx, uuid.NewString())
	require.NoError(t, err)

	_, err = b.Cart.AddItem(ctx, testProduct(), 1000, cart.Specifications{})
	require.NoError(t, err)

	co := b.Checkout.State()
	require.Len(t, co.OrderItems, 1)
	assert.Equal(t, "三方シール袋", co.OrderItems[0].Name)
	require.NotNil(t, co.Summary)
	assert.True(t, co.Summary.Subtotal.Equal(decimal.NewFromInt(75000)))

	_, err = b.Cart.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, b.Checkout.State().OrderItems)
}

func TestQuoteChangesAreCalculated(t *testing.T) {
	b, err := newTestManager(t, storage.NewMemory(), testConfig).Get(context.Background(), uuid.NewString())
	require.NoError(t, err)

	width := 300.0
	_, err = b.Quote.Dispatch(quote.SetBasicSpecs{Width: &width})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v := b.Calculator.View()
		return v.Status == quote.StatusSettled && v.CurrentPrice != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvictionFlushesDraft(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	cfg := testConfig
	cfg.MaxSessions = 1
	m := newTestManager(t, st, cfg)

	first, err := m.Get(ctx, "first")
	require.NoError(t, err)
	qty := 5000
	_, err = first.Quote.Dispatch(quote.SetQuantityOptions{Quantity: &qty})
	require.NoError(t, err)

	_, err = st.Get(ctx, "first", storage.KeyQuoteDraft)
	require.ErrorIs(t, err, storage.ErrNotFound, "draft debounce has not fired")

	_, err = m.Get(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	entry, err := st.Get(ctx, "first", storage.KeyQuoteDraft)
	require.NoError(t, err)
	assert.Contains(t, string(entry.Value), `"quantity":5000`)
}
