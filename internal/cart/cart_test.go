package cart

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/pricing"
)

var testNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func testProduct(id string) catalog.Product {
	return catalog.Product{
		ID:        id,
		Name:      gofakeit.ProductName(),
		BagTypeID: "flat_3_side",
		PricingFormula: pricing.Formula{
			BaseCost:    decimal.NewFromInt(30000),
			PerUnitCost: decimal.NewFromInt(15),
			SetupFee:    decimal.NewFromInt(30000),
		},
		MinOrderQuantity: 100,
		LeadTimeDays:     14,
	}
}

func loaded(t *testing.T) State {
	t.Helper()
	s, err := Reduce(State{}, LoadCart{Cart: New("cart-1", testNow)}, testNow)
	require.NoError(t, err)
	return s
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", field, got, want)
	}
}

func TestNewItemPricing(t *testing.T) {
	item := NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)
	assertDecimal(t, "45", item.UnitPrice, "unit price")
	assertDecimal(t, "75000", item.TotalPrice, "total price")

	al := NewItem("item-2", testProduct("p1"), 1000, Specifications{Material: pricing.MaterialAluminum}, testNow)
	assertDecimal(t, "67.5", al.UnitPrice, "aluminum unit price")
	assertDecimal(t, "97500", al.TotalPrice, "aluminum total price")
}

func TestAddItemMergesByProduct(t *testing.T) {
	s := loaded(t)
	first := NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)
	second := NewItem("item-2", testProduct("p1"), 1000, Specifications{}, testNow)

	s, err := Reduce(s, AddItem{Item: first}, testNow)
	require.NoError(t, err)
	s, err = Reduce(s, AddItem{Item: second}, testNow)
	require.NoError(t, err)

	require.Len(t, s.Cart.Items, 1)
	item := s.Cart.Items[0]
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, 2000, item.Quantity)
	assertDecimal(t, first.TotalPrice.Add(second.TotalPrice).String(), item.TotalPrice, "merged total")
}

func TestItemMutationsRecomputeTotals(t *testing.T) {
	later := testNow.Add(time.Minute)
	s := loaded(t)

	s, err := Reduce(s, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, later)
	require.NoError(t, err)
	assertDecimal(t, "75000", s.Cart.Subtotal, "subtotal")
	assertDecimal(t, "7500", s.Cart.Tax, "tax")
	assertDecimal(t, "1500", s.Cart.Shipping, "shipping")
	assertDecimal(t, "0", s.Cart.Discount, "discount")
	assertDecimal(t, "84000", s.Cart.Total, "total")
	assert.Equal(t, later, s.Cart.UpdatedAt)

	s, err = Reduce(s, AddItem{Item: NewItem("item-2", testProduct("p2"), 1000, Specifications{Material: pricing.MaterialPP}, testNow)}, later)
	require.NoError(t, err)
	// PP: (15 + 30) × 1.1 = 49.5 per unit, 49,500 + 30,000 base.
	assertDecimal(t, "154500", s.Cart.Subtotal, "subtotal with two items")
	assertDecimal(t, "15450", s.Cart.Tax, "tax with two items")

	s, err = Reduce(s, ClearCart{}, later)
	require.NoError(t, err)
	assert.Empty(t, s.Cart.Items)
	assertDecimal(t, "0", s.Cart.Shipping, "shipping of an empty cart")
	assertDecimal(t, "0", s.Cart.Total, "total of an empty cart")
}

func TestUpdateQuantityReprices(t *testing.T) {
	s := loaded(t)
	s, err := Reduce(s, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, testNow)
	require.NoError(t, err)

	s, err = Reduce(s, UpdateQuantity{ItemID: "item-1", Quantity: 2000}, testNow)
	require.NoError(t, err)

	item, ok := s.Cart.Item("item-1")
	require.True(t, ok)
	assert.Equal(t, 2000, item.Quantity)
	assertDecimal(t, "30", item.UnitPrice, "unit price")
	assertDecimal(t, "90000", item.TotalPrice, "total price")
	assertDecimal(t, "90000", s.Cart.Subtotal, "subtotal")
}

func TestUpdateQuantityZeroRemoves(t *testing.T) {
	s := loaded(t)
	s, err := Reduce(s, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, testNow)
	require.NoError(t, err)

	zeroed, err := Reduce(s, UpdateQuantity{ItemID: "item-1", Quantity: 0}, testNow)
	require.NoError(t, err)
	removed, err := Reduce(s, RemoveItem{ItemID: "item-1"}, testNow)
	require.NoError(t, err)

	assert.Empty(t, zeroed.Cart.Items)
	assert.Equal(t, removed.Cart, zeroed.Cart)
}

func TestUpdateSpecificationsReprices(t *testing.T) {
	s := loaded(t)
	s, err := Reduce(s, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, testNow)
	require.NoError(t, err)

	s, err = Reduce(s, UpdateSpecifications{ItemID: "item-1", Specifications: Specifications{Material: pricing.MaterialAluminum}}, testNow)
	require.NoError(t, err)

	item, _ := s.Cart.Item("item-1")
	assertDecimal(t, "97500", item.TotalPrice, "total price")
	assertDecimal(t, "97500", s.Cart.Subtotal, "subtotal")
}

func TestReduceErrors(t *testing.T) {
	_, err := Reduce(State{}, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, testNow)
	require.ErrorIs(t, err, ErrNoCart)

	_, err = Reduce(loaded(t), RemoveItem{ItemID: "missing"}, testNow)
	require.ErrorIs(t, err, ErrItemNotFound)

	_, err = Reduce(loaded(t), UpdateQuantity{ItemID: "missing", Quantity: 5}, testNow)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestReduceEnforcesMinimumOrderQuantity(t *testing.T) {
	product := testProduct("p1")
	product.MinOrderQuantity = 500

	_, err := Reduce(loaded(t), AddItem{Item: NewItem("item-1", product, 499, Specifications{}, testNow)}, testNow)
	require.ErrorIs(t, err, ErrBelowMinimum)
	assert.Contains(t, err.Error(), "最小注文数量は500個です")

	s, err := Reduce(loaded(t), AddItem{Item: NewItem("item-1", product, 500, Specifications{}, testNow)}, testNow)
	require.NoError(t, err)

	_, err = Reduce(s, UpdateQuantity{ItemID: "item-1", Quantity: 100}, testNow)
	require.ErrorIs(t, err, ErrBelowMinimum)

	removed, err := Reduce(s, UpdateQuantity{ItemID: "item-1", Quantity: 0}, testNow)
	require.NoError(t, err, "zero still removes the line")
	assert.Empty(t, removed.Cart.Items)

	merged, err := Reduce(s, AddItem{Item: NewItem("item-2", product, 100, Specifications{}, testNow)}, testNow)
	require.NoError(t, err, "a merge is checked against the summed quantity")
	assert.Equal(t, 600, merged.Cart.Items[0].Quantity)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := loaded(t)
	s, err := Reduce(s, AddItem{Item: NewItem("item-1", testProduct("p1"), 1000, Specifications{}, testNow)}, testNow)
	require.NoError(t, err)

	_, err = Reduce(s, UpdateQuantity{ItemID: "item-1", Quantity: 3000}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.Cart.Items[0].Quantity)
}

func TestNewCart(t *testing.T) {
	c := New("cart-1", testNow)
	assert.Equal(t, "JPY", c.Currency)
	assert.Equal(t, StatusDraft, c.Status)
	assert.NotNil(t, c.Items)
	assert.NotEmpty(t, FormatAmount(dec(t, "12000")))
}
