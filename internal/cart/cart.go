// Package cart holds a session's shopping cart and the reducer that keeps its
// items and totals consistent.
package cart

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/pricing"
)

// Cart statuses.
const (
	StatusDraft          = "draft"
	StatusQuoteRequested = "quote_requested"
)

var (
	taxRate      = decimal.NewFromFloat(0.10)
	flatShipping = decimal.NewFromInt(1500)
)

var (
	// ErrNoCart is returned by item actions before a cart is loaded.
	ErrNoCart = errors.New("cart: no cart loaded")
	// ErrItemNotFound is returned when an item id is not in the cart.
	ErrItemNotFound = errors.New("cart: item not found")
	// ErrBelowMinimum is returned when a line's quantity is below its
	// product's minimum order quantity.
	ErrBelowMinimum = errors.New("cart: quantity below minimum order quantity")
)

// Specifications are the options chosen for a cart item.
type Specifications struct {
	Material       string   `json:"material,omitempty"`
	Thickness      string   `json:"thickness,omitempty"`
	Size           string   `json:"size,omitempty"`
	Printing       string   `json:"printing,omitempty"`
	PostProcessing []string `json:"postProcessing,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Item is one product line in the cart.
type Item struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	Product        catalog.Product `json:"product"`
	Quantity       int             `json:"quantity"`
	Specifications Specifications  `json:"specifications"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	AddedAt        time.Time       `json:"addedAt"`
}

// NewItem prices quantity units of product.
func NewItem(id string, product catalog.Product, quantity int, specs Specifications, now time.Time) Item {
	item := Item{
		ID:             id,
		ProductID:      product.ID,
		Product:        product,
		Quantity:       quantity,
		Specifications: specs,
		AddedAt:        now,
	}
	return repriced(item)
}

func repriced(item Item) Item {
	item.UnitPrice, item.TotalPrice = pricing.ItemPrice(item.Product.PricingFormula, item.Quantity, item.Specifications.Material)
	return item
}

// Cart is a session's cart.
type Cart struct {
	ID        string          `json:"id"`
	Items     []Item          `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// New returns an empty draft cart priced in yen.
func New(id string, now time.Time) Cart {
	return Cart{
		ID:        id,
		Items:     []Item{},
		Currency:  currency.JPY.String(),
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of c.
func (c Cart) Clone() Cart {
	c.Items = slices.Clone(c.Items)
	for i := range c.Items {
		c.Items[i].Specifications.PostProcessing = slices.Clone(c.Items[i].Specifications.PostProcessing)
	}
	return c
}

// Item returns the item with the given id.
func (c Cart) Item(id string) (Item, bool) {
	i := slices.IndexFunc(c.Items, func(it Item) bool { return it.ID == id })
	if i < 0 {
		return Item{}, false
	}
	return c.Items[i], true
}

// TotalLabel formats the cart total for display.
func (c Cart) TotalLabel() string {
	return FormatAmount(c.Total)
}

var yenPrinter = message.NewPrinter(language.Japanese)

// FormatAmount formats a yen amount, rounded to whole yen, with its currency symbol.
func FormatAmount(amount decimal.Decimal) string {
	return yenPrinter.Sprint(currency.Symbol(currency.JPY.Amount(amount.Round(0).IntPart())))
}

// withTotals recomputes the derived amounts from the items.
func withTotals(c Cart) Cart {
	subtotal := decimal.Zero
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.TotalPrice)
	}
	c.Subtotal = subtotal
	c.Tax = subtotal.Mul(taxRate).Round(0)
	c.Shipping = decimal.Zero
	if len(c.Items) > 0 {
		c.Shipping = flatShipping
	}
	c.Discount = decimal.Zero
	c.Total = c.Subtotal.Add(c.Tax).Add(c.Shipping).Sub(c.Discount)
	return c
}

// State is the reducer state of a session's cart.
type State struct {
	Cart      *Cart  `json:"cart"`
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.Cart != nil {
		c := s.Cart.Clone()
		s.Cart = &c
	}
	return s
}

// Items returns the cart's items, or nil before a cart is loaded.
func (s State) Items() []Item {
	if s.Cart == nil {
		return nil
	}
	return slices.Clone(s.Cart.Items)
}

// Action transforms a State at time now.
type Action interface {
	apply(s State, now time.Time) (State, error)
}

// Reduce applies a to a copy of s. Every action that changes the items also
// recomputes the cart totals.
func Reduce(s State, a Action, now time.Time) (State, error) {
	return a.apply(s.Clone(), now)
}

// mutateItems applies fn to the cart's items and refreshes the totals.
func mutateItems(s State, now time.Time, fn func(items []Item) ([]Item, error)) (State, error) {
	if s.Cart == nil {
		return s, ErrNoCart
	}
	items, err := fn(s.Cart.Items)
	if err != nil {
		return s, err
	}
	c := *s.Cart
	c.Items = items
	c.UpdatedAt = now
	c = withTotals(c)
	s.Cart = &c
	return s, nil
}

func checkMinimum(item Item, quantity int) error {
	if minimum := item.Product.MinOrderQuantity; quantity < minimum {
		return fmt.Errorf("%w: 最小注文数量は%d個です", ErrBelowMinimum, minimum)
	}
	return nil
}

func indexOf(items []Item, id string) (int, error) {
	i := slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return i, nil
}

// SetLoading marks a submission as running.
type SetLoading struct {
	Loading bool
}

func (a SetLoading) apply(s State, _ time.Time) (State, error) {
	s.IsLoading = a.Loading
	return s, nil
}

// SetError records a user-facing error and ends loading.
type SetError struct {
	Message string
}

func (a SetError) apply(s State, _ time.Time) (State, error) {
	s.Error = a.Message
	s.IsLoading = false
	return s, nil
}

// LoadCart replaces the cart.
type LoadCart struct {
	Cart Cart
}

func (a LoadCart) apply(s State, _ time.Time) (State, error) {
	c := withTotals(a.Cart.Clone())
	if c.Items == nil {
		c.Items = []Item{}
	}
	s.Cart = &c
	s.IsLoading = false
	s.Error = ""
	return s, nil
}

// AddItem adds an item. An item for a product already in the cart is merged
// into the existing line, summing quantity and total price.
type AddItem struct {
	Item Item
}

func (a AddItem) apply(s State, now time.Time) (State, error) {
	return mutateItems(s, now, func(items []Item) ([]Item, error) {
		i := slices.IndexFunc(items, func(it Item) bool { return it.ProductID == a.Item.ProductID })
		if i < 0 {
			if err := checkMinimum(a.Item, a.Item.Quantity); err != nil {
				return nil, err
			}
			return append(items, a.Item), nil
		}
		if err := checkMinimum(items[i], items[i].Quantity+a.Item.Quantity); err != nil {
			return nil, err
		}
		items[i].Quantity += a.Item.Quantity
		items[i].TotalPrice = items[i].TotalPrice.Add(a.Item.TotalPrice)
		return items, nil
	})
}

// RemoveItem removes an item.
type RemoveItem struct {
	ItemID string
}

func (a RemoveItem) apply(s State, now time.Time) (State, error) {
	return mutateItems(s, now, func(items []Item) ([]Item, error) {
		i, err := indexOf(items, a.ItemID)
		if err != nil {
			return nil, err
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// UpdateQuantity changes an item's quantity and reprices it. A quantity of
// zero or less removes the item; a positive quantity must reach the product's
// minimum order quantity.
type UpdateQuantity struct {
	ItemID   string
	Quantity int
}

func (a UpdateQuantity) apply(s State, now time.Time) (State, error) {
	if a.Quantity <= 0 {
		return RemoveItem{ItemID: a.ItemID}.apply(s, now)
	}
	return mutateItems(s, now, func(items []Item) ([]Item, error) {
		i, err := indexOf(items, a.ItemID)
		if err != nil {
			return nil, err
		}
		if err := checkMinimum(items[i], a.Quantity); err != nil {
			return nil, err
		}
		items[i].Quantity = a.Quantity
		items[i] = repriced(items[i])
		return items, nil
	})
}

// UpdateSpecifications replaces an item's specifications and reprices it.
type UpdateSpecifications struct {
	ItemID         string
	Specifications Specifications
}

func (a UpdateSpecifications) apply(s State, now time.Time) (State, error) {
	return mutateItems(s, now, func(items []Item) ([]Item, error) {
		i, err := indexOf(items, a.ItemID)
		if err != nil {
			return nil, err
		}
		items[i].Specifications = a.Specifications
		items[i] = repriced(items[i])
		return items, nil
	})
}

// ClearCart removes every item.
type ClearCart struct{}

func (ClearCart) apply(s State, now time.Time) (State, error) {
	return mutateItems(s, now, func([]Item) ([]Item, error) {
		return []Item{}, nil
	})
}

// UpdateTotals recomputes the totals from the current items.
type UpdateTotals struct{}

func (UpdateTotals) apply(s State, now time.Time) (State, error) {
	return mutateItems(s, now, func(items []Item) ([]Item, error) {
		return items, nil
	})
}

// SetStatus changes the cart status.
type SetStatus struct {
	Status string
}

func (a SetStatus) apply(s State, now time.Time) (State, error) {
	if s.Cart == nil {
		return s, ErrNoCart
	}
	c := *s.Cart
	c.Status = a.Status
	c.UpdatedAt = now
	s.Cart = &c
	return s, nil
}
