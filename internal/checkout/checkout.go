// Package checkout holds the checkout wizard of a session: addresses, payment,
// the order summary and step navigation.
package checkout

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/epackage/internal/cart"
)

// Wizard steps.
const (
	StepBilling = iota
	StepShipping
	StepPayment
	StepReview
)

// Payment method types.
const (
	PaymentBankTransfer   = "bank_transfer"
	PaymentCreditCard     = "credit_card"
	PaymentInvoice        = "invoice"
	PaymentCashOnDelivery = "cash_on_delivery"
)

var (
	installationThreshold = decimal.NewFromInt(200000)
	installationRate      = decimal.NewFromFloat(0.05)
	consumptionTaxRate    = decimal.NewFromFloat(0.10)
	deliveryBufferDays    = 7
)

// shippingTiers is sorted by ascending upper bound; subtotals at or above the
// last bound ship free.
var shippingTiers = []struct {
	below decimal.Decimal
	fee   decimal.Decimal
}{
	{below: decimal.NewFromInt(10000), fee: decimal.NewFromInt(800)},
	{below: decimal.NewFromInt(50000), fee: decimal.NewFromInt(1200)},
	{below: decimal.NewFromInt(100000), fee: decimal.NewFromInt(1800)},
}

// Address is a Japanese postal address.
type Address struct {
	CompanyName string `json:"companyName"`
	LastName    string `json:"lastName" validate:"required"`
	FirstName   string `json:"firstName" validate:"required"`
	PostalCode  string `json:"postalCode" validate:"required,jp_postal"`
	Prefecture  string `json:"prefecture" validate:"required"`
	City        string `json:"city" validate:"required"`
	Address1    string `json:"address1" validate:"required"`
	Address2    string `json:"address2"`
	Phone       string `json:"phone" validate:"required,jp_phone"`
}

// BillingAddress is the invoiced party.
type BillingAddress struct {
	Address
	Email string `json:"email" validate:"required,email"`
}

// PaymentMethod is how the order is paid.
type PaymentMethod struct {
	Type string `json:"type" validate:"required,oneof=bank_transfer credit_card invoice cash_on_delivery"`
	// CardToken is the tokenized card for credit card payments.
	CardToken string `json:"cardToken,omitempty" validate:"required_if=Type credit_card"`
}

// OrderItem is a cart item as shown at checkout.
type OrderItem struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	LeadTimeDays int             `json:"leadTimeDays"`
}

// OrderItems projects cart items into order items.
func OrderItems(items []cart.Item) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		name := it.Product.NameJa
		if name == "" {
			name = it.Product.Name
		}
		out = append(out, OrderItem{
			ID:           it.ID,
			ProductID:    it.ProductID,
			Name:         name,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			TotalPrice:   it.TotalPrice,
			LeadTimeDays: it.Product.LeadTimeDays,
		})
	}
	return out
}

// Summary is the priced order.
type Summary struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingFee       decimal.Decimal `json:"shippingFee"`
	InstallationFee   decimal.Decimal `json:"installationFee"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
}

// ShippingFee returns the flat shipping fee of a subtotal.
func ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	for _, t := range shippingTiers {
		if subtotal.LessThan(t.below) {
			return t.fee
		}
	}
	return decimal.Zero
}

// CalculateSummary prices items as of now.
func CalculateSummary(items []OrderItem, now time.Time) Summary {
	subtotal := decimal.Zero
	leadTime := 0
	for _, it := range items {
		subtotal = subtotal.Add(it.TotalPrice)
		leadTime = max(leadTime, it.LeadTimeDays)
	}

	installation := decimal.Zero
	if subtotal.GreaterThan(installationThreshold) {
		installation = subtotal.Mul(installationRate).Round(0)
	}
	shipping := ShippingFee(subtotal)
	tax := subtotal.Mul(consumptionTaxRate).Round(0)

	return Summary{
		Subtotal:          subtotal,
		ShippingFee:       shipping,
		InstallationFee:   installation,
		Tax:               tax,
		Total:             subtotal.Add(shipping).Add(installation).Add(tax),
		EstimatedDelivery: now.AddDate(0, 0, leadTime+deliveryBufferDays),
	}
}

// State is the checkout wizard.
type State struct {
	CurrentStep     int               `json:"currentStep"`
	BillingAddress  *BillingAddress   `json:"billingAddress"`
	ShippingAddress *Address          `json:"shippingAddress"`
	PaymentMethod   *PaymentMethod    `json:"paymentMethod"`
	OrderItems      []OrderItem       `json:"orderItems"`
	Summary         *Summary          `json:"summary"`
	IsProcessing    bool              `json:"isProcessing"`
	Errors          map[string]string `json:"errors"`
}

// NewState returns an empty checkout.
func NewState() State {
	return State{OrderItems: []OrderItem{}, Errors: map[string]string{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.BillingAddress = clonePtr(s.BillingAddress)
	s.ShippingAddress = clonePtr(s.ShippingAddress)
	s.PaymentMethod = clonePtr(s.PaymentMethod)
	s.Summary = clonePtr(s.Summary)
	s.OrderItems = slices.Clone(s.OrderItems)
	s.Errors = maps.Clone(s.Errors)
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Saved is the part of the checkout that survives a reload.
type Saved struct {
	BillingAddress  *BillingAddress `json:"billingAddress"`
	ShippingAddress *Address        `json:"shippingAddress"`
	PaymentMethod   *PaymentMethod  `json:"paymentMethod"`
	CurrentStep     int             `json:"currentStep"`
}

// Saved returns the persisted subset of s.
func (s State) Saved() Saved {
	c := s.Clone()
	return Saved{
		BillingAddress:  c.BillingAddress,
		ShippingAddress: c.ShippingAddress,
		PaymentMethod:   c.PaymentMethod,
		CurrentStep:     c.CurrentStep,
	}
}

// Action transforms a State.
type Action interface {
	apply(s State) State
}

// Reduce applies a to a copy of s.
func Reduce(s State, a Action) State {
	return a.apply(s.Clone())
}

// SetBillingAddress sets the billing address.
type SetBillingAddress struct{ Address BillingAddress }

func (a SetBillingAddress) apply(s State) State {
	s.BillingAddress = &a.Address
	return s
}

// SetShippingAddress sets the shipping address.
type SetShippingAddress struct{ Address Address }

func (a SetShippingAddress) apply(s State) State {
	s.ShippingAddress = &a.Address
	return s
}

// SetPaymentMethod sets the payment method.
type SetPaymentMethod struct{ Method PaymentMethod }

func (a SetPaymentMethod) apply(s State) State {
	s.PaymentMethod = &a.Method
	return s
}

// SetOrderItems replaces the order items.
type SetOrderItems struct{ Items []OrderItem }

func (a SetOrderItems) apply(s State) State {
	s.OrderItems = slices.Clone(a.Items)
	if s.OrderItems == nil {
		s.OrderItems = []OrderItem{}
	}
	return s
}

// CalculateSummaryAction prices the order items as of Now. Without items the
// summary is cleared.
type CalculateSummaryAction struct{ Now time.Time }

func (a CalculateSummaryAction) apply(s State) State {
	if len(s.OrderItems) == 0 {
		s.Summary = nil
		return s
	}
	sum := CalculateSummary(s.OrderItems, a.Now)
	s.Summary = &sum
	return s
}

// SetCurrentStep moves to a step, clamped to the wizard's range.
type SetCurrentStep struct{ Step int }

func (a SetCurrentStep) apply(s State) State {
	s.CurrentStep = min(max(a.Step, StepBilling), StepReview)
	return s
}

// SetProcessing marks a submission as running.
type SetProcessing struct{ Processing bool }

func (a SetProcessing) apply(s State) State {
	s.IsProcessing = a.Processing
	return s
}

// SetErrors replaces the field errors.
type SetErrors struct{ Errors map[string]string }

func (a SetErrors) apply(s State) State {
	s.Errors = maps.Clone(a.Errors)
	if s.Errors == nil {
		s.Errors = map[string]string{}
	}
	return s
}

// ClearErrors removes every field error.
type ClearErrors struct{}

func (ClearErrors) apply(s State) State {
	s.Errors = map[string]string{}
	return s
}

// ResetCheckout returns to an empty checkout.
type ResetCheckout struct{}

func (ResetCheckout) apply(State) State {
	return NewState()
}

// LoadSavedState restores the persisted subset.
type LoadSavedState struct{ Saved Saved }

func (a LoadSavedState) apply(s State) State {
	s.BillingAddress = clonePtr(a.Saved.BillingAddress)
	s.ShippingAddress = clonePtr(a.Saved.ShippingAddress)
	s.PaymentMethod = clonePtr(a.Saved.PaymentMethod)
	s.CurrentStep = min(max(a.Saved.CurrentStep, StepBilling), StepReview)
	return s
}
