package main

import (
	"context"
	"net/http"

	"github.com/Simplici0/epackage/internal/checkout"
)

type checkoutView struct {
	checkout.State
	CanProceed bool `json:"canProceed"`
}

func newCheckoutView(st checkout.State) checkoutView {
	return checkoutView{State: st, CanProceed: checkout.CanProceed(st)}
}

func (s *server) handleCheckoutGet(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutView(b.Checkout.State()))
}

func (s *server) handleCheckoutBilling(w http.ResponseWriter, r *http.Request) {
	var addr checkout.BillingAddress
	if !decodeJSON(w, r, &addr) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.SetBillingAddress(r.Context(), addr)
	s.writeResult(w, newCheckoutView(st), err)
}

func (s *server) handleCheckoutShipping(w http.ResponseWriter, r *http.Request) {
	var addr checkout.Address
	if !decodeJSON(w, r, &addr) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.SetShippingAddress(r.Context(), addr)
	s.writeResult(w, newCheckoutView(st), err)
}

func (s *server) handleCheckoutPayment(w http.ResponseWriter, r *http.Request) {
	var method checkout.PaymentMethod
	if !decodeJSON(w, r, &method) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.SetPaymentMethod(r.Context(), method)
	s.writeResult(w, newCheckoutView(st), err)
}

func (s *server) handleCheckoutNext(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.Next(r.Context())
	s.writeResult(w, newCheckoutView(st), err)
}

func (s *server) handleCheckoutBack(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.Back(r.Context())
	s.writeResult(w, newCheckoutView(st), err)
}

type checkoutSubmitRequest struct {
	QuoteID string `json:"quoteId"`
}

// handleCheckoutSubmit places the order for the session's cart. The cart is
// cleared and the checkout reset once the order is stored.
func (s *server) handleCheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	var req checkoutSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Checkout.Submit(r.Context(), func(ctx context.Context) error {
		_, err := b.Cart.ConvertToOrder(ctx, req.QuoteID)
		return err
	})
	s.writeResult(w, newCheckoutView(st), err)
}
