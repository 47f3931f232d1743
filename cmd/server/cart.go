package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Simplici0/epackage/internal/cart"
)

type cartView struct {
	cart.State
	TotalLabel string `json:"totalLabel,omitempty"`
}

func newCartView(st cart.State) cartView {
	v := cartView{State: st}
	if st.Cart != nil {
		v.TotalLabel = st.Cart.TotalLabel()
	}
	return v
}

func (s *server) handleCartGet(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCartView(b.Cart.State()))
}

type addItemRequest struct {
	ProductID      string              `json:"productId"`
	Quantity       int                 `json:"quantity"`
	Specifications cart.Specifications `json:"specifications"`
}

func (s *server) handleCartAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	product, err := s.catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	st, err := b.Cart.AddItem(r.Context(), product, req.Quantity, req.Specifications)
	s.writeResult(w, newCartView(st), err)
}

type updateItemRequest struct {
	Quantity       *int                 `json:"quantity"`
	Specifications *cart.Specifications `json:"specifications"`
}

func (s *server) handleCartUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	st := b.Cart.State()
	var err error
	if req.Specifications != nil {
		st, err = b.Cart.UpdateSpecifications(r.Context(), id, *req.Specifications)
		if err != nil {
			s.writeResult(w, newCartView(st), err)
			return
		}
	}
	if req.Quantity != nil {
		st, err = b.Cart.UpdateQuantity(r.Context(), id, *req.Quantity)
	}
	s.writeResult(w, newCartView(st), err)
}

func (s *server) handleCartRemoveItem(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Cart.RemoveItem(r.Context(), chi.URLParam(r, "id"))
	s.writeResult(w, newCartView(st), err)
}

func (s *server) handleCartClear(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	st, err := b.Cart.Clear(r.Context())
	s.writeResult(w, newCartView(st), err)
}

type cartQuoteResponse struct {
	Quote cart.QuoteResponse `json:"quote"`
	Cart  cartView           `json:"cart"`
}

func (s *server) handleCartQuoteRequest(w http.ResponseWriter, r *http.Request) {
	var contact cart.Contact
	if !decodeJSON(w, r, &contact) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	resp, err := b.Cart.RequestQuote(r.Context(), contact)
	if err != nil {
		s.writeResult(w, newCartView(b.Cart.State()), err)
		return
	}
	writeJSON(w, http.StatusCreated, cartQuoteResponse{Quote: resp, Cart: newCartView(b.Cart.State())})
}

type cartOrderRequest struct {
	QuoteID string `json:"quoteId"`
}

type cartOrderResponse struct {
	Order cart.OrderConfirmation `json:"order"`
	Cart  cartView               `json:"cart"`
}

func (s *server) handleCartOrder(w http.ResponseWriter, r *http.Request) {
	var req cartOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	order, err := b.Cart.ConvertToOrder(r.Context(), req.QuoteID)
	if err != nil {
		s.writeResult(w, newCartView(b.Cart.State()), err)
		return
	}
	writeJSON(w, http.StatusCreated, cartOrderResponse{Order: order, Cart: newCartView(b.Cart.State())})
}
