package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/cart"
	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/checkout"
	"github.com/Simplici0/epackage/internal/orders"
	"github.com/Simplici0/epackage/internal/pricing"
	"github.com/Simplici0/epackage/internal/quote"
	"github.com/Simplici0/epackage/internal/storage"
)

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, checkout.ErrSubmitting):
		return http.StatusConflict
	case errors.Is(err, cart.ErrItemNotFound), errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, orders.ErrQuoteNotFound), errors.Is(err, quote.ErrNoDraft):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrInvalidSpecification), errors.Is(err, pricing.ErrUnknownBagType),
		errors.Is(err, quote.ErrTooManyOptions), errors.Is(err, cart.ErrEmptyCart), errors.Is(err, cart.ErrNoCart),
		errors.Is(err, checkout.ErrStepIncomplete), errors.Is(err, orders.ErrEmptyItems),
		errors.Is(err, orders.ErrInvalidContact), errors.Is(err, pricing.ErrNoQuotes),
		errors.Is(err, quote.ErrDraftExpired), errors.Is(err, quote.ErrDraftVersionMismatch),
		errors.Is(err, quote.ErrDraftCorrupt), errors.Is(err, cart.ErrBelowMinimum):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes state, or the error together with the state the store
// was left in.
func (s *server) writeResult(w http.ResponseWriter, state any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, state)
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, State: state})
}

type pricingQuoteRequest struct {
	Specification pricing.Specification `json:"specification"`
	Quantity      int                   `json:"quantity"`
}

func (s *server) handlePricingQuote(w http.ResponseWriter, r *http.Request) {
	var req pricingQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.engine.Quote(r.Context(), req.Specification, req.Quantity)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type pricingCompareRequest struct {
	Specification pricing.Specification `json:"specification"`
	Quantities    []int                 `json:"quantities"`
	Selected      int                   `json:"selected"`
}

func (s *server) handlePricingCompare(w http.ResponseWriter, r *http.Request) {
	var req pricingCompareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.comparator.Compare(r.Context(), req.Specification, req.Quantities, req.Selected)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleCatalogProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context())
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *server) handleCatalogBagTypes(w http.ResponseWriter, r *http.Request) {
	bagTypes, err := s.catalog.ListBagTypes(r.Context())
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, bagTypes)
}

func (s *server) handleQuotesRequest(w http.ResponseWriter, r *http.Request) {
	var req cart.QuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.orders.RequestQuote(r.Context(), req)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *server) handleOrdersCreate(w http.ResponseWriter, r *http.Request) {
	var req cart.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conf, err := s.orders.CreateOrder(r.Context(), req)
	if err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusCreated, conf)
}

type quoteRequestsResponse struct {
	Query    string                       `json:"query"`
	Requests []orders.QuoteRequestSummary `json:"requests"`
}

func (s *server) handleAdminQuoteRequests(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	requests, err := s.orders.ListQuoteRequests(r.Context(), query)
	if err != nil {
		s.logger.Error("list quote requests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load quote requests")
		return
	}
	writeJSON(w, http.StatusOK, quoteRequestsResponse{Query: query, Requests: requests})
}

func (s *server) handleAdminBagTypeUpdate(w http.ResponseWriter, r *http.Request) {
	var f pricing.Formula
	if !decodeJSON(w, r, &f) {
		return
	}
	for _, v := range []decimal.Decimal{f.BaseCost, f.PerUnitCost, f.SetupFee} {
		if v.IsNegative() {
			writeError(w, http.StatusBadRequest, "formula values must be zero or more")
			return
		}
	}

	id := chi.URLParam(r, "id")
	if err := s.catalog.UpdateBagTypeFormula(r.Context(), id, f); err != nil {
		s.writeResult(w, nil, err)
		return
	}
	s.comparator.Invalidate()
	s.logger.Info("bag type formula updated", zap.String("bag_type", id))
	writeJSON(w, http.StatusOK, f)
}
