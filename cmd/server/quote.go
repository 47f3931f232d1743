package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Simplici0/epackage/internal/config"
	"github.com/Simplici0/epackage/internal/quote"
	"github.com/Simplici0/epackage/internal/session"
)

func quoteDraftConfig(cfg config.Config) quote.DraftConfig {
	return quote.DraftConfig{Debounce: cfg.DraftDebounce, MaxAge: cfg.DraftMaxAge}
}

// quoteActions builds an empty action for each name accepted by
// POST /api/quote/actions/{action}.
var quoteActions = map[string]func() quote.Action{
	"set-basic-specs":                func() quote.Action { return &quote.SetBasicSpecs{} },
	"set-quantity-options":           func() quote.Action { return &quote.SetQuantityOptions{} },
	"add-quantity":                   func() quote.Action { return &quote.AddQuantity{} },
	"remove-quantity":                func() quote.Action { return &quote.RemoveQuantity{} },
	"set-post-processing":            func() quote.Action { return &quote.SetPostProcessing{} },
	"add-post-processing-option":     func() quote.Action { return &quote.AddPostProcessingOption{} },
	"remove-post-processing-option":  func() quote.Action { return &quote.RemovePostProcessingOption{} },
	"replace-post-processing-option": func() quote.Action { return &quote.ReplacePostProcessingOption{} },
	"set-delivery":                   func() quote.Action { return &quote.SetDelivery{} },
	"reset":                          func() quote.Action { return &quote.Reset{} },
	"load":                           func() quote.Action { return &quote.Load{} },
}

// quotePatch is a partial update of the spec, quantity and delivery fields.
type quotePatch struct {
	quote.SetBasicSpecs
	quote.SetQuantityOptions
	quote.SetDelivery
}

type quoteView struct {
	State          quote.State         `json:"state"`
	Calculation    quote.Snapshot      `json:"calculation"`
	CompletedSteps map[quote.Step]bool `json:"completedSteps"`
	DraftNotice    string              `json:"draftNotice,omitempty"`
}

func newQuoteView(b *session.Bundle) quoteView {
	st := b.Quote.State()
	steps := make(map[quote.Step]bool, len(quote.Steps))
	for _, step := range quote.Steps {
		steps[step] = quote.StepComplete(st, step)
	}
	notice := b.Drafts.LastError()
	if notice == "" {
		notice = b.DraftNotice
	}
	return quoteView{
		State:          st,
		Calculation:    b.Calculator.View(),
		CompletedSteps: steps,
		DraftNotice:    notice,
	}
}

func (s *server) handleQuoteGet(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(b))
}

func (s *server) handleQuotePatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	var patch quotePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	for _, a := range []quote.Action{patch.SetBasicSpecs, patch.SetQuantityOptions, patch.SetDelivery} {
		if _, err := b.Quote.Dispatch(a); err != nil {
			s.writeResult(w, newQuoteView(b), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newQuoteView(b))
}

func (s *server) handleQuoteAction(w http.ResponseWriter, r *http.Request) {
	newAction, found := quoteActions[chi.URLParam(r, "action")]
	if !found {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	action := newAction()
	if !decodeJSON(w, r, action) {
		return
	}
	_, err := b.Quote.Dispatch(action)
	s.writeResult(w, newQuoteView(b), err)
}

func (s *server) handleQuoteValidate(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	step := quote.Step(chi.URLParam(r, "step"))
	if step == "all" {
		writeJSON(w, http.StatusOK, quote.ValidateAll(b.Quote.State()))
		return
	}
	writeJSON(w, http.StatusOK, quote.Validate(b.Quote.State(), step))
}

func (s *server) handleQuoteCalculate(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	snap, err := b.Calculator.Calculate(r.Context(), b.Quote.State())
	s.writeResult(w, snap, err)
}

func (s *server) handleDraftLoad(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	draft, err := b.Drafts.Load(r.Context())
	if err != nil {
		if errors.Is(err, quote.ErrNoDraft) {
			writeError(w, http.StatusNotFound, "no draft")
			return
		}
		writeJSON(w, statusFor(err), errorResponse{Error: b.Drafts.LastError()})
		return
	}
	if _, err := b.Quote.Dispatch(quote.Load{State: *draft}); err != nil {
		s.writeResult(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(b))
}

func (s *server) handleDraftSave(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	err := b.Drafts.Save(r.Context(), b.Quote.State())
	s.writeResult(w, newQuoteView(b), err)
}

func (s *server) handleDraftClear(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bundle(w, r)
	if !ok {
		return
	}
	if err := b.Drafts.Clear(r.Context()); err != nil {
		s.writeResult(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
