package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/cart"
	"github.com/Simplici0/epackage/internal/storage"
)

var (
	// ErrStepIncomplete is returned when leaving a step whose fields are invalid.
	ErrStepIncomplete = errors.New("checkout: step incomplete")
	// ErrSubmitting is returned while a submission is running.
	ErrSubmitting = errors.New("checkout: submission in progress")
)

const (
	msgConflict     = "別の画面でお手続き内容が更新されました。最新の内容を表示しています。"
	msgSubmitFailed = "ご注文の送信に失敗しました。時間をおいて再度お試しください。"
)

// Store owns a session's checkout, persisting the addresses, payment method
// and step under storage.KeyCheckout.
type Store struct {
	storage   storage.Store
	sessionID string
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   State
	version int64
	saved   []byte
}

// NewStore returns a Store for sessionID.
func NewStore(st storage.Store, sessionID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage:   st,
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
		state:     NewState(),
		version:   storage.AnyVersion,
	}
}

// Load restores the persisted subset. An unreadable record is ignored and
// overwritten by the next change.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	entry, err := s.storage.Get(ctx, s.sessionID, storage.KeyCheckout)
	if errors.Is(err, storage.ErrNotFound) {
		s.version = 0
		s.saved = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkout: %w", err)
	}

	s.version = entry.Version
	var saved Saved
	if err := json.Unmarshal(entry.Value, &saved); err != nil {
		s.logger.Warn("discarding unreadable checkout", zap.String("session", s.sessionID), zap.Error(err))
		return nil
	}
	s.saved = entry.Value
	s.state = Reduce(s.state, LoadSavedState{Saved: saved})
	return nil
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) dispatch(ctx context.Context, actions ...Action) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	err := s.persistLocked(ctx)
	return s.state.Clone(), err
}

func (s *Store) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.state.Saved())
	if err != nil {
		return fmt.Errorf("encode checkout: %w", err)
	}
	if bytes.Equal(raw, s.saved) {
		return nil
	}

	version, err := s.storage.Put(ctx, s.sessionID, storage.KeyCheckout, raw, s.version)
	if errors.Is(err, storage.ErrVersionConflict) {
		s.logger.Warn("checkout changed by another writer", zap.String("session", s.sessionID))
		if loadErr := s.loadLocked(ctx); loadErr != nil {
			return errors.Join(err, loadErr)
		}
		s.state = Reduce(s.state, SetErrors{Errors: map[string]string{"storage": msgConflict}})
		return fmt.Errorf("save checkout: %w", err)
	}
	if err != nil {
		s.logger.Error("save checkout", zap.String("session", s.sessionID), zap.Error(err))
		return fmt.Errorf("save checkout: %w", err)
	}
	s.version = version
	s.saved = raw
	return nil
}

// SetBillingAddress stores the billing address.
func (s *Store) SetBillingAddress(ctx context.Context, a BillingAddress) (State, error) {
	return s.dispatch(ctx, SetBillingAddress{Address: a})
}

// SetShippingAddress stores the shipping address and reprices the order.
func (s *Store) SetShippingAddress(ctx context.Context, a Address) (State, error) {
	return s.dispatch(ctx, SetShippingAddress{Address: a}, CalculateSummaryAction{Now: s.now()})
}

// SetPaymentMethod stores the payment method.
func (s *Store) SetPaymentMethod(ctx context.Context, m PaymentMethod) (State, error) {
	return s.dispatch(ctx, SetPaymentMethod{Method: m})
}

// SyncOrderItems replaces the order items with the cart's and reprices the
// order. It is the cart's change subscriber.
func (s *Store) SyncOrderItems(items []cart.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, SetOrderItems{Items: OrderItems(items)})
	s.state = Reduce(s.state, CalculateSummaryAction{Now: s.now()})
}

// Next moves to the following step when the current one is complete.
// Otherwise the field errors are recorded and ErrStepIncomplete is returned.
func (s *Store) Next(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if errs := ValidateStep(s.state, s.state.CurrentStep); len(errs) > 0 {
		s.state = Reduce(s.state, SetErrors{Errors: errs})
		return s.state.Clone(), ErrStepIncomplete
	}
	s.state = Reduce(s.state, ClearErrors{})
	s.state = Reduce(s.state, SetCurrentStep{Step: s.state.CurrentStep + 1})
	err := s.persistLocked(ctx)
	return s.state.Clone(), err
}

// Back moves to the previous step.
func (s *Store) Back(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, ClearErrors{})
	s.state = Reduce(s.state, SetCurrentStep{Step: s.state.CurrentStep - 1})
	err := s.persistLocked(ctx)
	return s.state.Clone(), err
}

// Submit places the order with place once every step is complete. On success
// the checkout is reset; on failure the error is recorded for display.
func (s *Store) Submit(ctx context.Context, place func(ctx context.Context) error) (State, error) {
	s.mu.Lock()
	if s.state.IsProcessing {
		st := s.state.Clone()
		s.mu.Unlock()
		return st, ErrSubmitting
	}
	errs := map[string]string{}
	for step := StepBilling; step <= StepReview; step++ {
		for k, v := range ValidateStep(s.state, step) {
			errs[k] = v
		}
	}
	if len(errs) > 0 {
		s.state = Reduce(s.state, SetErrors{Errors: errs})
		st := s.state.Clone()
		s.mu.Unlock()
		return st, ErrStepIncomplete
	}
	s.state = Reduce(s.state, SetProcessing{Processing: true})
	s.mu.Unlock()

	if err := place(ctx); err != nil {
		s.logger.Warn("checkout submission failed", zap.String("session", s.sessionID), zap.Error(err))
		st, _ := s.dispatch(ctx, SetProcessing{Processing: false}, SetErrors{Errors: map[string]string{"submit": msgSubmitFailed}})
		return st, fmt.Errorf("submit checkout: %w", err)
	}
	return s.dispatch(ctx, ResetCheckout{})
}

// Reset clears the checkout.
func (s *Store) Reset(ctx context.Context) (State, error) {
	return s.dispatch(ctx, ResetCheckout{})
}
