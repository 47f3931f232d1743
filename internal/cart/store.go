package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/storage"
)

const (
	msgQuoteFailed = "見積もり依頼の送信に失敗しました。時間をおいて再度お試しください。"
	msgOrderFailed = "注文の作成に失敗しました。時間をおいて再度お試しください。"
	msgConflict    = "別の画面でカートが更新されました。最新の内容を表示しています。"
	msgSaveFailed  = "カートの保存に失敗しました。"
)

// ErrEmptyCart is returned when submitting a cart without items.
var ErrEmptyCart = errors.New("cart: cart is empty")

// Contact is the requester of a quote.
type Contact struct {
	CompanyName string `json:"companyName"`
	ContactName string `json:"contactName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Message     string `json:"message"`
}

// QuoteRequest is sent when a cart is submitted for a quote.
type QuoteRequest struct {
	Contact
	CartID string `json:"cartId"`
	Items  []Item `json:"items"`
}

// QuoteResponse acknowledges a quote request.
type QuoteResponse struct {
	QuoteID     string          `json:"quoteId"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// OrderRequest converts a cart into an order.
type OrderRequest struct {
	QuoteID string `json:"quoteId"`
	CartID  string `json:"cartId"`
	Items   []Item `json:"items"`
}

// OrderConfirmation acknowledges a created order.
type OrderConfirmation struct {
	OrderID   string          `json:"orderId"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Submitter receives quote requests and orders.
type Submitter interface {
	RequestQuote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderConfirmation, error)
}

// Store owns a session's cart, persisting every change under storage.KeyCart.
type Store struct {
	storage   storage.Store
	sessionID string
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	// dispatchMu serializes changes with their notifications so subscribers
	// see carts in order. Subscribers must not call back into the Store.
	dispatchMu  sync.Mutex
	mu          sync.Mutex
	state       State
	version     int64
	saved       []byte
	subscribers []func([]Item)
}

// NewStore returns a Store for sessionID. Load must be called before use.
func NewStore(st storage.Store, sessionID string, submitter Submitter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		storage:   st,
		sessionID: sessionID,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		version:   storage.AnyVersion,
	}
}

// Load restores the stored cart, or starts a new one when none is stored or
// the stored one cannot be decoded.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	entry, err := s.storage.Get(ctx, s.sessionID, storage.KeyCart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.version = 0
		s.saved = nil
		return s.resetLocked(ctx)
	case err != nil:
		return fmt.Errorf("load cart: %w", err)
	}

	var c Cart
	if err := json.Unmarshal(entry.Value, &c); err != nil {
		s.logger.Warn("discarding unreadable cart", zap.String("session", s.sessionID), zap.Error(err))
		s.version = entry.Version
		return s.resetLocked(ctx)
	}

	s.version = entry.Version
	s.saved = entry.Value
	s.state, _ = Reduce(s.state, LoadCart{Cart: c}, s.now())
	return nil
}

func (s *Store) resetLocked(ctx context.Context) error {
	s.state, _ = Reduce(s.state, LoadCart{Cart: New(s.newID(), s.now())}, s.now())
	return s.persistLocked(ctx)
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers fn to receive the items after every cart change.
func (s *Store) Subscribe(fn func([]Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Dispatch applies a, persists the cart and notifies subscribers.
func (s *Store) Dispatch(ctx context.Context, a Action) (State, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next, err := Reduce(s.state, a, s.now())
	if err != nil {
		current := s.state.Clone()
		s.mu.Unlock()
		return current, err
	}

	prev := s.state
	s.state = next
	persistErr := s.persistLocked(ctx)
	if persistErr != nil && !errors.Is(persistErr, storage.ErrVersionConflict) {
		s.state = prev
		s.state.Error = msgSaveFailed
	}

	current := s.state.Clone()
	changed := !slices.EqualFunc(prev.Items(), current.Items(), sameItem)
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	if changed {
		for _, fn := range subscribers {
			fn(current.Items())
		}
	}
	return current, persistErr
}

func sameItem(a, b Item) bool {
	return a.ID == b.ID && a.Quantity == b.Quantity &&
		a.UnitPrice.Equal(b.UnitPrice) && a.TotalPrice.Equal(b.TotalPrice) &&
		a.Specifications.Material == b.Specifications.Material
}

// persistLocked writes the cart when it differs from what was last written.
// A version conflict reloads the cart another writer stored.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.state.Cart == nil {
		return nil
	}
	raw, err := json.Marshal(s.state.Cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if bytes.Equal(raw, s.saved) {
		return nil
	}

	version, err := s.storage.Put(ctx, s.sessionID, storage.KeyCart, raw, s.version)
	if errors.Is(err, storage.ErrVersionConflict) {
		s.logger.Warn("cart changed by another writer", zap.String("session", s.sessionID))
		if loadErr := s.loadLocked(ctx); loadErr != nil {
			return errors.Join(err, loadErr)
		}
		s.state.Error = msgConflict
		return fmt.Errorf("save cart: %w", err)
	}
	if err != nil {
		s.logger.Error("save cart", zap.String("session", s.sessionID), zap.Error(err))
		return fmt.Errorf("save cart: %w", err)
	}
	s.version = version
	s.saved = raw
	return nil
}

// AddItem prices quantity units of product and adds them to the cart.
func (s *Store) AddItem(ctx context.Context, product catalog.Product, quantity int, specs Specifications) (State, error) {
	if quantity <= 0 {
		return s.State(), fmt.Errorf("add item: quantity must be positive, got %d", quantity)
	}
	item := NewItem(s.newID(), product, quantity, specs, s.now())
	return s.Dispatch(ctx, AddItem{Item: item})
}

// RemoveItem removes an item.
func (s *Store) RemoveItem(ctx context.Context, itemID string) (State, error) {
	return s.Dispatch(ctx, RemoveItem{ItemID: itemID})
}

// UpdateQuantity changes an item's quantity; zero or less removes it.
func (s *Store) UpdateQuantity(ctx context.Context, itemID string, quantity int) (State, error) {
	return s.Dispatch(ctx, UpdateQuantity{ItemID: itemID, Quantity: quantity})
}

// UpdateSpecifications replaces an item's specifications.
func (s *Store) UpdateSpecifications(ctx context.Context, itemID string, specs Specifications) (State, error) {
	return s.Dispatch(ctx, UpdateSpecifications{ItemID: itemID, Specifications: specs})
}

// Clear removes every item.
func (s *Store) Clear(ctx context.Context) (State, error) {
	return s.Dispatch(ctx, ClearCart{})
}

// begin marks a submission as running and returns the cart to submit.
func (s *Store) begin() (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Cart == nil {
		return Cart{}, ErrNoCart
	}
	if len(s.state.Cart.Items) == 0 {
		return Cart{}, ErrEmptyCart
	}
	s.state, _ = Reduce(s.state, SetError{}, s.now())
	s.state, _ = Reduce(s.state, SetLoading{Loading: true}, s.now())
	return s.state.Cart.Clone(), nil
}

func (s *Store) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, _ = Reduce(s.state, SetError{Message: msg}, s.now())
}

func (s *Store) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, _ = Reduce(s.state, SetLoading{Loading: false}, s.now())
}

// RequestQuote submits the cart for a quote and marks it quote_requested.
// Failures are recorded in the state's error and not retried.
func (s *Store) RequestQuote(ctx context.Context, contact Contact) (QuoteResponse, error) {
	c, err := s.begin()
	if err != nil {
		return QuoteResponse{}, fmt.Errorf("request quote: %w", err)
	}

	resp, err := s.submitter.RequestQuote(ctx, QuoteRequest{Contact: contact, CartID: c.ID, Items: c.Items})
	if err != nil {
		s.logger.Warn("quote request failed", zap.String("cart", c.ID), zap.Error(err))
		s.fail(msgQuoteFailed)
		return QuoteResponse{}, fmt.Errorf("request quote: %w", err)
	}
	defer s.done()

	if _, err := s.Dispatch(ctx, SetStatus{Status: StatusQuoteRequested}); err != nil {
		return resp, fmt.Errorf("mark cart quote requested: %w", err)
	}
	return resp, nil
}

// ConvertToOrder creates an order from the cart and clears it on success.
func (s *Store) ConvertToOrder(ctx context.Context, quoteID string) (OrderConfirmation, error) {
	c, err := s.begin()
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("convert to order: %w", err)
	}

	order, err := s.submitter.CreateOrder(ctx, OrderRequest{QuoteID: quoteID, CartID: c.ID, Items: c.Items})
	if err != nil {
		s.logger.Warn("order creation failed", zap.String("cart", c.ID), zap.Error(err))
		s.fail(msgOrderFailed)
		return OrderConfirmation{}, fmt.Errorf("convert to order: %w", err)
	}
	defer s.done()

	s.clearOrdered(ctx, c.ID)
	return order, nil
}

// clearOrdered empties the cart once its order exists. The cleared cart
// overwrites whatever another writer stored meanwhile, so the ordered items
// cannot be ordered again.
func (s *Store) clearOrdered(ctx context.Context, cartID string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	prev := s.state.Items()
	s.state, _ = Reduce(s.state, ClearCart{}, s.now())
	s.version = storage.AnyVersion
	s.saved = nil
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Error("clear ordered cart", zap.String("cart", cartID), zap.Error(err))
	}
	current := s.state.Items()
	subscribers := slices.Clone(s.subscribers)
	s.mu.Unlock()

	if !slices.EqualFunc(prev, current, sameItem) {
		for _, fn := range subscribers {
			fn(current)
		}
	}
}
