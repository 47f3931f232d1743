// Package session keeps one bundle of stores per browser session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/cart"
	"github.com/Simplici0/epackage/internal/checkout"
	"github.com/Simplici0/epackage/internal/quote"
	"github.com/Simplici0/epackage/internal/storage"
)

// Config tunes the manager and the stores it builds.
type Config struct {
	TTL          time.Duration
	MaxSessions  int
	CalcDebounce time.Duration
	PriceSettle  time.Duration
	Drafts       quote.DraftConfig
}

// Bundle is the set of stores serving one session.
type Bundle struct {
	ID         string
	Quote      *quote.Store
	Calculator *quote.Calculator
	Drafts     *quote.Drafts
	Cart       *cart.Store
	Checkout   *checkout.Store

	// DraftNotice is the message of a draft that could not be restored.
	DraftNotice string
}

// Close stops the calculator and flushes a pending draft.
func (b *Bundle) Close(ctx context.Context) error {
	b.Calculator.Close()
	return b.Drafts.Close(ctx)
}

// Manager creates bundles on first use and closes them when they expire or
// are pushed out by newer sessions.
type Manager struct {
	storage   storage.Store
	comparer  quote.Comparer
	submitter cart.Submitter
	logger    *zap.Logger
	cfg       Config

	mu      sync.Mutex
	bundles *expirable.LRU[string, *Bundle]
}

func NewManager(st storage.Store, comparer quote.Comparer, submitter cart.Submitter, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		storage:   st,
		comparer:  comparer,
		submitter: submitter,
		logger:    logger,
		cfg:       cfg,
	}
	m.bundles = expirable.NewLRU(cfg.MaxSessions, m.evicted, cfg.TTL)
	return m
}

func (m *Manager) evicted(id string, b *Bundle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		m.logger.Warn("close session", zap.String("session", id), zap.Error(err))
	}
	m.logger.Debug("session evicted", zap.String("session", id))
}

// Get returns the bundle of session id, building and loading it if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bundles.Get(id); ok {
		return b, nil
	}

	b, err := m.open(ctx, id)
	if err != nil {
		return nil, err
	}
	m.bundles.Add(id, b)
	m.logger.Debug("session created", zap.String("session", id))
	return b, nil
}

func (m *Manager) open(ctx context.Context, id string) (*Bundle, error) {
	sessionLogger := m.logger.With(zap.String("session", id))
	b := &Bundle{
		ID:         id,
		Quote:      quote.NewStore(quote.DefaultState()),
		Calculator: quote.NewCalculator(m.comparer, sessionLogger, m.cfg.CalcDebounce, m.cfg.PriceSettle),
		Drafts:     quote.NewDrafts(m.storage, id, m.cfg.Drafts, sessionLogger),
		Cart:       cart.NewStore(m.storage, id, m.submitter, sessionLogger),
		Checkout:   checkout.NewStore(m.storage, id, sessionLogger),
	}

	draft, err := b.Drafts.Load(ctx)
	switch {
	case err == nil:
		if _, err := b.Quote.Dispatch(quote.Load{State: *draft}); err != nil {
			sessionLogger.Warn("restore quote draft", zap.Error(err))
		}
	case errors.Is(err, quote.ErrNoDraft):
	default:
		b.DraftNotice = b.Drafts.LastError()
		sessionLogger.Info("quote draft not restored", zap.Error(err))
	}

	if err := b.Cart.Load(ctx); err != nil {
		b.Calculator.Close()
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if err := b.Checkout.Load(ctx); err != nil {
		b.Calculator.Close()
		return nil, fmt.Errorf("load checkout: %w", err)
	}

	b.Checkout.SyncOrderItems(b.Cart.State().Items())
	b.Cart.Subscribe(b.Checkout.SyncOrderItems)
	b.Quote.Subscribe(func(s quote.State) {
		b.Calculator.Watch(s)
		b.Drafts.Schedule(s)
	})
	b.Calculator.Watch(b.Quote.State())
	return b, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	return m.bundles.Len()
}

// Close closes every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles.Purge()
}
