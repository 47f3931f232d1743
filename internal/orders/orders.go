// Package orders records quote requests and orders submitted from carts.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/epackage/internal/cart"
	"github.com/Simplici0/epackage/internal/db"
)

// Statuses of quote requests and orders.
const (
	StatusPending = "pending"
	StatusOrdered = "ordered"
)

// EventOrderCreated is the outbox event type written for every new order.
const EventOrderCreated = "order.created"

var (
	// ErrEmptyItems is returned for requests without items.
	ErrEmptyItems = errors.New("orders: no items")
	// ErrInvalidContact is returned when a quote request lacks a contact name or email.
	ErrInvalidContact = errors.New("orders: contact name and email are required")
	// ErrQuoteNotFound is returned when an order references an unknown quote request.
	ErrQuoteNotFound = errors.New("orders: quote request not found")
)

// QuoteRequestSummary is a row of the quote request listing.
type QuoteRequestSummary struct {
	ID          string          `json:"id"`
	CreatedAt   string          `json:"createdAt"`
	CompanyName string          `json:"companyName"`
	ContactName string          `json:"contactName"`
	Email       string          `json:"email"`
	ItemCount   int             `json:"itemCount"`
	Total       decimal.Decimal `json:"total"`
	Status      string          `json:"status"`
}

// OrderCreated is the payload of EventOrderCreated.
type OrderCreated struct {
	OrderID   string          `json:"orderId"`
	QuoteID   string          `json:"quoteId,omitempty"`
	CartID    string          `json:"cartId"`
	Items     []cart.Item     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Service stores quote requests and orders. It implements cart.Submitter.
type Service struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewService returns a Service backed by database.
func NewService(database *sql.DB) *Service {
	return &Service{db: database, now: time.Now, newID: uuid.NewString}
}

func itemsTotal(items []cart.Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalPrice)
	}
	return total
}

// RequestQuote stores a quote request.
func (s *Service) RequestQuote(ctx context.Context, req cart.QuoteRequest) (cart.QuoteResponse, error) {
	if len(req.Items) == 0 {
		return cart.QuoteResponse{}, ErrEmptyItems
	}
	if strings.TrimSpace(req.ContactName) == "" || strings.TrimSpace(req.Email) == "" {
		return cart.QuoteResponse{}, ErrInvalidContact
	}

	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return cart.QuoteResponse{}, fmt.Errorf("encode quote items: %w", err)
	}

	resp := cart.QuoteResponse{
		QuoteID:     s.newID(),
		Status:      StatusPending,
		Total:       itemsTotal(req.Items),
		RequestedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quote_requests (id, cart_id, company_name, contact_name, email, phone, message, items_json, total, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, resp.QuoteID, req.CartID, req.CompanyName, req.ContactName, req.Email, req.Phone, req.Message,
		string(itemsJSON), resp.Total.String(), resp.Status, resp.RequestedAt.Format(time.DateTime))
	if err != nil {
		return cart.QuoteResponse{}, fmt.Errorf("insert quote request: %w", err)
	}
	return resp, nil
}

// CreateOrder stores an order and its order.created event in one transaction.
// A referenced quote request is marked ordered.
func (s *Service) CreateOrder(ctx context.Context, req cart.OrderRequest) (cart.OrderConfirmation, error) {
	if len(req.Items) == 0 {
		return cart.OrderConfirmation{}, ErrEmptyItems
	}

	conf := cart.OrderConfirmation{
		OrderID:   s.newID(),
		Status:    StatusPending,
		Total:     itemsTotal(req.Items),
		CreatedAt: s.now().UTC(),
	}
	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return cart.OrderConfirmation{}, fmt.Errorf("encode order items: %w", err)
	}
	payload, err := json.Marshal(OrderCreated{
		OrderID:   conf.OrderID,
		QuoteID:   req.QuoteID,
		CartID:    req.CartID,
		Items:     req.Items,
		Total:     conf.Total,
		CreatedAt: conf.CreatedAt,
	})
	if err != nil {
		return cart.OrderConfirmation{}, fmt.Errorf("encode order event: %w", err)
	}

	err = db.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if req.QuoteID != "" {
			result, err := tx.ExecContext(ctx, `UPDATE quote_requests SET status = ? WHERE id = ?`, StatusOrdered, req.QuoteID)
			if err != nil {
				return fmt.Errorf("mark quote request ordered: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("read affected quote requests: %w", err)
			}
			if affected == 0 {
				return fmt.Errorf("%w: %s", ErrQuoteNotFound, req.QuoteID)
			}
		}

		createdAt := conf.CreatedAt.Format(time.DateTime)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, quote_id, cart_id, items_json, total, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, conf.OrderID, req.QuoteID, req.CartID, string(itemsJSON), conf.Total.String(), conf.Status, createdAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES (?, 'order', ?, ?, ?, ?)
		`, s.newID(), conf.OrderID, EventOrderCreated, payload, createdAt); err != nil {
			return fmt.Errorf("insert order event: %w", err)
		}
		return nil
	})
	if err != nil {
		return cart.OrderConfirmation{}, err
	}
	return conf, nil
}

// ListQuoteRequests returns quote requests, newest first. A non-empty query
// filters by company name, contact name, email or message.
func (s *Service) ListQuoteRequests(ctx context.Context, query string) ([]QuoteRequestSummary, error) {
	search := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			created_at,
			company_name,
			contact_name,
			email,
			items_json,
			total,
			status
		FROM quote_requests
		WHERE (? = '' OR company_name LIKE ? OR contact_name LIKE ? OR email LIKE ? OR message LIKE ?)
		ORDER BY datetime(created_at) DESC, id DESC
	`, query, search, search, search, search)
	if err != nil {
		return nil, fmt.Errorf("query quote requests: %w", err)
	}
	defer rows.Close()

	requests := make([]QuoteRequestSummary, 0)
	for rows.Next() {
		var item QuoteRequestSummary
		var itemsJSON string
		if err := rows.Scan(&item.ID, &item.CreatedAt, &item.CompanyName, &item.ContactName, &item.Email, &itemsJSON, &item.Total, &item.Status); err != nil {
			return nil, fmt.Errorf("scan quote request: %w", err)
		}
		item.ItemCount = countItems(itemsJSON)
		requests = append(requests, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote requests: %w", err)
	}

	return requests, nil
}

func countItems(itemsJSON string) int {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return 0
	}
	return len(items)
}
