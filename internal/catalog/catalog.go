// Package catalog reads bag types and products, including their pricing formulas.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Simplici0/epackage/internal/pricing"
)

// ErrNotFound is returned when a bag type or product does not exist.
var ErrNotFound = errors.New("catalog: not found")

// BagType is a pouch shape with its default pricing formula.
type BagType struct {
	ID      string          `json:"id"`
	NameJa  string          `json:"name_ja"`
	Formula pricing.Formula `json:"pricing_formula"`
	Flat    bool            `json:"flat"`
	Active  bool            `json:"active"`
}

// Product is a catalog product as denormalized into cart items.
type Product struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	NameJa           string          `json:"name_ja"`
	BagTypeID        string          `json:"bag_type_id"`
	MaterialID       string          `json:"material_id"`
	PricingFormula   pricing.Formula `json:"pricing_formula"`
	MinOrderQuantity int             `json:"min_order_quantity"`
	LeadTimeDays     int             `json:"lead_time_days"`
}

// Repository reads and updates the catalog tables.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a Repository backed by db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Formula implements pricing.FormulaSource using active bag types.
func (r *Repository) Formula(ctx context.Context, bagTypeID string) (pricing.Formula, error) {
	var f pricing.Formula
	err := r.db.QueryRowContext(ctx, `
		SELECT base_cost, per_unit_cost, setup_fee
		FROM bag_types
		WHERE id = ? AND active = TRUE
	`, bagTypeID).Scan(&f.BaseCost, &f.PerUnitCost, &f.SetupFee)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Formula{}, fmt.Errorf("%w: %q", pricing.ErrUnknownBagType, bagTypeID)
	}
	if err != nil {
		return pricing.Formula{}, fmt.Errorf("query bag type formula: %w", err)
	}
	return f, nil
}

// ListBagTypes returns every bag type ordered by id.
func (r *Repository) ListBagTypes(ctx context.Context) ([]BagType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name_ja, base_cost, per_unit_cost, setup_fee, flat, active
		FROM bag_types
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query bag types: %w", err)
	}
	defer rows.Close()

	bagTypes := make([]BagType, 0)
	for rows.Next() {
		var b BagType
		if err := rows.Scan(&b.ID, &b.NameJa, &b.Formula.BaseCost, &b.Formula.PerUnitCost, &b.Formula.SetupFee, &b.Flat, &b.Active); err != nil {
			return nil, fmt.Errorf("scan bag type: %w", err)
		}
		bagTypes = append(bagTypes, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bag types: %w", err)
	}

	return bagTypes, nil
}

// UpdateBagTypeFormula replaces the pricing formula of a bag type.
func (r *Repository) UpdateBagTypeFormula(ctx context.Context, id string, f pricing.Formula) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bag_types
		SET
			base_cost = ?,
			per_unit_cost = ?,
			setup_fee = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, f.BaseCost.String(), f.PerUnitCost.String(), f.SetupFee.String(), id)
	if err != nil {
		return fmt.Errorf("update bag type formula: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bag type formula: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const productColumns = `id, name, name_ja, bag_type_id, material_id, base_cost, per_unit_cost, setup_fee, min_order_quantity, lead_time_days`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (Product, error) {
	var p Product
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.NameJa,
		&p.BagTypeID,
		&p.MaterialID,
		&p.PricingFormula.BaseCost,
		&p.PricingFormula.PerUnitCost,
		&p.PricingFormula.SetupFee,
		&p.MinOrderQuantity,
		&p.LeadTimeDays,
	)
	return p, err
}

// ListProducts returns active products ordered by id.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// GetProduct returns an active product by id.
func (r *Repository) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ? AND active = TRUE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}
