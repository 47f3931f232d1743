package seed

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Simplici0/epackage/internal/pricing"
)

var bagTypeNames = map[string]string{
	"flat_3_side":   "三方シール袋",
	"stand_up":      "スタンドパウチ",
	"gusset":        "ガゼット袋",
	"box":           "ボックスパウチ",
	"flat_with_zip": "チャック付き平袋",
	"special":       "特殊形状パウチ",
	"soft_pouch":    "ソフトパウチ",
	"spout_pouch":   "スパウトパウチ",
	"roll_film":     "ロールフィルム",
}

type product struct {
	id               string
	name             string
	nameJa           string
	bagTypeID        string
	materialID       string
	minOrderQuantity int
	leadTimeDays     int
}

var defaultProducts = []product{
	{id: "prod_flat_pe", name: "Flat pouch PE", nameJa: "三方シール袋 PE", bagTypeID: "flat_3_side", materialID: pricing.MaterialPE, minOrderQuantity: 500, leadTimeDays: 14},
	{id: "prod_standup_pet", name: "Stand-up pouch PET", nameJa: "スタンドパウチ PET", bagTypeID: "stand_up", materialID: pricing.MaterialPET, minOrderQuantity: 1000, leadTimeDays: 18},
	{id: "prod_standup_al", name: "Stand-up pouch aluminum", nameJa: "スタンドパウチ アルミ", bagTypeID: "stand_up", materialID: pricing.MaterialAluminum, minOrderQuantity: 1000, leadTimeDays: 21},
	{id: "prod_gusset_kraft", name: "Gusset bag kraft", nameJa: "ガゼット袋 クラフト", bagTypeID: "gusset", materialID: pricing.MaterialPaperLaminate, minOrderQuantity: 1000, leadTimeDays: 21},
	{id: "prod_spout_pp", name: "Spout pouch PP", nameJa: "スパウトパウチ PP", bagTypeID: "spout_pouch", materialID: pricing.MaterialPP, minOrderQuantity: 3000, leadTimeDays: 28},
	{id: "prod_roll_pe", name: "Roll film PE", nameJa: "ロールフィルム PE", bagTypeID: "roll_film", materialID: pricing.MaterialPE, minOrderQuantity: 5000, leadTimeDays: 14},
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run seeds bag types and products in an idempotent way. Existing rows are left
// untouched so formulas edited by an administrator survive restarts.
func Run(ctx context.Context, db *sql.DB) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}
	formulas := pricing.DefaultFormulas()

	ids := make([]string, 0, len(formulas))
	for id := range formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ensureBagType(ctx, tx, id, formulas[id], &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}
	for _, p := range defaultProducts {
		if err := ensureProduct(ctx, tx, p, formulas[p.bagTypeID], &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureBagType(ctx context.Context, tx *sql.Tx, id string, f pricing.Formula, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bag_types WHERE id = ? LIMIT 1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check bag type existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bag_types (id, name_ja, base_cost, per_unit_cost, setup_fee, flat, active)
		VALUES (?, ?, ?, ?, ?, ?, TRUE)
	`, id, bagTypeNames[id], f.BaseCost.String(), f.PerUnitCost.String(), f.SetupFee.String(), pricing.IsFlatBagType(id)); err != nil {
		return fmt.Errorf("insert bag type %s: %w", id, err)
	}
	stats.Inserts++
	return nil
}

func ensureProduct(ctx context.Context, tx *sql.Tx, p product, f pricing.Formula, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = ? LIMIT 1)`, p.id).Scan(&exists); err != nil {
		return fmt.Errorf("check product existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products (
			id,
			name,
			name_ja,
			bag_type_id,
			material_id,
			base_cost,
			per_unit_cost,
			setup_fee,
			min_order_quantity,
			lead_time_days,
			active
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE)
	`,
		p.id,
		p.name,
		p.nameJa,
		p.bagTypeID,
		p.materialID,
		f.BaseCost.String(),
		f.PerUnitCost.String(),
		f.SetupFee.String(),
		p.minOrderQuantity,
		p.leadTimeDays,
	); err != nil {
		return fmt.Errorf("insert product %s: %w", p.id, err)
	}
	stats.Inserts++
	return nil
}
