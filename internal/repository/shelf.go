package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kioskd/internal/models"
)

type ShelfRepository struct {
	db *sql.DB
}

func NewShelfRepository(db *sql.DB) *ShelfRepository {
	return &ShelfRepository{db: db}
}

// Upsert assigns a SKU to a shelf, reactivating the shelf if needed.
func (r *ShelfRepository) Upsert(ctx context.Context, a *models.ShelfAssignment) error {
	query := `INSERT INTO shelf_assignments (shelf_number, sku, product_name, current_stock, active, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (shelf_number) DO UPDATE
		SET sku=EXCLUDED.sku, product_name=EXCLUDED.product_name,
		    current_stock=EXCLUDED.current_stock, active=EXCLUDED.active,
		    last_updated=EXCLUDED.last_updated`
	a.LastUpdated = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		a.ShelfNumber, a.SKU, a.ProductName, a.CurrentStock, a.Active, a.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert shelf: %w", err)
	}
	return nil
}

// GetActiveBySKU returns the lowest-numbered active shelf holding the SKU,
// or nil, nil when the SKU has no active assignment.
func (r *ShelfRepository) GetActiveBySKU(ctx context.Context, sku string) (*models.ShelfAssignment, error) {
	query := `SELECT shelf_number, sku, product_name, current_stock, active, last_updated
		FROM shelf_assignments
		WHERE sku=$1 AND active
		ORDER BY shelf_number
		LIMIT 1`
	a := &models.ShelfAssignment{}
	err := r.db.QueryRowContext(ctx, query, sku).
		Scan(&a.ShelfNumber, &a.SKU, &a.ProductName, &a.CurrentStock, &a.Active, &a.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shelf by sku: %w", err)
	}
	return a, nil
}

func (r *ShelfRepository) List(ctx context.Context) ([]models.ShelfAssignment, error) {
	query := `SELECT shelf_number, sku, product_name, current_stock, active, last_updated
		FROM shelf_assignments
		ORDER BY shelf_number`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shelves: %w", err)
	}
	defer rows.Close()

	var out []models.ShelfAssignment
	for rows.Next() {
		var a models.ShelfAssignment
		if err := rows.Scan(&a.ShelfNumber, &a.SKU, &a.ProductName, &a.CurrentStock, &a.Active, &a.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan shelf: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
