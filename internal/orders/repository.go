package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, o *Order) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO orders (id, driver_id, sponsor_id, item_id, title, price_points, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, o.ID, o.DriverID, o.SponsorID, o.ItemID, o.Title, o.PricePoints, o.LedgerEntryID)
	return row.Scan(&o.CreatedAt)
}

func (r *Repository) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, driver_id, sponsor_id, item_id, title, price_points, ledger_entry_id, created_at
		FROM orders WHERE driver_id = $1 ORDER BY created_at DESC
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Order
	for rows.Next() {
		var o Order
		err := rows.Scan(&o.ID, &o.DriverID, &o.SponsorID, &o.ItemID, &o.Title, &o.PricePoints, &o.LedgerEntryID, &o.CreatedAt)
		if err != nil {
			return nil, err
		}
		list = append(list, &o)
	}
	return list, rows.Err()
}
