package disputes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) InsertDispute(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (id, ledger_entry_id, driver_id, sponsor_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, d.ID, d.LedgerEntryID, d.DriverID, d.SponsorID, d.Status).Scan(&d.CreatedAt)
}

const disputeColumns = `id, ledger_entry_id, driver_id, sponsor_id, status, sponsor_notes, points_restored, resolved_by, resolved_at, created_at`

func (r *Repository) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ledger.NotFoundError{Resource: "dispute", ID: id.String()}
		}
		return nil, err
	}
	return d, nil
}

// ResolvePending flips a pending dispute to a terminal state. The status
// guard in the WHERE clause is the concurrency-correctness mechanism:
// rows-affected zero means another resolution already won.
func (r *Repository) ResolvePending(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, notes string, resolvedBy uuid.UUID, pointsRestored int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = $2, sponsor_notes = $3, resolved_by = $4, points_restored = $5, resolved_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status, notes, resolvedBy, pointsRestored)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) HasActiveLink(ctx context.Context, driverID, sponsorID uuid.UUID) (bool, error) {
	var linked bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM driver_sponsor_environments
			WHERE driver_id = $1 AND sponsor_id = $2 AND status = 'ACTIVE'
		)
	`, driverID, sponsorID).Scan(&linked)
	return linked, err
}

func (r *Repository) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE driver_id = $1 ORDER BY created_at DESC
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.LedgerEntryID, &d.DriverID, &d.SponsorID, &d.Status,
		&d.SponsorNotes, &d.PointsRestored, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
