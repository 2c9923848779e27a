package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulpoints/backend/internal/models"
)

// Repository is the Postgres-backed Store. Balance rows live in
// driver_sponsor_environments, audit rows in ledger_entries.
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

func (r *Repository) GetEnvironment(ctx context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error) {
	var e models.DriverSponsorEnvironment
	err := r.pool.QueryRow(ctx, `
		SELECT id, driver_id, sponsor_id, balance, status, low_balance_threshold, created_at, updated_at
		FROM driver_sponsor_environments
		WHERE driver_id = $1 AND sponsor_id = $2
	`, driverID, sponsorID).Scan(&e.ID, &e.DriverID, &e.SponsorID, &e.Balance, &e.Status, &e.LowBalanceThreshold, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "driver-sponsor environment", ID: driverID.String() + "/" + sponsorID.String()}
		}
		return nil, err
	}
	return &e, nil
}

// ApplyBalanceDelta clamps the new balance at zero in the UPDATE itself,
// so concurrent writers serialize on the row and never read a stale
// balance in application code.
func (r *Repository) ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, driverID, sponsorID uuid.UUID, delta int) (prev, now int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE driver_sponsor_environments AS e
		SET balance = GREATEST(0, e.balance + $3), updated_at = now()
		FROM (
			SELECT id, balance FROM driver_sponsor_environments
			WHERE driver_id = $1 AND sponsor_id = $2
			FOR UPDATE
		) AS old
		WHERE e.id = old.id
		RETURNING old.balance, e.balance
	`, driverID, sponsorID, delta).Scan(&prev, &now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, &NotFoundError{Resource: "driver-sponsor environment", ID: driverID.String() + "/" + sponsorID.String()}
		}
		return 0, 0, err
	}
	return prev, now, nil
}

func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	var impRole *string
	if e.Attribution.ImpersonatorRoleCode != nil {
		s := string(*e.Attribution.ImpersonatorRoleCode)
		impRole = &s
	}
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, driver_id, sponsor_id, delta, balance_after, reason, initiated_by,
			actor_role_code, actor_label, impersonator_account_id, impersonator_role_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, e.ID, e.DriverID, e.SponsorID, e.Delta, e.BalanceAfter, e.Reason, e.InitiatedBy,
		string(e.Attribution.ActorRoleCode), e.Attribution.ActorLabel, e.Attribution.ImpersonatorAccountID, impRole).Scan(&e.CreatedAt)
}

const entryColumns = `id, driver_id, sponsor_id, delta, balance_after, reason, initiated_by,
	actor_role_code, actor_label, impersonator_account_id, impersonator_role_code, created_at`

func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "ledger entry", ID: id.String()}
		}
		return nil, err
	}
	return e, nil
}

func (r *Repository) ListEntries(ctx context.Context, driverID, sponsorID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE driver_id = $1 AND sponsor_id = $2
		ORDER BY created_at ASC
	`, driverID, sponsorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var actorRole string
	var impRole *string
	err := row.Scan(&e.ID, &e.DriverID, &e.SponsorID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.InitiatedBy,
		&actorRole, &e.Attribution.ActorLabel, &e.Attribution.ImpersonatorAccountID, &impRole, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Attribution.ActorRoleCode = models.Role(actorRole)
	if impRole != nil {
		role := models.Role(*impRole)
		e.Attribution.ImpersonatorRoleCode = &role
	}
	return &e, nil
}
