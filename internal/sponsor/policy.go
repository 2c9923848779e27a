package sponsor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/models"
)

// Default per-transaction limits applied when a sponsor has not
// configured its own.
const (
	DefaultMinPointsPerTxn = 1
	DefaultMaxPointsPerTxn = 10000
)

// PolicyRepo reads sponsor adjustment limits. It implements
// ledger.PolicyProvider.
type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

var _ ledger.PolicyProvider = (*PolicyRepo)(nil)

func (r *PolicyRepo) GetThresholds(ctx context.Context, sponsorID uuid.UUID) (ledger.Thresholds, error) {
	var t ledger.Thresholds
	err := r.pool.QueryRow(ctx, `
		SELECT min_points_per_txn, max_points_per_txn
		FROM sponsor_settings WHERE sponsor_id = $1
	`, sponsorID).Scan(&t.Min, &t.Max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Thresholds{Min: DefaultMinPointsPerTxn, Max: DefaultMaxPointsPerTxn}, nil
		}
		return ledger.Thresholds{}, err
	}
	return t, nil
}

func (r *PolicyRepo) GetSettings(ctx context.Context, sponsorID uuid.UUID) (*models.SponsorSettings, error) {
	var s models.SponsorSettings
	err := r.pool.QueryRow(ctx, `
		SELECT sponsor_id, min_points_per_txn, max_points_per_txn, updated_at
		FROM sponsor_settings WHERE sponsor_id = $1
	`, sponsorID).Scan(&s.SponsorID, &s.MinPointsPerTxn, &s.MaxPointsPerTxn, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ledger.NotFoundError{Resource: "sponsor settings", ID: sponsorID.String()}
		}
		return nil, err
	}
	return &s, nil
}

// UpsertSettings writes a sponsor's per-transaction limits.
func (r *PolicyRepo) UpsertSettings(ctx context.Context, sponsorID uuid.UUID, min, max int) error {
	if min < 0 || max < min {
		return &ledger.ValidationError{Msg: "thresholds must satisfy 0 <= min <= max"}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sponsor_settings (sponsor_id, min_points_per_txn, max_points_per_txn)
		VALUES ($1, $2, $3)
		ON CONFLICT (sponsor_id) DO UPDATE
		SET min_points_per_txn = $2, max_points_per_txn = $3, updated_at = now()
	`, sponsorID, min, max)
	return err
}
