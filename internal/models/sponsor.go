package models

import (
	"time"

	"github.com/google/uuid"
)

// SponsorSettings holds the per-transaction adjustment limits a sponsor
// configures for its drivers.
type SponsorSettings struct {
	SponsorID       uuid.UUID `json:"sponsor_id"`
	MinPointsPerTxn int       `json:"min_points_per_txn"`
	MaxPointsPerTxn int       `json:"max_points_per_txn"`
	UpdatedAt       time.Time `json:"updated_at"`
}
