package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute status enums. pending is the only non-terminal state.
const (
	DisputePending  = "pending"
	DisputeApproved = "approved"
	DisputeDenied   = "denied"
)

// Dispute is a driver's contestation of one ledger entry. SponsorID is a
// convenience copy taken at filing time; authorization always goes
// through the driver_sponsor_environments link, which is authoritative.
type Dispute struct {
	ID             uuid.UUID  `json:"id"`
	LedgerEntryID  uuid.UUID  `json:"ledger_entry_id"`
	DriverID       uuid.UUID  `json:"driver_id"`
	SponsorID      uuid.UUID  `json:"sponsor_id"`
	Status         string     `json:"status"`
	SponsorNotes   *string    `json:"sponsor_notes,omitempty"`
	PointsRestored int        `json:"points_restored"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
