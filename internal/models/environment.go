package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership status enums for driver_sponsor_environments.status.
const (
	MembershipPending  = "PENDING"
	MembershipActive   = "ACTIVE"
	MembershipRejected = "REJECTED"
)

// DriverSponsorEnvironment holds one point balance per (driver, sponsor)
// pair. The balance column is only ever written together with a
// LedgerEntry insert in the same transaction, and never goes negative.
type DriverSponsorEnvironment struct {
	ID                  uuid.UUID `json:"id"`
	DriverID            uuid.UUID `json:"driver_id"`
	SponsorID           uuid.UUID `json:"sponsor_id"`
	Balance             int       `json:"balance"`
	Status              string    `json:"status"`
	LowBalanceThreshold *int      `json:"low_balance_threshold,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
