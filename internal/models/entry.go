package models

import (
	"time"

	"github.com/google/uuid"
)

// ActorAttribution records who really performed a balance mutation,
// including the impersonation chain when an admin or sponsor was acting
// as a driver. It is computed at mutation time and embedded in the
// ledger row; it is never re-derived afterwards.
type ActorAttribution struct {
	ActorRoleCode         Role       `json:"actor_role_code"`
	ActorLabel            string     `json:"actor_label"`
	ImpersonatorAccountID *uuid.UUID `json:"impersonator_account_id,omitempty"`
	ImpersonatorRoleCode  *Role      `json:"impersonator_role_code,omitempty"`
}

// LedgerEntry is one immutable audit row for a balance mutation.
// Corrections are new entries that reference the original in Reason;
// history is never edited.
type LedgerEntry struct {
	ID           uuid.UUID  `json:"id"`
	DriverID     uuid.UUID  `json:"driver_id"`
	SponsorID    uuid.UUID  `json:"sponsor_id"`
	Delta        int        `json:"delta"`
	BalanceAfter int        `json:"balance_after"`
	Reason       string     `json:"reason"`
	InitiatedBy  *uuid.UUID `json:"initiated_by,omitempty"`
	Attribution  ActorAttribution
	CreatedAt    time.Time `json:"created_at"`
}
