package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Notification job args. One kind per fanout method so workers stay
// small and retries are scoped to a single notification type.

type PointsChangedArgs struct {
	DriverID     uuid.UUID `json:"driver_id"`
	SponsorID    uuid.UUID `json:"sponsor_id"`
	Delta        int       `json:"delta"`
	BalanceAfter int       `json:"balance_after"`
	Reason       string    `json:"reason"`
}

func (PointsChangedArgs) Kind() string { return "notify_points_changed" }

type LowBalanceArgs struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Balance   int       `json:"balance"`
	Threshold int       `json:"threshold"`
}

func (LowBalanceArgs) Kind() string { return "notify_low_balance" }

type DisputeResolvedArgs struct {
	DriverID uuid.UUID `json:"driver_id"`
	Outcome  string    `json:"outcome"`
	Notes    string    `json:"notes"`
}

func (DisputeResolvedArgs) Kind() string { return "notify_dispute_resolved" }

// RiverFanout enqueues notification jobs on the River queue. Enqueueing
// happens after the ledger transaction commits; an insert failure only
// loses the notification, never the mutation.
type RiverFanout struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

func NewRiverFanout(client *river.Client[pgx.Tx], log *slog.Logger) *RiverFanout {
	if log == nil {
		log = slog.Default()
	}
	return &RiverFanout{client: client, log: log}
}

var _ Fanout = (*RiverFanout)(nil)

func (f *RiverFanout) NotifyPointsChanged(ctx context.Context, driverID uuid.UUID, delta int, reason string, balanceAfter int, sponsorID uuid.UUID) error {
	_, err := f.client.Insert(ctx, PointsChangedArgs{
		DriverID:     driverID,
		SponsorID:    sponsorID,
		Delta:        delta,
		BalanceAfter: balanceAfter,
		Reason:       reason,
	}, nil)
	return err
}

func (f *RiverFanout) NotifyLowBalance(ctx context.Context, driverID uuid.UUID, balance, threshold int) error {
	_, err := f.client.Insert(ctx, LowBalanceArgs{DriverID: driverID, Balance: balance, Threshold: threshold}, nil)
	return err
}

func (f *RiverFanout) NotifyDisputeResolved(ctx context.Context, driverID uuid.UUID, outcome, notes string) error {
	_, err := f.client.Insert(ctx, DisputeResolvedArgs{DriverID: driverID, Outcome: outcome, Notes: notes}, nil)
	return err
}
