package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Fanout is the notification contract invoked after a successful ledger
// commit. All methods are advisory: callers log returned errors and
// never let them reach the mutation's error path.
type Fanout interface {
	NotifyPointsChanged(ctx context.Context, driverID uuid.UUID, delta int, reason string, balanceAfter int, sponsorID uuid.UUID) error
	NotifyLowBalance(ctx context.Context, driverID uuid.UUID, balance, threshold int) error
	NotifyDisputeResolved(ctx context.Context, driverID uuid.UUID, outcome, notes string) error
}

// LogFanout writes notifications to the log only. Used in tests and as
// a fallback when no queue is configured.
type LogFanout struct {
	Log *slog.Logger
}

func NewLogFanout(log *slog.Logger) *LogFanout {
	if log == nil {
		log = slog.Default()
	}
	return &LogFanout{Log: log}
}

var _ Fanout = (*LogFanout)(nil)

func (f *LogFanout) NotifyPointsChanged(_ context.Context, driverID uuid.UUID, delta int, reason string, balanceAfter int, sponsorID uuid.UUID) error {
	f.Log.Info("points changed", "driver_id", driverID, "sponsor_id", sponsorID, "delta", delta, "balance_after", balanceAfter, "reason", reason)
	return nil
}

func (f *LogFanout) NotifyLowBalance(_ context.Context, driverID uuid.UUID, balance, threshold int) error {
	f.Log.Info("low balance", "driver_id", driverID, "balance", balance, "threshold", threshold)
	return nil
}

func (f *LogFanout) NotifyDisputeResolved(_ context.Context, driverID uuid.UUID, outcome, notes string) error {
	f.Log.Info("dispute resolved", "driver_id", driverID, "outcome", outcome, "notes", notes)
	return nil
}
