package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/models"
	"github.com/haulpoints/backend/internal/notify"
)

// Thresholds are the sponsor's per-transaction adjustment limits,
// inclusive on both ends.
type Thresholds struct {
	Min int
	Max int
}

// PolicyProvider supplies the sponsor's configured thresholds. Backed by
// sponsor_settings; injected so tests can substitute it.
type PolicyProvider interface {
	GetThresholds(ctx context.Context, sponsorID uuid.UUID) (Thresholds, error)
}

// Store is the persistence surface the ledger service needs. The
// balance mutation and the entry insert run on the same transaction;
// everything else reads through the pool.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetEnvironment(ctx context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error)
	// ApplyBalanceDelta atomically sets balance = max(0, balance+delta)
	// on the environment row and returns the previous and new balance.
	ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, driverID, sponsorID uuid.UUID, delta int) (prev, now int, err error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, driverID, sponsorID uuid.UUID) ([]*models.LedgerEntry, error)
}

// BulkResult reports one driver's outcome of a bulk adjustment. Exactly
// one of Entry and Err is set.
type BulkResult struct {
	DriverID uuid.UUID
	Entry    *models.LedgerEntry
	Err      error
}

type Service interface {
	ApplyDelta(ctx context.Context, driverID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error)
	ApplyDeltaToMany(ctx context.Context, driverIDs []uuid.UUID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) []BulkResult
	ReverseDebit(ctx context.Context, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error)
	ReverseDebitTx(ctx context.Context, tx pgx.Tx, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error)
	EntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	History(ctx context.Context, driverID, sponsorID uuid.UUID) ([]*models.LedgerEntry, error)
	Environment(ctx context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error)
}

type service struct {
	store  Store
	policy PolicyProvider
	actors *actor.Resolver
	fanout notify.Fanout
	log    *slog.Logger
}

func NewService(store Store, policy PolicyProvider, actors *actor.Resolver, fanout notify.Fanout, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, policy: policy, actors: actors, fanout: fanout, log: log}
}

var _ Service = (*service)(nil)

func (s *service) ApplyDelta(ctx context.Context, driverID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error) {
	if err := s.validateDelta(ctx, sponsorID, delta); err != nil {
		return nil, err
	}
	env, err := s.store.GetEnvironment(ctx, driverID, sponsorID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entry, prev, err := s.appendTx(ctx, tx, driverID, sponsorID, delta, reason, principal, imp)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.afterApply(ctx, env, entry, prev)
	return entry, nil
}

func (s *service) ApplyDeltaToMany(ctx context.Context, driverIDs []uuid.UUID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) []BulkResult {
	// Each driver is its own transaction and unit of failure; a missing
	// environment for one driver must not block the rest.
	results := make([]BulkResult, 0, len(driverIDs))
	for _, driverID := range driverIDs {
		entry, err := s.ApplyDelta(ctx, driverID, sponsorID, delta, reason, principal, imp)
		results = append(results, BulkResult{DriverID: driverID, Entry: entry, Err: err})
	}
	return results
}

func (s *service) ReverseDebit(ctx context.Context, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	entry, prev, err := s.reverseTx(ctx, tx, originalEntryID, principal, imp)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Original was a credit; nothing to reverse.
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.afterApply(ctx, nil, entry, prev)
	return entry, nil
}

// ReverseDebitTx is the reversal primitive used by dispute approval. It
// runs on the caller's transaction and performs no notification; the
// caller owns the commit and fans out afterwards.
func (s *service) ReverseDebitTx(ctx context.Context, tx pgx.Tx, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error) {
	entry, _, err := s.reverseTx(ctx, tx, originalEntryID, principal, imp)
	return entry, err
}

func (s *service) EntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *service) History(ctx context.Context, driverID, sponsorID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.store.ListEntries(ctx, driverID, sponsorID)
}

func (s *service) Environment(ctx context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error) {
	return s.store.GetEnvironment(ctx, driverID, sponsorID)
}

func (s *service) validateDelta(ctx context.Context, sponsorID uuid.UUID, delta int) error {
	if delta == 0 {
		return &ValidationError{Msg: "delta must be non-zero"}
	}
	t, err := s.policy.GetThresholds(ctx, sponsorID)
	if err != nil {
		return fmt.Errorf("load sponsor thresholds: %w", err)
	}
	if abs := absInt(delta); abs < t.Min || abs > t.Max {
		return &ValidationError{Msg: fmt.Sprintf("points per transaction must be between %d and %d, got %d", t.Min, t.Max, abs)}
	}
	return nil
}

// appendTx performs the atomic balance update plus entry insert on tx.
// Returns the entry and the balance before the mutation.
func (s *service) appendTx(ctx context.Context, tx pgx.Tx, driverID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, int, error) {
	prev, now, err := s.store.ApplyBalanceDelta(ctx, tx, driverID, sponsorID, delta)
	if err != nil {
		return nil, 0, err
	}
	if applied := now - prev; applied != delta {
		// Over-deduction clamped at zero. The entry keeps the requested
		// delta; the shortfall is recorded in the reason so history can
		// distinguish full from partial application.
		reason = fmt.Sprintf("%s [clamped at zero: %d of %d points deducted]", reason, -applied, -delta)
	}

	att := s.actors.Resolve(ctx, principal, imp)
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		DriverID:     driverID,
		SponsorID:    sponsorID,
		Delta:        delta,
		BalanceAfter: now,
		Reason:       reason,
		InitiatedBy:  initiatedBy(principal),
		Attribution:  att,
	}
	if err := s.store.InsertEntry(ctx, tx, entry); err != nil {
		return nil, 0, err
	}
	return entry, prev, nil
}

// reverseTx credits back the amount of a debit entry. Returns (nil, 0,
// nil) when the original entry was a credit. Reversals are corrections
// and bypass the sponsor's per-transaction thresholds.
func (s *service) reverseTx(ctx context.Context, tx pgx.Tx, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, int, error) {
	orig, err := s.store.GetEntry(ctx, originalEntryID)
	if err != nil {
		return nil, 0, err
	}
	if orig.Delta >= 0 {
		return nil, 0, nil
	}
	reason := fmt.Sprintf("Reversal of entry %s: %s", orig.ID, orig.Reason)
	return s.appendTx(ctx, tx, orig.DriverID, orig.SponsorID, -orig.Delta, reason, principal, imp)
}

// afterApply runs the post-commit fanout. Failures are logged and never
// reach the caller; the committed mutation is the source of truth. env
// may be nil when the low-balance check does not apply (credits).
func (s *service) afterApply(ctx context.Context, env *models.DriverSponsorEnvironment, entry *models.LedgerEntry, prevBalance int) {
	if err := s.fanout.NotifyPointsChanged(ctx, entry.DriverID, entry.Delta, entry.Reason, entry.BalanceAfter, entry.SponsorID); err != nil {
		s.log.Error("points-changed notification failed", "error", err, "entry_id", entry.ID)
	}
	if entry.Delta >= 0 || env == nil || env.LowBalanceThreshold == nil {
		return
	}
	threshold := *env.LowBalanceThreshold
	if entry.BalanceAfter < threshold && prevBalance >= threshold {
		if err := s.fanout.NotifyLowBalance(ctx, entry.DriverID, entry.BalanceAfter, threshold); err != nil {
			s.log.Error("low-balance notification failed", "error", err, "driver_id", entry.DriverID)
		}
	}
}

func initiatedBy(principal *models.Account) *uuid.UUID {
	if principal == nil {
		return nil
	}
	id := principal.ID
	return &id
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
