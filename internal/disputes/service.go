package disputes

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/models"
	"github.com/haulpoints/backend/internal/notify"
)

// Ledger is the slice of the points ledger the dispute resolver needs:
// reading the contested entry and the transactional reversal primitive.
type Ledger interface {
	EntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ReverseDebitTx(ctx context.Context, tx pgx.Tx, originalEntryID uuid.UUID, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error)
}

// Store is the dispute persistence surface. ResolvePending carries the
// status guard (WHERE status = 'pending') into the UPDATE itself, so two
// concurrent resolutions serialize at the database and exactly one wins.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ResolvePending(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, notes string, resolvedBy uuid.UUID, pointsRestored int) (bool, error)
	// HasActiveLink checks the authoritative driver-sponsor environment
	// relationship. A dispute's own sponsor_id column is never consulted
	// for authorization.
	HasActiveLink(ctx context.Context, driverID, sponsorID uuid.UUID) (bool, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Dispute, error)
}

type Service interface {
	FileDispute(ctx context.Context, driverID, ledgerEntryID uuid.UUID) (*models.Dispute, error)
	Approve(ctx context.Context, disputeID uuid.UUID, sponsorPrincipal *models.Account, imp actor.ImpersonationContext, notes string) (*models.Dispute, error)
	Deny(ctx context.Context, disputeID uuid.UUID, sponsorPrincipal *models.Account, imp actor.ImpersonationContext, notes string) (*models.Dispute, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Dispute, error)
}

type service struct {
	store  Store
	ledger Ledger
	fanout notify.Fanout
	log    *slog.Logger
}

func NewService(store Store, ledgerSvc Ledger, fanout notify.Fanout, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, ledger: ledgerSvc, fanout: fanout, log: log}
}

var _ Service = (*service)(nil)

func (s *service) FileDispute(ctx context.Context, driverID, ledgerEntryID uuid.UUID) (*models.Dispute, error) {
	entry, err := s.ledger.EntryByID(ctx, ledgerEntryID)
	if err != nil {
		return nil, err
	}
	if entry.DriverID != driverID {
		return nil, &ledger.AuthorizationError{Msg: "ledger entry does not belong to this driver"}
	}
	d := &models.Dispute{
		ID:            uuid.New(),
		LedgerEntryID: ledgerEntryID,
		DriverID:      driverID,
		SponsorID:     entry.SponsorID,
		Status:        models.DisputePending,
	}
	if err := s.store.InsertDispute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *service) Approve(ctx context.Context, disputeID uuid.UUID, sponsorPrincipal *models.Account, imp actor.ImpersonationContext, notes string) (*models.Dispute, error) {
	d, err := s.authorizeResolution(ctx, disputeID, sponsorPrincipal)
	if err != nil {
		return nil, err
	}

	entry, err := s.ledger.EntryByID(ctx, d.LedgerEntryID)
	if err != nil {
		return nil, err
	}
	restore := 0
	if entry.Delta < 0 {
		restore = -entry.Delta
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	resolved, err := s.store.ResolvePending(ctx, tx, d.ID, models.DisputeApproved, notes, sponsorPrincipal.ID, restore)
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, &ledger.ConflictError{Msg: "dispute already processed"}
	}
	if restore > 0 {
		if _, err := s.ledger.ReverseDebitTx(ctx, tx, d.LedgerEntryID, sponsorPrincipal, imp); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.notifyResolved(ctx, d.DriverID, models.DisputeApproved, notes)
	return resolvedCopy(d, models.DisputeApproved, notes, sponsorPrincipal.ID, restore), nil
}

func (s *service) Deny(ctx context.Context, disputeID uuid.UUID, sponsorPrincipal *models.Account, imp actor.ImpersonationContext, notes string) (*models.Dispute, error) {
	d, err := s.authorizeResolution(ctx, disputeID, sponsorPrincipal)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	resolved, err := s.store.ResolvePending(ctx, tx, d.ID, models.DisputeDenied, notes, sponsorPrincipal.ID, 0)
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, &ledger.ConflictError{Msg: "dispute already processed"}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.notifyResolved(ctx, d.DriverID, models.DisputeDenied, notes)
	return resolvedCopy(d, models.DisputeDenied, notes, sponsorPrincipal.ID, 0), nil
}

func (s *service) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Dispute, error) {
	return s.store.ListByDriver(ctx, driverID)
}

// authorizeResolution loads the dispute and verifies the sponsor through
// the driver-sponsor environment link. The dispute's stored sponsor id
// can drift from the true owning sponsor and is deliberately ignored.
func (s *service) authorizeResolution(ctx context.Context, disputeID uuid.UUID, sponsorPrincipal *models.Account) (*models.Dispute, error) {
	if sponsorPrincipal == nil {
		return nil, &ledger.AuthorizationError{Msg: "a sponsor principal is required"}
	}
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	linked, err := s.store.HasActiveLink(ctx, d.DriverID, sponsorPrincipal.ID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, &ledger.AuthorizationError{Msg: "sponsor has no active link to this driver"}
	}
	return d, nil
}

func (s *service) notifyResolved(ctx context.Context, driverID uuid.UUID, outcome, notes string) {
	if err := s.fanout.NotifyDisputeResolved(ctx, driverID, outcome, notes); err != nil {
		s.log.Error("dispute-resolved notification failed", "error", err, "driver_id", driverID)
	}
}

func resolvedCopy(d *models.Dispute, status, notes string, resolvedBy uuid.UUID, restore int) *models.Dispute {
	cp := *d
	now := time.Now()
	cp.Status = status
	cp.SponsorNotes = &notes
	cp.PointsRestored = restore
	cp.ResolvedBy = &resolvedBy
	cp.ResolvedAt = &now
	return &cp
}
