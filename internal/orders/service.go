package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/catalog"
	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/models"
)

// Order is one catalog redemption: the item snapshot at purchase time
// and the ledger entry that paid for it.
type Order struct {
	ID            uuid.UUID
	DriverID      uuid.UUID
	SponsorID     uuid.UUID
	ItemID        string
	Title         string
	PricePoints   int
	LedgerEntryID uuid.UUID
	CreatedAt     time.Time
}

// Ledger is the slice of the points ledger order placement needs.
type Ledger interface {
	Environment(ctx context.Context, driverID, sponsorID uuid.UUID) (*models.DriverSponsorEnvironment, error)
	ApplyDelta(ctx context.Context, driverID, sponsorID uuid.UUID, delta int, reason string, principal *models.Account, imp actor.ImpersonationContext) (*models.LedgerEntry, error)
}

// Store is the order persistence surface.
type Store interface {
	Create(ctx context.Context, o *Order) error
	ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*Order, error)
}

type Service interface {
	PlaceOrder(ctx context.Context, driverID, sponsorID uuid.UUID, itemID string, principal *models.Account, imp actor.ImpersonationContext) (*Order, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*Order, error)
}

type service struct {
	repo     Store
	provider catalog.ItemProvider
	ledger   Ledger
	log      *slog.Logger
}

func NewService(repo Store, provider catalog.ItemProvider, ledgerSvc Ledger, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, provider: provider, ledger: ledgerSvc, log: log}
}

var _ Service = (*service)(nil)

// PlaceOrder debits the item price from the driver's balance and records
// the redemption. The balance pre-check keeps a short order from being
// partially paid; the price lives in the marketplace, never locally.
func (s *service) PlaceOrder(ctx context.Context, driverID, sponsorID uuid.UUID, itemID string, principal *models.Account, imp actor.ImpersonationContext) (*Order, error) {
	item, err := s.provider.GetItemDetails(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("look up item: %w", err)
	}
	if item == nil {
		return nil, &ledger.NotFoundError{Resource: "catalog item", ID: itemID}
	}
	if item.PricePoints <= 0 {
		return nil, &ledger.ValidationError{Msg: "item has no point price"}
	}

	env, err := s.ledger.Environment(ctx, driverID, sponsorID)
	if err != nil {
		return nil, err
	}
	if env.Balance < item.PricePoints {
		return nil, &ledger.ValidationError{Msg: fmt.Sprintf("insufficient points: have %d, item costs %d", env.Balance, item.PricePoints)}
	}

	entry, err := s.ledger.ApplyDelta(ctx, driverID, sponsorID, -item.PricePoints, "Redemption: "+item.Title, principal, imp)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:            uuid.New(),
		DriverID:      driverID,
		SponsorID:     sponsorID,
		ItemID:        item.ItemID,
		Title:         item.Title,
		PricePoints:   item.PricePoints,
		LedgerEntryID: entry.ID,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		// The debit committed; losing the order row is recoverable from
		// the ledger entry, so surface the error but log the pairing.
		s.log.Error("order insert failed after debit", "error", err, "ledger_entry_id", entry.ID)
		return nil, err
	}
	return order, nil
}

func (s *service) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*Order, error) {
	return s.repo.ListByDriver(ctx, driverID)
}
