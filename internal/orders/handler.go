package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/middleware"
)

type PlaceOrderRequest struct {
	SponsorID string `json:"sponsor_id"`
	ItemID    string `json:"item_id"`
}

type OrderResponse struct {
	ID            string    `json:"id"`
	DriverID      string    `json:"driver_id"`
	SponsorID     string    `json:"sponsor_id"`
	ItemID        string    `json:"item_id"`
	Title         string    `json:"title"`
	PricePoints   int       `json:"price_points"`
	LedgerEntryID string    `json:"ledger_entry_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Place handles POST /api/v1/orders. Drivers redeem catalog items
// against their own balance.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	sponsorID, err := uuid.Parse(req.SponsorID)
	if err != nil {
		http.Error(w, "invalid sponsor_id", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}

	imp := middleware.ImpersonationFromCtx(r.Context())
	order, err := h.svc.PlaceOrder(r.Context(), principal.ID, sponsorID, req.ItemID, principal, imp)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(orderToResponse(order))
}

// List handles GET /api/v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByDriver(r.Context(), principal.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, orderToResponse(o))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		ve *ledger.ValidationError
		nf *ledger.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		http.Error(w, nf.Error(), http.StatusNotFound)
	default:
		h.log.Error("order operation failed", "error", err)
		http.Error(w, "order failed", http.StatusInternalServerError)
	}
}

func orderToResponse(o *Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID.String(),
		DriverID:      o.DriverID.String(),
		SponsorID:     o.SponsorID.String(),
		ItemID:        o.ItemID,
		Title:         o.Title,
		PricePoints:   o.PricePoints,
		LedgerEntryID: o.LedgerEntryID.String(),
		CreatedAt:     o.CreatedAt,
	}
}
