package disputes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/middleware"
	"github.com/haulpoints/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type FileDisputeRequest struct {
	LedgerEntryID string `json:"ledger_entry_id"`
}

type ResolveRequest struct {
	Notes string `json:"notes"`
}

type DisputeResponse struct {
	ID             string     `json:"id"`
	LedgerEntryID  string     `json:"ledger_entry_id"`
	DriverID       string     `json:"driver_id"`
	Status         string     `json:"status"`
	SponsorNotes   *string    `json:"sponsor_notes,omitempty"`
	PointsRestored int        `json:"points_restored"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
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

// File handles POST /api/v1/disputes. The driver contests one of their
// own ledger entries.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req FileDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	entryID, err := uuid.Parse(req.LedgerEntryID)
	if err != nil {
		http.Error(w, "invalid ledger_entry_id", http.StatusBadRequest)
		return
	}

	d, err := h.svc.FileDispute(r.Context(), principal.ID, entryID)
	if err != nil {
		h.writeError(w, err, "file dispute")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(disputeToResponse(d))
}

// Approve handles POST /api/v1/disputes/{dispute_id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, models.DisputeApproved)
}

// Deny handles POST /api/v1/disputes/{dispute_id}/deny.
func (h *Handler) Deny(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, models.DisputeDenied)
}

// List handles GET /api/v1/disputes. Drivers see their own disputes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByDriver(r.Context(), principal.ID)
	if err != nil {
		h.writeError(w, err, "list disputes")
		return
	}
	resp := make([]DisputeResponse, 0, len(list))
	for _, d := range list {
		resp = append(resp, disputeToResponse(d))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, outcome string) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	disputeID, err := uuid.Parse(r.PathValue("dispute_id"))
	if err != nil {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	imp := middleware.ImpersonationFromCtx(r.Context())
	var d *models.Dispute
	if outcome == models.DisputeApproved {
		d, err = h.svc.Approve(r.Context(), disputeID, principal, imp, req.Notes)
	} else {
		d, err = h.svc.Deny(r.Context(), disputeID, principal, imp, req.Notes)
	}
	if err != nil {
		h.writeError(w, err, "resolve dispute")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(disputeToResponse(d))
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var (
		ve *ledger.ValidationError
		nf *ledger.NotFoundError
		ae *ledger.AuthorizationError
		ce *ledger.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		http.Error(w, nf.Error(), http.StatusNotFound)
	case errors.As(err, &ae):
		http.Error(w, ae.Error(), http.StatusForbidden)
	case errors.As(err, &ce):
		http.Error(w, ce.Error(), http.StatusConflict)
	default:
		h.log.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", http.StatusInternalServerError)
	}
}

func disputeToResponse(d *models.Dispute) DisputeResponse {
	out := DisputeResponse{
		ID:             d.ID.String(),
		LedgerEntryID:  d.LedgerEntryID.String(),
		DriverID:       d.DriverID.String(),
		Status:         d.Status,
		SponsorNotes:   d.SponsorNotes,
		PointsRestored: d.PointsRestored,
		ResolvedAt:     d.ResolvedAt,
		CreatedAt:      d.CreatedAt,
	}
	if d.ResolvedBy != nil {
		s := d.ResolvedBy.String()
		out.ResolvedBy = &s
	}
	return out
}
