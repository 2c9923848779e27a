package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haulpoints/backend/internal/middleware"
	"github.com/haulpoints/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type AdjustRequest struct {
	DriverID  string `json:"driver_id"`
	SponsorID string `json:"sponsor_id,omitempty"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

type BulkAdjustRequest struct {
	DriverIDs []string `json:"driver_ids"`
	SponsorID string   `json:"sponsor_id,omitempty"`
	Delta     int      `json:"delta"`
	Reason    string   `json:"reason"`
}

type EntryResponse struct {
	ID                    string    `json:"id"`
	DriverID              string    `json:"driver_id"`
	SponsorID             string    `json:"sponsor_id"`
	Delta                 int       `json:"delta"`
	BalanceAfter          int       `json:"balance_after"`
	Reason                string    `json:"reason"`
	ActorRole             string    `json:"actor_role"`
	ActorLabel            string    `json:"actor_label"`
	ImpersonatorAccountID *string   `json:"impersonator_account_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

type BulkResultResponse struct {
	DriverID string         `json:"driver_id"`
	Entry    *EntryResponse `json:"entry,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type BalanceResponse struct {
	DriverID  string `json:"driver_id"`
	SponsorID string `json:"sponsor_id"`
	Balance   int    `json:"balance"`
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

// Adjust handles POST /api/v1/points/adjust. Sponsors adjust within
// their own environment; admins name the sponsor in the request.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	driverID, err := uuid.Parse(req.DriverID)
	if err != nil {
		http.Error(w, "invalid driver_id", http.StatusBadRequest)
		return
	}
	sponsorID, err := h.sponsorScope(principal, req.SponsorID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	imp := middleware.ImpersonationFromCtx(r.Context())
	entry, err := h.svc.ApplyDelta(r.Context(), driverID, sponsorID, req.Delta, req.Reason, principal, imp)
	if err != nil {
		h.writeError(w, err, "adjust points")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(entryToResponse(entry))
}

// BulkAdjust handles POST /api/v1/points/bulk-adjust. Per-driver
// outcomes are independent; the response reports each one.
func (h *Handler) BulkAdjust(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req BulkAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.DriverIDs) == 0 {
		http.Error(w, "driver_ids must be non-empty", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}
	sponsorID, err := h.sponsorScope(principal, req.SponsorID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	driverIDs := make([]uuid.UUID, 0, len(req.DriverIDs))
	for _, raw := range req.DriverIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid driver_id: "+raw, http.StatusBadRequest)
			return
		}
		driverIDs = append(driverIDs, id)
	}

	imp := middleware.ImpersonationFromCtx(r.Context())
	results := h.svc.ApplyDeltaToMany(r.Context(), driverIDs, sponsorID, req.Delta, req.Reason, principal, imp)

	resp := make([]BulkResultResponse, 0, len(results))
	for _, res := range results {
		out := BulkResultResponse{DriverID: res.DriverID.String()}
		if res.Err != nil {
			out.Error = res.Err.Error()
		} else {
			e := entryToResponse(res.Entry)
			out.Entry = &e
		}
		resp = append(resp, out)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMultiStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// History handles GET /api/v1/points/history. Drivers read their own
// history; sponsors and admins name the driver via query parameter.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	driverID, sponsorID, err := h.historyScope(principal, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.svc.History(r.Context(), driverID, sponsorID)
	if err != nil {
		h.writeError(w, err, "list history")
		return
	}
	resp := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryToResponse(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Balance handles GET /api/v1/points/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	driverID, sponsorID, err := h.historyScope(principal, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	env, err := h.svc.Environment(r.Context(), driverID, sponsorID)
	if err != nil {
		h.writeError(w, err, "get balance")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(BalanceResponse{
		DriverID:  env.DriverID.String(),
		SponsorID: env.SponsorID.String(),
		Balance:   env.Balance,
	})
}

// sponsorScope resolves which sponsor an adjustment runs under. A
// sponsor principal is always scoped to itself; admins must name one.
func (h *Handler) sponsorScope(principal *models.Account, raw string) (uuid.UUID, error) {
	if principal.Role == models.RoleSponsor {
		return principal.ID, nil
	}
	if raw == "" {
		return uuid.Nil, errors.New("sponsor_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid sponsor_id")
	}
	return id, nil
}

// historyScope resolves the (driver, sponsor) pair a read targets based
// on who is asking.
func (h *Handler) historyScope(principal *models.Account, r *http.Request) (driverID, sponsorID uuid.UUID, err error) {
	q := r.URL.Query()
	switch principal.Role {
	case models.RoleDriver:
		driverID = principal.ID
		sponsorID, err = uuid.Parse(q.Get("sponsor_id"))
		if err != nil {
			return uuid.Nil, uuid.Nil, errors.New("invalid sponsor_id")
		}
	case models.RoleSponsor:
		sponsorID = principal.ID
		driverID, err = uuid.Parse(q.Get("driver_id"))
		if err != nil {
			return uuid.Nil, uuid.Nil, errors.New("invalid driver_id")
		}
	default:
		driverID, err = uuid.Parse(q.Get("driver_id"))
		if err != nil {
			return uuid.Nil, uuid.Nil, errors.New("invalid driver_id")
		}
		sponsorID, err = uuid.Parse(q.Get("sponsor_id"))
		if err != nil {
			return uuid.Nil, uuid.Nil, errors.New("invalid sponsor_id")
		}
	}
	return driverID, sponsorID, nil
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var (
		ve *ValidationError
		nf *NotFoundError
		ae *AuthorizationError
		ce *ConflictError
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

func entryToResponse(e *models.LedgerEntry) EntryResponse {
	out := EntryResponse{
		ID:           e.ID.String(),
		DriverID:     e.DriverID.String(),
		SponsorID:    e.SponsorID.String(),
		Delta:        e.Delta,
		BalanceAfter: e.BalanceAfter,
		Reason:       e.Reason,
		ActorRole:    string(e.Attribution.ActorRoleCode),
		ActorLabel:   e.Attribution.ActorLabel,
		CreatedAt:    e.CreatedAt,
	}
	if e.Attribution.ImpersonatorAccountID != nil {
		s := e.Attribution.ImpersonatorAccountID.String()
		out.ImpersonatorAccountID = &s
	}
	return out
}
