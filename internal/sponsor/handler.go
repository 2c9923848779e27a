package sponsor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/middleware"
)

type SettingsResponse struct {
	SponsorID       string    `json:"sponsor_id"`
	MinPointsPerTxn int       `json:"min_points_per_txn"`
	MaxPointsPerTxn int       `json:"max_points_per_txn"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type UpdateSettingsRequest struct {
	MinPointsPerTxn int `json:"min_points_per_txn"`
	MaxPointsPerTxn int `json:"max_points_per_txn"`
}

// Handler exposes a sponsor's own per-transaction limits.
type Handler struct {
	repo *PolicyRepo
	log  *slog.Logger
}

func NewHandler(repo *PolicyRepo, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, log: log}
}

// GetSettings handles GET /api/v1/sponsor/settings. A sponsor with no
// stored row sees the platform defaults.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s, err := h.repo.GetSettings(r.Context(), principal.ID)
	if err != nil {
		var nf *ledger.NotFoundError
		if errors.As(err, &nf) {
			_ = json.NewEncoder(w).Encode(SettingsResponse{
				SponsorID:       principal.ID.String(),
				MinPointsPerTxn: DefaultMinPointsPerTxn,
				MaxPointsPerTxn: DefaultMaxPointsPerTxn,
			})
			return
		}
		h.log.Error("get sponsor settings failed", "error", err)
		http.Error(w, "get settings failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SettingsResponse{
		SponsorID:       s.SponsorID.String(),
		MinPointsPerTxn: s.MinPointsPerTxn,
		MaxPointsPerTxn: s.MaxPointsPerTxn,
		UpdatedAt:       s.UpdatedAt,
	})
}

// UpdateSettings handles PUT /api/v1/sponsor/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.repo.UpsertSettings(r.Context(), principal.ID, req.MinPointsPerTxn, req.MaxPointsPerTxn); err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, ve.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("update sponsor settings failed", "error", err)
		http.Error(w, "update settings failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
