package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haulpoints/backend/internal/cache"
	"github.com/haulpoints/backend/internal/models"
)

// Handler serves catalog item reads through the revalidating cache and
// exposes the cache state at the HTTP boundary: ETag over the stable
// item fields, X-Cache-Status, and a 304 short-circuit.
type Handler struct {
	cache        *cache.Cache[*models.ItemData]
	provider     ItemProvider
	ttl          time.Duration
	refreshAfter time.Duration
	log          *slog.Logger
}

func NewHandler(itemCache *cache.Cache[*models.ItemData], provider ItemProvider, ttl, refreshAfter time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{cache: itemCache, provider: provider, ttl: ttl, refreshAfter: refreshAfter, log: log}
}

// GetItem handles GET /api/v1/catalog/items/{item_id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("item_id")
	if itemID == "" {
		http.Error(w, "missing item id", http.StatusBadRequest)
		return
	}

	fetch := func(ctx context.Context) (*models.ItemData, error) {
		return h.provider.GetItemDetails(ctx, itemID)
	}
	item, stale, err := h.cache.GetOrRefresh(r.Context(), "item:"+itemID, fetch, h.ttl, h.refreshAfter)
	if err != nil {
		// Upstream failure on the synchronous path reads as a miss.
		h.log.Error("catalog lookup failed", "item_id", itemID, "error", err)
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}
	if item == nil {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	etag := contentETag(item)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("X-Cache-Status", cacheStatus(stale))

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

func cacheStatus(stale bool) string {
	if stale {
		return "stale"
	}
	return "fresh"
}

// contentETag hashes the stable item fields so clients can revalidate
// cheaply; volatile fields (description text) are deliberately excluded.
func contentETag(item *models.ItemData) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		item.ItemID, item.Title, item.PricePoints, item.Currency, item.ImageURL, item.ItemURL)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
