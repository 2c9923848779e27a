package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haulpoints/backend/internal/cache"
	"github.com/haulpoints/backend/internal/models"
)

type stubProvider struct {
	items map[string]*models.ItemData
	calls atomic.Int64
}

func (p *stubProvider) GetItemDetails(_ context.Context, itemID string) (*models.ItemData, error) {
	p.calls.Add(1)
	return p.items[itemID], nil
}

func testItem() *models.ItemData {
	return &models.ItemData{
		ItemID:      "v1|12345|0",
		Title:       "Wireless Headset",
		PricePoints: 450,
		Currency:    "USD",
		ItemURL:     "https://market.example.com/itm/12345",
	}
}

func newTestHandler(t *testing.T, refreshAfter time.Duration) (*Handler, *stubProvider) {
	t.Helper()
	c := cache.New[*models.ItemData](cache.Options{QueueSize: 4})
	t.Cleanup(c.Close)
	provider := &stubProvider{items: map[string]*models.ItemData{"v1|12345|0": testItem()}}
	return NewHandler(c, provider, time.Hour, refreshAfter, nil), provider
}

func getItem(t *testing.T, h *Handler, itemID, ifNoneMatch string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/items/"+itemID, nil)
	req.SetPathValue("item_id", itemID)
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	rec := httptest.NewRecorder()
	h.GetItem(rec, req)
	return rec
}

func TestGetItem_FreshResponseHeaders(t *testing.T) {
	h, provider := newTestHandler(t, time.Hour)

	rec := getItem(t, h, "v1|12345|0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache-Status"); got != "fresh" {
		t.Errorf("X-Cache-Status: got %q, want fresh", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("Cache-Control: got %q", got)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("ETag header missing")
	}
	if provider.calls.Load() != 1 {
		t.Errorf("provider calls: got %d, want 1", provider.calls.Load())
	}

	// Second request is a fresh cache hit: no upstream call.
	getItem(t, h, "v1|12345|0", "")
	if provider.calls.Load() != 1 {
		t.Errorf("fresh hit must not call upstream: calls=%d", provider.calls.Load())
	}
}

func TestGetItem_NotModified(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)

	first := getItem(t, h, "v1|12345|0", "")
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag on first response")
	}

	second := getItem(t, h, "v1|12345|0", etag)
	if second.Code != http.StatusNotModified {
		t.Fatalf("status: got %d, want 304", second.Code)
	}
	if second.Body.Len() != 0 {
		t.Error("304 must not carry a body")
	}
	if second.Header().Get("ETag") != etag {
		t.Error("304 should repeat the ETag")
	}
}

func TestGetItem_StaleHeader(t *testing.T) {
	h, _ := newTestHandler(t, time.Millisecond)

	getItem(t, h, "v1|12345|0", "")
	time.Sleep(10 * time.Millisecond)

	rec := getItem(t, h, "v1|12345|0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache-Status"); got != "stale" {
		t.Errorf("X-Cache-Status: got %q, want stale", got)
	}
}

func TestGetItem_UnknownItem(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)

	rec := getItem(t, h, "v1|99999|0", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}
