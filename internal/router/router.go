package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haulpoints/backend/internal/auth"
	"github.com/haulpoints/backend/internal/catalog"
	"github.com/haulpoints/backend/internal/disputes"
	"github.com/haulpoints/backend/internal/ledger"
	"github.com/haulpoints/backend/internal/middleware"
	"github.com/haulpoints/backend/internal/models"
	"github.com/haulpoints/backend/internal/orders"
	"github.com/haulpoints/backend/internal/sponsor"
)

// New returns an http.Handler serving the API under /api/v1.
// sessionAuth is the bearer-token middleware; role gates layer on top
// of it per route.
func New(
	authHandler *auth.Handler,
	pointsHandler *ledger.Handler,
	disputesHandler *disputes.Handler,
	catalogHandler *catalog.Handler,
	ordersHandler *orders.Handler,
	sponsorHandler *sponsor.Handler,
	sessionAuth func(http.Handler) http.Handler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	adjusters := middleware.RequireRole(models.RoleSponsor, models.RoleAdmin)
	driversOnly := middleware.RequireRole(models.RoleDriver)
	sponsorsOnly := middleware.RequireRole(models.RoleSponsor)

	// Auth
	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)
	mux.Handle("POST "+base+"/auth/impersonate", sessionAuth(http.HandlerFunc(authHandler.Impersonate)))

	// Points ledger
	mux.Handle("POST "+base+"/points/adjust", sessionAuth(adjusters(http.HandlerFunc(pointsHandler.Adjust))))
	mux.Handle("POST "+base+"/points/bulk-adjust", sessionAuth(adjusters(http.HandlerFunc(pointsHandler.BulkAdjust))))
	mux.Handle("GET "+base+"/points/history", sessionAuth(http.HandlerFunc(pointsHandler.History)))
	mux.Handle("GET "+base+"/points/balance", sessionAuth(http.HandlerFunc(pointsHandler.Balance)))

	// Disputes
	mux.Handle("POST "+base+"/disputes", sessionAuth(driversOnly(http.HandlerFunc(disputesHandler.File))))
	mux.Handle("GET "+base+"/disputes", sessionAuth(driversOnly(http.HandlerFunc(disputesHandler.List))))
	mux.Handle("POST "+base+"/disputes/{dispute_id}/approve", sessionAuth(sponsorsOnly(http.HandlerFunc(disputesHandler.Approve))))
	mux.Handle("POST "+base+"/disputes/{dispute_id}/deny", sessionAuth(sponsorsOnly(http.HandlerFunc(disputesHandler.Deny))))

	// Catalog reads are public; responses are cacheable.
	mux.HandleFunc("GET "+base+"/catalog/items/{item_id}", catalogHandler.GetItem)

	// Orders (catalog redemptions)
	mux.Handle("POST "+base+"/orders", sessionAuth(driversOnly(http.HandlerFunc(ordersHandler.Place))))
	mux.Handle("GET "+base+"/orders", sessionAuth(driversOnly(http.HandlerFunc(ordersHandler.List))))

	// Sponsor settings
	mux.Handle("GET "+base+"/sponsor/settings", sessionAuth(sponsorsOnly(http.HandlerFunc(sponsorHandler.GetSettings))))
	mux.Handle("PUT "+base+"/sponsor/settings", sessionAuth(sponsorsOnly(http.HandlerFunc(sponsorHandler.UpdateSettings))))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
