/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind the web tier's proxy
  3. Logger:     zap request log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/products/*        Catalog feed
  /api/orders/*          Checkout feed and order fulfillment
  /api/balances/*        Balances, ledger, stock-take, reservations
  /api/adjustments       Manual movements
  /api/purchase-orders/* Purchase receiving
  /api/sales/*           Direct sales, payment status, returns
  /api/reports/*         Read-only projections
  /api/admin/reset       Database reset (ADMIN_RESET_ENABLED only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.SaveOrder)
			r.Post("/{id}/fulfill", h.FulfillOrder)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.ListBalances)
			r.Get("/{productID}", h.GetBalance)
			r.Get("/{productID}/movements", h.ListMovements)
			r.Put("/{productID}/stock-take", h.StockTake)
			r.Post("/{productID}/reservations", h.Reserve)
			r.Post("/{productID}/release", h.Release)
			r.Put("/{productID}/reorder-policy", h.SetReorderPolicy)
		})

		r.Post("/adjustments", h.CreateAdjustment)

		r.Route("/purchase-orders", func(r chi.Router) {
			r.Post("/", h.CreatePurchaseOrder)
			r.Get("/{id}", h.GetPurchaseOrder)
			r.Post("/{id}/submit", h.SubmitPurchaseOrder)
			r.Post("/{id}/receive", h.ReceivePurchaseOrder)
			r.Post("/{id}/cancel", h.CancelPurchaseOrder)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.CreateDirectSale)
			r.Get("/{id}", h.GetSale)
			r.Put("/{id}/payment-status", h.UpdatePaymentStatus)
			r.Post("/{id}/returns", h.RecordReturn)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/sales", h.SalesReport)
			r.Get("/financial", h.FinancialReport)
			r.Get("/low-stock", h.LowStockReport)
			r.Get("/reconciliation", h.ReconciliationReport)
		})

		if h.AllowReset {
			r.Post("/admin/reset", h.ResetDatabase)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
