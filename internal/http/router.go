package http

import (
	"net/http"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

// NewRouter wires the storefront API under /api/v1.
func NewRouter(sessions *session.Registry, cfg RouterConfig, log *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20 // 1MB
	}

	cartHandler := NewCartHandler(sessions, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(sessions, cfg.RequestTimeout)
	paymentHandler := NewPaymentHandler(sessions)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(log))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	health := func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.Get("/health", health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health)

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware)
			r.Use(BearerTokenMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
				r.Put("/shipping-address", cartHandler.SaveShippingAddress)
				r.Put("/payment-method", cartHandler.SavePaymentMethod)
				r.Put("/totals", cartHandler.SaveTotals)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Get("/", checkoutHandler.GetStatus)
				r.Post("/shipping", checkoutHandler.ContinueShipping)
				r.Post("/payment", checkoutHandler.ContinuePayment)
				r.Post("/orders", checkoutHandler.PlaceOrder)
				r.Put("/step", checkoutHandler.GoToStep)
			})

			r.Route("/payments/{order_number}", func(r chi.Router) {
				r.Get("/", paymentHandler.GetPayment)
				r.Delete("/", paymentHandler.StopPayment)
				r.Post("/reconcile", paymentHandler.Reconcile)
				r.Post("/manual-check", paymentHandler.ManualCheck)
				r.Post("/retry", paymentHandler.RetryPayment)
				r.Post("/support", paymentHandler.ContactSupport)
			})

			r.Delete("/session", cartHandler.DiscardSession)
		})
	})

	return r
}
