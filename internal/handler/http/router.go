package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/cartkeeper/pkg/health"
	"github.com/utafrali/cartkeeper/pkg/middleware"
)

const serviceName = "cartd"

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	CORS middleware.CORSConfig
	// PprofCIDRs enables /debug/pprof for these networks when non-empty.
	PprofCIDRs []string
}

// NewRouter creates a chi router with all routes registered.
func NewRouter(h *Handler, healthHandler *health.Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Post("/items/{productId}/increment", h.IncrementItem)
			r.Post("/items/{productId}/decrement", h.DecrementItem)
			r.Delete("/items/{productId}", h.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.GetCheckout)
			r.Post("/", h.BeginCheckout)
			r.Post("/authorize", h.AuthorizeCheckout)
			r.Post("/cancel", h.CancelCheckout)
		})

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{number}", h.GetOrder)

		r.Delete("/session", h.EndSession)
	})

	return r
}
