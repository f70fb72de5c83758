package http

import (
	"net/http"

	"PartsSettle/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	NotifyRate  float64
	NotifyBurst int
	Log         *zap.Logger
}

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, cfg ServerConfig) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.NotifyRate <= 0 {
		cfg.NotifyRate = 20
	}
	if cfg.NotifyBurst <= 0 {
		cfg.NotifyBurst = 40
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Log, cfg.Metrics))
	r.Use(cors)

	// The origin check needs the socket address, so this route never sees RealIP.
	limiter := newIPRateLimiter(cfg.NotifyRate, cfg.NotifyBurst)
	r.With(limiter.middleware).Post("/payments/notify", handler.PaymentNotify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		if cfg.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", handler.CreateOrder)
			r.Get("/{orderId}", handler.GetOrder)
			r.Patch("/{orderId}", handler.UpdateOrder)
		})
		r.Get("/parts/{partId}/quote", handler.QuotePart)
	})

	return &Server{Router: r}
}
