package server

import (
	"net/http"
	"time"

	"rwa/internal/metrics"
	"rwa/internal/server/authorityRouter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware(routePattern))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Key-ID", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/assets/{assetID}", s.GetAssetHandler)
	r.Get("/assets/{assetID}/exposure", s.ExposureHandler)
	r.Get("/assets/{assetID}/risk/latest", s.LatestRiskHandler)
	r.Get("/assets/{assetID}/risk/history", s.RiskHistoryHandler)
	r.Get("/assets/{assetID}/loans/liquidatable", s.LiquidationCandidatesHandler)
	r.Get("/loans/{assetID}/{borrower}", s.GetLoanHandler)
	r.Get("/loans/{assetID}/{borrower}/history", s.LoanHistoryHandler)

	// Group for routes requiring auth
	r.Group(func(protected chi.Router) {
		protected.Use(AuthMiddleware(s.authKeys, s.skew))

		protected.Post("/assets", s.RegisterAssetHandler)
		protected.Post("/assets/{assetID}/deactivate", s.DeactivateAssetHandler)
		protected.Post("/assets/{assetID}/risk", s.UpdateRiskHandler)
		protected.Post("/loans", s.CreateLoanHandler)
		protected.Post("/loans/{assetID}/{borrower}/repay", s.RepayLoanHandler)
		protected.Post("/loans/{assetID}/{borrower}/liquidate", s.LiquidateLoanHandler)
		protected.Post("/oracle/webhook", s.OracleWebhookHandler)

		protected.Mount("/configuration/authorities", authorityRouter.AuthorityRouter(s.engine.Authorities(), s.logger))
	})

	return r
}

// routePattern labels metrics by route template instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
