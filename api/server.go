/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/necessities/*    Necessity listing, consolidated view, origin swaps
  /api/substitutions/*  Save, adjust and move substitutions through stages
  /api/print/*          Print release, manifests and downloads
  /api/reference/*      Filter options and the week calendar
  /api/catalog/*        Generic product options
  /api/scenarios/*      Demo data
  /metrics              Prometheus scrape endpoint

ROLES:
  Every workflow route reads the acting role from the "role" query parameter
  (nutritionist, coordination, logistics). There is no authentication layer;
  the role only scopes what the caller sees and may change.

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/necessities", func(r chi.Router) {
			r.Get("/", h.ListNecessities)
			r.Get("/consolidated", h.ConsolidatedView)
			r.Post("/swap", h.SwapOrigin)
			r.Post("/undo-swap", h.UndoSwap)
		})

		r.Route("/substitutions", func(r chi.Router) {
			r.Get("/", h.ListSubstitutions)
			r.Post("/", h.SaveSubstitution)
			r.Post("/start", h.StartAdjustments)
			r.Post("/confirm", h.ConfirmSubstitutions)
			r.Post("/release", h.ReleaseSubstitutions)
			r.Post("/approve-all", h.ApproveAll)
			r.Post("/reject", h.RejectSubstitutions)
			r.Post("/logistics/confirm", h.ConfirmLogistics)
			r.Post("/{id}/approve", h.ApproveSubstitution)
			r.Post("/{id}/reject", h.RejectSubstitution)
			r.Put("/{id}/lines/{necessityID}", h.AdjustLine)
		})

		r.Route("/print", func(r chi.Router) {
			r.Post("/", h.MarkPrinted)
			r.Get("/manifest", h.GetManifest)
			r.Get("/export", h.ExportManifest)
		})

		r.Route("/reference", func(r chi.Router) {
			r.Get("/groups", h.ListGroups)
			r.Get("/supply-weeks", h.ListSupplyWeeks)
			r.Get("/routes", h.ListRoutes)
			r.Get("/consumption-week", h.GetConsumptionWeek)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/groups", h.ListCatalogGroups)
			r.Get("/origin-products", h.ListOriginProducts)
			r.Get("/generic-options", h.GetGenericOptions)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		r.Get("/health", h.Health)
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
