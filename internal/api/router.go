package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/bankrecon/internal/config"
	"github.com/savegress/bankrecon/internal/matching"
	"github.com/savegress/bankrecon/internal/store"
)

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, st *store.Store, svc *matching.Service) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(st, svc),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1/recon", func(r chi.Router) {
		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handlers.ListAccounts)
			r.Post("/", s.handlers.CreateAccount)
			r.Get("/{accountID}", s.handlers.GetAccount)

			// Per account/period operations
			r.Route("/{accountID}/periods/{year}/{month}", func(r chi.Router) {
				r.Get("/extract", s.handlers.ListExtractMovements)
				r.Put("/extract", s.handlers.ReplaceExtract)
				r.Post("/extract/upload", s.handlers.UploadExtractCSV)

				r.Post("/matching/run", s.handlers.RunMatching)
				r.Get("/links", s.handlers.ListLinks)
				r.Post("/links/{linkID}/confirm", s.handlers.ConfirmLink)

				r.Get("/duplicates", s.handlers.DetectDuplicates)
				r.Post("/duplicates/invalidate", s.handlers.InvalidateDuplicates)

				r.Get("/reconciliation", s.handlers.GetReconciliation)
				r.Put("/reconciliation/extract-totals", s.handlers.SetExtractTotals)
				r.Post("/reconciliation/recalculate", s.handlers.RecalculateReconciliation)
				r.Post("/reconciliation/confirm", s.handlers.ConfirmReconciliation)
			})
		})

		// Ledger movements
		r.Route("/movements", func(r chi.Router) {
			r.Get("/", s.handlers.ListSystemMovements)
			r.Post("/", s.handlers.CreateSystemMovement)
		})

		// Match configs
		r.Route("/configs", func(r chi.Router) {
			r.Get("/", s.handlers.ListMatchConfigs)
			r.Post("/", s.handlers.CreateMatchConfig)
			r.Post("/{configID}/activate", s.handlers.ActivateMatchConfig)
		})

		// Classification catalog
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handlers.ListRules)
			r.Post("/", s.handlers.CreateRule)
			r.Delete("/{ruleID}", s.handlers.DeleteRule)
		})
		r.Route("/aliases", func(r chi.Router) {
			r.Get("/", s.handlers.ListAliases)
			r.Post("/", s.handlers.CreateAlias)
			r.Delete("/{aliasID}", s.handlers.DeleteAlias)
		})
		r.Post("/classify/preview", s.handlers.PreviewClassification)

		// Batch maintenance
		r.Post("/recalculate-all", s.handlers.RecalculateAll)
		r.Get("/reconciliations", s.handlers.ListReconciliations)
	})
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}
