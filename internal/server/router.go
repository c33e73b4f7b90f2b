package server

import (
	"net/http"

	"github.com/cloo-solutions/ragquery/internal/api/handlers"
	"github.com/cloo-solutions/ragquery/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

// Documents arrive as extracted text, so bodies may be large.
const maxBodyBytes int64 = 10 * 1024 * 1024

type RouterConfig struct {
	AuthValidator   middleware.AuthValidator
	QueryHandler    *handlers.QueryHandler
	DocumentHandler *handlers.DocumentHandler
	AuthHandler     *handlers.AuthHandler
	HealthHandler   *handlers.HealthHandler

	CORSOrigins []string
	// AllowSignup exposes POST /users without authentication.
	AllowSignup bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Live)
	r.Get("/health/metrics", cfg.HealthHandler.Metrics)

	// The query pipeline authenticates on its own.
	r.Post("/query", cfg.QueryHandler.Query)
	r.Options("/query", cfg.QueryHandler.Preflight)

	if cfg.AllowSignup {
		r.Post("/users", cfg.AuthHandler.CreateUser)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Create)
			r.Get("/", cfg.DocumentHandler.List)
			r.Post("/reprocess", cfg.DocumentHandler.Reprocess)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
			r.Post("/{id}/ingest", cfg.DocumentHandler.Ingest)
			r.Post("/{id}/attachment", cfg.DocumentHandler.InitAttachment)
			r.Put("/{id}/attachment", cfg.DocumentHandler.CompleteAttachment)
			r.Get("/{id}/attachment", cfg.DocumentHandler.AttachmentURL)
		})

		r.Route("/apikeys", func(r chi.Router) {
			r.Post("/", cfg.AuthHandler.CreateAPIKey)
			r.Get("/", cfg.AuthHandler.ListAPIKeys)
			r.Delete("/{id}", cfg.AuthHandler.RevokeAPIKey)
		})
	})

	return r
}
