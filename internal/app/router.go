package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/glasswerk-erp/glasswerk-authz/internal/audit"
	"github.com/glasswerk-erp/glasswerk-authz/internal/catalog"
	"github.com/glasswerk-erp/glasswerk-authz/internal/identity"
	"github.com/glasswerk-erp/glasswerk-authz/internal/matrix"
	"github.com/glasswerk-erp/glasswerk-authz/internal/observability"
	"github.com/glasswerk-erp/glasswerk-authz/internal/resolver"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	CatalogHandler  *catalog.Handler
	IdentityHandler *identity.Handler
	MatrixHandler   *matrix.Handler
	AuditHandler    *audit.Handler
	Authz           resolver.Middleware
	JobsHandler     interface{ MountRoutes(chi.Router) }
}

// NewRouter assembles the admin HTTP surface.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: params.Logger, Config: params.Config}) {
		r.Use(mw)
	}
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(params.Authz.RequireAny("manage roles", "manage permissions"))
			params.CatalogHandler.MountRoutes(r)
		})
		r.Route("/users", func(r chi.Router) {
			r.Use(params.Authz.RequireAny("manage users"))
			params.IdentityHandler.MountRoutes(r)
		})
		r.Route("/matrix", func(r chi.Router) {
			r.Use(params.Authz.RequireAll("manage roles", "manage permissions"))
			params.MatrixHandler.MountRoutes(r)
		})
		if params.AuditHandler != nil {
			r.Route("/audit", func(r chi.Router) {
				r.Use(params.Authz.RequireAny("manage roles", "manage users"))
				params.AuditHandler.MountRoutes(r)
			})
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobsHandler.MountRoutes(r)
		})
	}

	return r
}
