package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/glasswerk-erp/glasswerk-authz/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the shared middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	requests := 120
	window := time.Minute
	if cfg.Config != nil {
		if cfg.Config.RateLimitRequests > 0 {
			requests = cfg.Config.RateLimitRequests
		}
		if cfg.Config.RateLimitWindow > 0 {
			window = cfg.Config.RateLimitWindow
		}
	}

	return []func(http.Handler) http.Handler{
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		httprate.LimitByIP(requests, window),
		secureMiddleware.Handler,
		PrincipalMiddleware(cfg.Config, cfg.Logger),
	}
}

// PrincipalMiddleware extracts the caller identity forwarded by the fronting
// application. Login and session management are external collaborators; this
// core trusts the proxy-set headers.
func PrincipalMiddleware(cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	defaultGuard := "web"
	if cfg != nil && cfg.DefaultGuard != "" {
		defaultGuard = cfg.DefaultGuard
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("X-Auth-User"))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				if logger != nil {
					logger.Warn("parse auth user header", slog.String("value", raw))
				}
				next.ServeHTTP(w, r)
				return
			}
			guard := strings.TrimSpace(r.Header.Get("X-Auth-Guard"))
			if guard == "" {
				guard = defaultGuard
			}
			ctx := shared.WithPrincipal(r.Context(), shared.Principal{UserID: userID, Guard: guard})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
