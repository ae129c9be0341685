package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/metrics"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Auth        AuthService
	Sync        SyncService
	Attachments AttachmentService
	Feed        FeedServer
	Secret      []byte
	Log         logging.Logger
	Metrics     *metrics.Metrics
}

// ServerOption configures the router.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware ahead of every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

type handlers struct {
	Deps
}

// NewRouter wires the API routes, /healthz and /metrics.
func NewRouter(deps Deps, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	h := &handlers{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route(common.APIVersionPath, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.With(h.authenticate).Post("/logout", h.logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/sync/pull", h.pull)
			r.Post("/sync/push", h.push)
			r.Get("/sync/status", h.status)
			r.Post("/sync/resolve", h.resolve)
			r.Get("/sync/subscribe", h.subscribe)
			r.Post("/attachments/presign", h.presign)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
