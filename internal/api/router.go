package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/mailindex/internal/api/middleware"
	"github.com/phrazzld/mailindex/internal/api/shared"
)

// RequestTimeout bounds the handling time of admin requests.
const RequestTimeout = 30 * time.Second

// RouterDeps holds the dependencies of the HTTP router.
type RouterDeps struct {
	Admin *AdminHandler
	Auth  *apiMiddleware.AdminAuth

	// Indexing reports whether the indexing service is running
	Indexing func() bool

	// Metrics serves the prometheus registry; /metrics is not mounted when nil
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(chimiddleware.Timeout(RequestTimeout))

		r.Post("/reindex", deps.Admin.StartReindex)
		r.Get("/reindex/{accountID}", deps.Admin.GetReindexStatus)
		r.Post("/reindex/{accountID}/abort", deps.Admin.AbortReindex)
		r.Delete("/reindex/{accountID}", deps.Admin.ResetReindex)

		r.Get("/queue", deps.Admin.GetQueue)
		r.Post("/queue/drain", deps.Admin.DrainQueue)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		running := deps.Indexing == nil || deps.Indexing()
		if !running {
			shared.RespondWithJSON(w, r, http.StatusServiceUnavailable,
				HealthResponse{Status: "unavailable", Indexing: false})
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Indexing: true})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}
