package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/metrics"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/middleware"
)

// NewRouter wires the REST endpoints, websocket upgrade, and operational
// endpoints behind the shared middleware stack.
func NewRouter(h *Handler, gateway http.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)

	// The upgrade needs to hijack the connection, which neither the
	// timeout handler nor the logging response wrapper supports, so the
	// websocket route skips them.
	if gateway != nil {
		r.Handle("/ws", gateway)
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Logger(logger, m))
		api.Use(middleware.Timeout(30 * time.Second))
		api.Use(middleware.ContentTypeJSON)

		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		api.Method(http.MethodGet, "/metrics", promhttp.Handler())

		h.Register(api)
	})

	return r
}
