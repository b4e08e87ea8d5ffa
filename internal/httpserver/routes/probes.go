package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/mw"
)

func init() { Register("probes", registerProbes) }

// registerProbes mounts the public root and the orchestrator probes.
func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/", handlers.Root(d))
	r.Get("/healthz", handlers.Healthz(d))
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Get("/readyz", handlers.Readyz(d))
}
