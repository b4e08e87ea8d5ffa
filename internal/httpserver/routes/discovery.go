package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/mw"
)

func init() { Register("discovery", registerDiscovery) }

func registerDiscovery(r chi.Router, d deps.Deps) {
	admin := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

	admin.Get("/infra", handlers.Infra(d))
	admin.With(mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.AnnounceBurst,
		RefillPerIPPerMin: d.AnnounceBurst,
		MaxEntries:        1024,
		TrustProxy:        d.TrustProxy,
	})).Post("/announce", handlers.Announce(d))
	admin.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
}
