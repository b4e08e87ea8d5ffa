package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stedge/internal/logger"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type group struct {
	name string
	reg  Registrar
	mws  []Middleware
}

var groups []group

// Register adds a named route group, mounted behind mws when given.
// Each route file calls it from init().
func Register(name string, reg Registrar, mws ...Middleware) {
	groups = append(groups, group{name: name, reg: reg, mws: mws})
}

// RegisterAll mounts every group in registration order. Called once from
// httpserver.Handler.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		router := r
		if len(g.mws) > 0 {
			router = r.With(g.mws...)
		}
		g.reg(router, d)
		if d.Logger != nil {
			d.Logger.Debug("route group mounted",
				logger.String("group", g.name),
				logger.Int("middlewares", len(g.mws)))
		}
	}
}
