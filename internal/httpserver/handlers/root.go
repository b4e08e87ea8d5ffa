package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
)

type rootResponse struct {
	Message string `json:"message"`
	Docs    string `json:"docs"`
	Service string `json:"service,omitempty"`
}

// Root is what the client health check requests once an endpoint is discovered.
func Root(d deps.Deps) http.HandlerFunc {
	body := rootResponse{
		Message: "Server running",
		Docs:    "/docs",
		Service: d.ServiceName,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(body)
	}
}
