package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready     bool   `json:"ready"`
	Discovery string `json:"discovery"`
}

// Readyz stays ready when discovery is unavailable: HTTP keeps serving.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		mode := discovery.ModeDisabled
		if d.Discovery != nil {
			mode = d.Discovery.Status().Mode
		}
		_ = json.NewEncoder(w).Encode(readyzResponse{
			Ready:     true,
			Discovery: mode,
		})
	}
}
