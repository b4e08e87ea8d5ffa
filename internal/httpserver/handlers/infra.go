package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
)

type componentStatus struct {
	OK            bool   `json:"ok"`
	Port          int    `json:"port,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	Sent          *int   `json:"sent,omitempty"`
	Failed        *int   `json:"failed,omitempty"`
	LastAnnounced string `json:"last_announced,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Impact        string `json:"impact,omitempty"`
	Error         string `json:"error,omitempty"`
}

type infraResponse struct {
	DiscoveryMode string                     `json:"discovery_mode"`
	Service       string                     `json:"service"`
	Components    map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var st discovery.Status
		if d.Discovery != nil {
			st = d.Discovery.Status()
		} else {
			st = discovery.Status{Mode: discovery.ModeDisabled, Service: d.ServiceName}
		}

		components := map[string]componentStatus{
			"http":      {OK: true, Mode: "serving"},
			"responder": responderStatus(st),
			"announcer": announcerStatus(st.Announcer),
		}

		response := infraResponse{
			DiscoveryMode: determineDiscoveryMode(components),
			Service:       st.Service,
			Components:    components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineDiscoveryMode(components map[string]componentStatus) string {
	// Clients can only find us through the responder
	if responder, exists := components["responder"]; exists && responder.OK {
		return discovery.ModeDiscoverable
	}
	return discovery.ModeDegraded
}

func responderStatus(st discovery.Status) componentStatus {
	switch st.Mode {
	case discovery.ModeDiscoverable:
		return componentStatus{
			OK:      true,
			Port:    st.Port,
			Workers: st.Workers,
			Mode:    "listening",
			Impact:  "queries-answered",
		}
	case discovery.ModeDegraded:
		return componentStatus{
			OK:     false,
			Mode:   "unbound",
			Impact: "clients-cannot-discover",
			Error:  st.BindError,
		}
	default:
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "clients-cannot-discover",
		}
	}
}

func announcerStatus(stats *discovery.AnnouncerStats) componentStatus {
	if stats == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "passive-discovery-disabled",
		}
	}

	lastAnnounced := "never"
	if !stats.LastAnnounced.IsZero() {
		lastAnnounced = stats.LastAnnounced.Format(time.RFC3339)
	}
	status := componentStatus{
		OK:            stats.Running && stats.LastError == "",
		Sent:          &stats.Sent,
		Failed:        &stats.Failed,
		LastAnnounced: lastAnnounced,
		Mode:          "broadcasting",
		Error:         stats.LastError,
	}
	if !stats.Running {
		status.Mode = "stopped"
	}
	return status
}
