package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stedge/internal/logger"
)

// Announce triggers an immediate discovery announcement
func Announce(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, queued := false, false
		if d.Discovery != nil {
			enabled, queued = d.Discovery.AnnounceNow()
		}

		var (
			status int
			body   string
		)
		switch {
		case !enabled:
			status, body = http.StatusServiceUnavailable, "❌ Announcer is disabled\n"
			d.Logger.Warn("manual announcement requested but announcer is disabled",
				logger.String("remote_ip", r.RemoteAddr))
		case queued:
			status, body = http.StatusAccepted, "✅ Announcement triggered successfully\n"
			d.Logger.Info("manual announcement triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
		default:
			status, body = http.StatusTooManyRequests, "⏳ Announcement already pending, please wait\n"
			d.Logger.Warn("announcement already pending",
				logger.String("remote_ip", r.RemoteAddr))
		}

		w.WriteHeader(status)
		if _, err := w.Write([]byte(body)); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}
