package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/stedge/internal/ratelimit"
	"github.com/MrSnakeDoc/stedge/internal/utils"
)

type RateLimitConfig struct {
	Burst             int
	RefillPerIPPerMin int
	MaxEntries        int
	TrustProxy        bool // resolve IP from proxy headers when true
}

// RateLimit throttles per client IP. A zero Burst disables it.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	l := ratelimit.New(ratelimit.Config{
		Burst:        cfg.Burst,
		RefillPerMin: cfg.RefillPerIPPerMin,
		MaxEntries:   cfg.MaxEntries,
	})
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	limitStr := strconv.Itoa(l.Burst())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := utils.ClientIP(r, cfg.TrustProxy)

			ok, remaining, retry := l.Allow(key, time.Now())
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				w.Header().Set("X-RateLimit-Limit", limitStr)
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limitStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
