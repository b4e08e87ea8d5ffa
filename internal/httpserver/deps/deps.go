package deps

import (
	"time"

	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
)

// DiscoveryService is the part of discovery.Service the handlers use.
type DiscoveryService interface {
	Status() discovery.Status
	AnnounceNow() (enabled, queued bool)
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	ServiceName   string             // discovery service name, echoed on the root route
	Discovery     DiscoveryService   // nil when discovery was never started
	Metrics       *metrics.Discovery // registry served on /metrics
	AllowedCIDRS  []string           // IPs allowed to access admin endpoints
	TrustProxy    bool               // true if running behind a trusted reverse proxy
	AnnounceBurst int                // POST /announce requests per client before throttling, 0 disables
}
