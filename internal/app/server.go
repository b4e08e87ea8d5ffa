package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/stedge/internal/config"
	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/httpserver"
	"github.com/MrSnakeDoc/stedge/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
	"github.com/MrSnakeDoc/stedge/internal/version"
)

// announceBurst bounds manual POST /announce calls per client.
const announceBurst = 6

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	metrics *metrics.Discovery
}

func New() *App {
	cfg := config.Load()
	return NewWithConfig(cfg, logger.New(cfg.LogLevel, cfg.PrettyLog))
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(cfg *config.Config, loggerClient logger.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  loggerClient,
		metrics: metrics.NewDiscovery(cfg.Discovery.ServiceName),
	}
}

// Run serves until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.ListenPort, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs discovery and the HTTP server on ln until ctx is done. Only an
// HTTP failure is returned; discovery problems are logged and tolerated.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Infof("🚀 Starting stedge %s on %s", version.String(), ln.Addr())

	disc := discovery.StartService(ctx, serviceConfig(a.cfg), a.logger, a.metrics)

	d := deps.Deps{
		Logger:        a.logger,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		ServiceName:   a.cfg.Discovery.ServiceName,
		Discovery:     disc,
		Metrics:       a.metrics,
		AllowedCIDRS:  a.cfg.AllowedCIDRS,
		TrustProxy:    a.cfg.TrustProxy,
		AnnounceBurst: announceBurst,
	}
	server := httpserver.New(a.cfg.ListenPort, a.logger, d)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := disc.Stop(shutdownCtx); err != nil {
			a.logger.Warn("discovery did not stop in time", logger.Error(err))
		}
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("✅ stedge stopped cleanly")
	return nil
}

func serviceConfig(cfg *config.Config) discovery.ServiceConfig {
	d := cfg.Discovery
	return discovery.ServiceConfig{
		Responder: discovery.ResponderConfig{
			Service:       d.ServiceName,
			Ports:         d.Ports,
			BindHost:      d.BindHost,
			AdvertisePort: cfg.AdvertisePort,
		},
		ResponderEnabled: d.ResponderEnabled,
		Workers:          d.ResponderWorkers,
		Announcer: discovery.AnnouncerConfig{
			Service:       d.ServiceName,
			AdvertisePort: cfg.AdvertisePort,
			BroadcastAddr: d.BroadcastAddr,
			Port:          d.AnnouncePort,
			Interval:      d.AnnounceInterval,
		},
		AnnounceEnabled:   d.AnnounceEnabled,
		FallbackTarget:    d.FallbackTarget,
		QueryBurst:        d.QueryBurst,
		QueryRefillPerMin: d.QueryRefillPerMin,
	}
}
