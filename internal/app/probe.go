package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/stedge/internal/config"
	"github.com/MrSnakeDoc/stedge/internal/discovery"
	"github.com/MrSnakeDoc/stedge/internal/healthcheck"
	"github.com/MrSnakeDoc/stedge/internal/logger"
)

var (
	// ErrNotFound means no server answered or announced itself.
	ErrNotFound = errors.New("no server discovered on the local network")
	// ErrUnhealthy means a server was discovered but its root did not answer.
	ErrUnhealthy = errors.New("discovered server is not healthy")
)

// Probe locates the server and checks that it serves. The endpoint is
// returned with ErrUnhealthy too, so callers can report where it was found.
func Probe(ctx context.Context, cfg *config.Config, log logger.Logger) (discovery.Endpoint, error) {
	log.Info("🔍 Discovering server",
		logger.String("service", cfg.Discovery.ServiceName),
		logger.Ints("ports", cfg.Discovery.Ports),
		logger.Bool("passive", cfg.ProbePassive))

	ep, found, err := Discover(ctx, cfg, log)
	if err != nil {
		return discovery.Endpoint{}, err
	}
	if !found {
		return discovery.Endpoint{}, ErrNotFound
	}

	if !healthcheck.New(log).Check(ctx, ep, cfg.HealthTimeout) {
		return ep, ErrUnhealthy
	}
	return ep, nil
}

// Discover runs the active probe and, when ProbePassive is set, listens for
// announcements at the same time. The first match wins and cancels the other.
func Discover(ctx context.Context, cfg *config.Config, log logger.Logger) (discovery.Endpoint, bool, error) {
	d := cfg.Discovery
	p := discovery.NewProber(discovery.ProberConfig{
		Service:       d.ServiceName,
		Ports:         d.Ports,
		BroadcastAddr: d.BroadcastAddr,
		ListenHost:    d.BindHost,
		Timeout:       d.Timeout,
		Retries:       d.Retries,
		RetryDelay:    d.RetryDelay,
	}, log)

	if !cfg.ProbePassive {
		return p.Discover(ctx)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		winner discovery.Endpoint
		found  bool
	)
	win := func(ep discovery.Endpoint) {
		once.Do(func() {
			winner, found = ep, true
			cancel()
		})
	}

	g, gctx := errgroup.WithContext(raceCtx)
	g.Go(func() error {
		ep, ok, err := p.Discover(gctx)
		if ok {
			win(ep)
			return nil
		}
		if err != nil && gctx.Err() != nil {
			return nil // lost the race, or ctx ended
		}
		return err
	})
	g.Go(func() error {
		ep, ok, err := p.Listen(gctx, d.AnnouncePort, activeBudget(d))
		if ok {
			win(ep)
			return nil
		}
		// Passive mode is best effort; never abort the active probe over it.
		if err != nil && gctx.Err() == nil {
			log.Warn("passive discovery unavailable", logger.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if found {
		return winner, true, nil
	}
	if ctx.Err() != nil {
		return discovery.Endpoint{}, false, ctx.Err()
	}
	return discovery.Endpoint{}, false, err
}

// activeBudget is the worst-case duration of an active probe.
func activeBudget(d config.Discovery) time.Duration {
	attempts := time.Duration(d.Retries)
	budget := attempts * time.Duration(len(d.Ports)) * d.Timeout
	if d.Retries > 1 {
		budget += (attempts - 1) * d.RetryDelay
	}
	return budget
}
