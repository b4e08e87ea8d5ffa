package discovery

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
	"github.com/MrSnakeDoc/stedge/internal/ratelimit"
)

// Discovery modes reported by Status.
const (
	ModeDiscoverable = "discoverable"
	ModeDegraded     = "degraded"
	ModeDisabled     = "disabled"
)

// ServiceConfig wires the server side of discovery.
type ServiceConfig struct {
	Responder        ResponderConfig
	ResponderEnabled bool
	Workers          int // concurrent Serve loops on the bound socket

	Announcer       AnnouncerConfig
	AnnounceEnabled bool

	FallbackTarget    string
	QueryBurst        int
	QueryRefillPerMin int

	// Optional overrides, mostly for tests.
	Resolver AddrResolver
	Listen   ListenFunc
}

// Service runs the Responder and Announcer next to the HTTP server. It never
// fails the process: a Responder that cannot bind leaves it degraded.
type Service struct {
	cfg       ServiceConfig
	logger    logger.Logger
	responder *Responder
	announcer *Announcer
	bindErr   error

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Status is a point-in-time view of the discovery subsystem.
type Status struct {
	Mode      string          `json:"mode"`
	Service   string          `json:"service"`
	Port      int             `json:"port,omitempty"`
	Workers   int             `json:"workers,omitempty"`
	BindError string          `json:"bind_error,omitempty"`
	Announcer *AnnouncerStats `json:"announcer,omitempty"`
}

// StartService binds the Responder and starts its workers and the
// Announcer. The returned Service stops when ctx is done or Stop is called.
func StartService(ctx context.Context, cfg ServiceConfig, log logger.Logger, m *metrics.Discovery) *Service {
	log = log.With(logger.String("service", cfg.Responder.Service))
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewRouteResolver(cfg.FallbackTarget)
	}
	listen := cfg.Listen
	if listen == nil {
		listen = BroadcastListener(log)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Service{cfg: cfg, logger: log, cancel: cancel}

	if cfg.ResponderEnabled {
		r := NewResponder(cfg.Responder, resolver, log,
			WithLimiter(ratelimit.New(ratelimit.Config{
				Burst:        cfg.QueryBurst,
				RefillPerMin: cfg.QueryRefillPerMin,
			})),
			WithResponderMetrics(m),
			WithResponderListen(listen),
		)
		if err := r.Bind(ctx); err != nil {
			s.bindErr = err
			log.Error("discovery unavailable, HTTP service continues without it", logger.Error(err))
		} else {
			s.responder = r
			for i := 0; i < cfg.Workers; i++ {
				s.wg.Add(1)
				go func(worker int) {
					defer s.wg.Done()
					if err := r.Serve(ctx); err != nil {
						log.Warn("responder worker stopped", logger.Int("worker", worker), logger.Error(err))
					}
				}(i)
			}
		}
	}

	if cfg.AnnounceEnabled {
		s.announcer = NewAnnouncer(cfg.Announcer, resolver, log,
			WithAnnouncerMetrics(m),
			WithAnnouncerListen(listen),
		)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.announcer.Run(ctx); err != nil {
				log.Error("announcer stopped", logger.Error(err))
			}
		}()
	}

	return s
}

// Stop ends every goroutine and releases the socket. It waits at most
// until ctx is done and is safe to call more than once.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.once.Do(func() {
		if s.responder != nil {
			if cerr := s.responder.Close(); cerr != nil {
				s.logger.Warn("closing discovery socket", logger.Error(cerr))
			}
		}
		s.logger.Info("discovery stopped")
	})
	return err
}

// AnnounceNow asks the Announcer for an immediate broadcast. enabled is
// false when no Announcer runs, queued is false when one is already pending.
func (s *Service) AnnounceNow() (enabled, queued bool) {
	if s.announcer == nil {
		return false, false
	}
	return true, s.announcer.AnnounceNow()
}

// Port returns the bound discovery port, 0 when discovery is unavailable.
func (s *Service) Port() int {
	if s.responder == nil {
		return 0
	}
	return s.responder.Port()
}

func (s *Service) Status() Status {
	st := Status{Service: s.cfg.Responder.Service}
	switch {
	case !s.cfg.ResponderEnabled:
		st.Mode = ModeDisabled
	case s.responder == nil:
		st.Mode = ModeDegraded
		if s.bindErr != nil {
			st.BindError = s.bindErr.Error()
		}
	default:
		st.Mode = ModeDiscoverable
		st.Port = s.responder.Port()
		st.Workers = s.cfg.Workers
	}
	if s.announcer != nil {
		stats := s.announcer.Stats()
		st.Announcer = &stats
	}
	return st
}
