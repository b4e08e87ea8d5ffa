package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
	"github.com/MrSnakeDoc/stedge/internal/utils"
)

type ProberConfig struct {
	Service       string
	Ports         []int         // candidates, tried in order within each attempt
	BroadcastAddr string        // query destination host, ex: "255.255.255.255"
	ListenHost    string        // bind host for passive listening, ex: "0.0.0.0"
	Timeout       time.Duration // wait per port and attempt
	Retries       int           // number of passes over Ports
	RetryDelay    time.Duration // pause between passes, not after the last one
}

// Prober locates a service by broadcasting queries, or by waiting for an
// Announcer's broadcast.
type Prober struct {
	cfg     ProberConfig
	metrics *metrics.Discovery
	logger  logger.Logger
	listen  ListenFunc
}

type ProberOption func(*Prober)

func WithProberMetrics(m *metrics.Discovery) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// WithProberListen replaces the socket factory.
func WithProberListen(fn ListenFunc) ProberOption {
	return func(p *Prober) { p.listen = fn }
}

func NewProber(cfg ProberConfig, log logger.Logger, opts ...ProberOption) *Prober {
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	p := &Prober{
		cfg:    cfg,
		logger: log.With(logger.String("component", "prober")),
		listen: SharedBroadcastListener(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discover broadcasts a query to each candidate port and waits for a
// matching reply, for up to Retries passes. The first match wins.
// Not finding a server is (Endpoint{}, false, nil); an error is only
// returned when the probe socket cannot be used or ctx ends.
func (p *Prober) Discover(ctx context.Context) (Endpoint, bool, error) {
	query, err := Encode(Query{Action: ActionDiscover, Service: p.cfg.Service})
	if err != nil {
		return Endpoint{}, false, err
	}

	// One socket per call, reused across ports and attempts.
	conn, err := p.listen(ctx, "0.0.0.0", 0)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("open probe socket: %w", err)
	}
	defer utils.Close(conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	log := p.logger.With(logger.String("probe_id", uuid.NewString()))
	buf := make([]byte, MaxMessageSize)

	for attempt := 0; attempt < p.cfg.Retries; attempt++ {
		log.Info("discovery attempt",
			logger.Int("attempt", attempt+1),
			logger.Int("retries", p.cfg.Retries))

		for _, port := range p.cfg.Ports {
			if err := ctx.Err(); err != nil {
				return Endpoint{}, false, err
			}

			ep, ok := p.probePort(ctx, conn, port, query, buf, log)
			if ok {
				p.metrics.ProbeResult(true)
				log.Info("discovered server",
					logger.String("url", ep.BaseURL()),
					logger.Int("via_port", port))
				return ep, true, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return Endpoint{}, false, err
		}

		if attempt < p.cfg.Retries-1 {
			log.Warn("no response on any port, retrying",
				logger.Duration("delay", p.cfg.RetryDelay))
			if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
				return Endpoint{}, false, err
			}
		}
	}

	p.metrics.ProbeResult(false)
	log.Warn("could not discover server after all retries",
		logger.Int("retries", p.cfg.Retries),
		logger.Ints("ports", p.cfg.Ports))
	return Endpoint{}, false, nil
}

// probePort sends one query and reads at most one reply. A timeout, a send
// error and a non-matching reply all move on to the next port.
func (p *Prober) probePort(ctx context.Context, conn net.PacketConn, port int, query, buf []byte, log logger.Logger) (Endpoint, bool) {
	log = log.With(logger.Int("port", port))

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.cfg.BroadcastAddr, strconv.Itoa(port)))
	if err != nil {
		log.Debug("cannot resolve broadcast destination", logger.Error(err))
		return Endpoint{}, false
	}

	p.metrics.ProbeAttempt()
	log.Debug("broadcasting query")
	if _, err := conn.WriteTo(query, dst); err != nil {
		log.Debug("query send failed", logger.Error(err))
		return Endpoint{}, false
	}

	if err := conn.SetReadDeadline(deadline(ctx, p.cfg.Timeout)); err != nil {
		log.Debug("cannot set read deadline", logger.Error(err))
		return Endpoint{}, false
	}
	// A cancel that fired before this deadline was set would be undone by it.
	if ctx.Err() != nil {
		return Endpoint{}, false
	}

	n, from, err := conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			log.Debug("no response")
		} else {
			log.Debug("read failed", logger.Error(err))
		}
		return Endpoint{}, false
	}

	return p.match(buf[:n], from, log)
}

// Listen waits up to wait for an Announcement on port without sending
// anything. With the default socket factory the port is shared with other
// passive listeners on the same host.
func (p *Prober) Listen(ctx context.Context, port int, wait time.Duration) (Endpoint, bool, error) {
	conn, err := p.listen(ctx, p.cfg.ListenHost, port)
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("open passive listen socket on port %d: %w", port, err)
	}
	defer utils.Close(conn)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	log := p.logger.With(logger.String("mode", "passive"), logger.Int("port", port))
	log.Info("waiting for announcements", logger.Duration("wait", wait))

	until := deadline(ctx, wait)
	buf := make([]byte, MaxMessageSize)
	for {
		if err := ctx.Err(); err != nil {
			return Endpoint{}, false, err
		}
		if err := conn.SetReadDeadline(until); err != nil {
			return Endpoint{}, false, fmt.Errorf("set read deadline: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Endpoint{}, false, err
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Endpoint{}, false, ctx.Err()
			}
			if isTimeout(err) {
				log.Info("no announcement received")
				return Endpoint{}, false, nil
			}
			return Endpoint{}, false, fmt.Errorf("passive listen: %w", err)
		}

		if ep, ok := p.match(buf[:n], from, log); ok {
			log.Info("discovered server from announcement", logger.String("url", ep.BaseURL()))
			return ep, true, nil
		}
	}
}

// match accepts only an Announcement whose service equals the configured
// name exactly.
func (p *Prober) match(data []byte, from net.Addr, log logger.Logger) (Endpoint, bool) {
	msg, err := Decode(data)
	if err != nil {
		log.Debug("ignoring malformed reply",
			logger.String("from", from.String()),
			logger.Error(err))
		return Endpoint{}, false
	}

	a, ok := msg.(Announcement)
	if !ok || a.Service != p.cfg.Service {
		log.Debug("ignoring unrelated reply",
			logger.String("from", from.String()),
			logger.String("service", msg.ServiceName()))
		return Endpoint{}, false
	}
	return a.Endpoint(), true
}

// deadline is now+d, capped by ctx's own deadline.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(t) {
		return ctxDeadline
	}
	return t
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
