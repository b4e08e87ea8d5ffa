package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
	"github.com/MrSnakeDoc/stedge/internal/ratelimit"
)

// pollInterval bounds how long a blocked read waits before checking ctx.
const pollInterval = time.Second

// Outcome is what the Responder did with one datagram.
type Outcome int

const (
	OutcomeReplied Outcome = iota
	OutcomeIgnored
	OutcomeMalformed
	OutcomeThrottled
	OutcomeSendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type ResponderConfig struct {
	Service       string
	Ports         []int  // bind candidates, tried in order
	BindHost      string // ex: "0.0.0.0"
	AdvertisePort int    // HTTP port put in replies
}

// Responder answers discovery queries received on one bound UDP port.
type Responder struct {
	cfg      ResponderConfig
	resolver AddrResolver
	limiter  *ratelimit.Limiter
	metrics  *metrics.Discovery
	logger   logger.Logger
	listen   ListenFunc
	now      func() time.Time

	conn net.PacketConn
	port int
}

type ResponderOption func(*Responder)

// WithLimiter throttles queries per querier IP. A nil limiter disables it.
func WithLimiter(l *ratelimit.Limiter) ResponderOption {
	return func(r *Responder) { r.limiter = l }
}

func WithResponderMetrics(m *metrics.Discovery) ResponderOption {
	return func(r *Responder) { r.metrics = m }
}

// WithResponderListen replaces the socket factory used by Bind.
func WithResponderListen(fn ListenFunc) ResponderOption {
	return func(r *Responder) { r.listen = fn }
}

func NewResponder(cfg ResponderConfig, resolver AddrResolver, log logger.Logger, opts ...ResponderOption) *Responder {
	if cfg.BindHost == "" {
		cfg.BindHost = "0.0.0.0"
	}
	r := &Responder{
		cfg:      cfg,
		resolver: resolver,
		logger:   log.With(logger.String("component", "responder")),
		listen:   BroadcastListener(log),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind tries each candidate port in order; the first successful bind
// becomes the effective discovery port.
func (r *Responder) Bind(ctx context.Context) error {
	var errs []error
	for _, port := range r.cfg.Ports {
		conn, err := r.listen(ctx, r.cfg.BindHost, port)
		if err != nil {
			r.logger.Debug("discovery port unavailable, trying next",
				logger.Int("port", port),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("port %d: %w", port, err))
			continue
		}

		r.conn = conn
		r.port = port
		r.metrics.BoundPort(port)
		r.logger.Info("discovery responder bound",
			logger.String("host", r.cfg.BindHost),
			logger.Int("port", port))
		return nil
	}

	r.metrics.BoundPort(0)
	if len(errs) == 0 {
		return fmt.Errorf("%w: no candidate ports configured", ErrBind)
	}
	return fmt.Errorf("%w %v: %w", ErrBind, r.cfg.Ports, errors.Join(errs...))
}

// Port returns the effective discovery port, 0 before Bind succeeds.
func (r *Responder) Port() int { return r.port }

// Close releases the bound socket.
func (r *Responder) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Serve processes one datagram at a time until ctx is done or the socket
// is closed. Several Serve calls may share one bound Responder.
func (r *Responder) Serve(ctx context.Context) error {
	if r.conn == nil {
		return ErrNotBound
	}

	buf := make([]byte, MaxMessageSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Set read deadline to allow periodic ctx check
		if err := r.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil && errors.Is(err, net.ErrClosed) {
			return nil
		}

		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("discovery read failed", logger.Error(err))
			continue
		}

		outcome := r.Handle(from, buf[:n])
		r.metrics.Datagram(outcome.String())
	}
}

// Handle decides and performs the reply for one datagram.
func (r *Responder) Handle(from net.Addr, data []byte) Outcome {
	log := r.logger.With(logger.String("from", from.String()))

	msg, err := Decode(data)
	if err != nil {
		log.Debug("dropping malformed datagram", logger.Error(err))
		return OutcomeMalformed
	}

	q, ok := msg.(Query)
	if !ok || q.Action != ActionDiscover || q.Service != r.cfg.Service {
		log.Debug("ignoring datagram",
			logger.String("service", msg.ServiceName()))
		return OutcomeIgnored
	}

	peer := udpAddr(from)
	if peer != nil {
		if allowed, _, retry := r.limiter.Allow(peer.IP.String(), r.now()); !allowed {
			log.Debug("query throttled", logger.Duration("retry_after", retry))
			return OutcomeThrottled
		}
	}

	ip, routed := advertisedIP(r.resolver, peer)
	reply := Announcement{
		Service:   r.cfg.Service,
		IP:        ip.String(),
		Port:      r.cfg.AdvertisePort,
		Timestamp: r.now().Format(time.RFC3339Nano),
	}

	payload, err := Encode(reply)
	if err != nil {
		log.Error("cannot encode discovery reply", logger.Error(err))
		return OutcomeSendFailed
	}
	if _, err := r.conn.WriteTo(payload, from); err != nil {
		log.Warn("discovery reply failed", logger.Error(err))
		return OutcomeSendFailed
	}

	log.Info("answered discovery query",
		logger.String("advertised", reply.IP),
		logger.Int("port", reply.Port),
		logger.Bool("routed", routed))
	return OutcomeReplied
}

func udpAddr(a net.Addr) *net.UDPAddr {
	if u, ok := a.(*net.UDPAddr); ok {
		return u
	}
	u, err := net.ResolveUDPAddr("udp", a.String())
	if err != nil {
		return nil
	}
	return u
}
