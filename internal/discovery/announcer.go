package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
	"github.com/MrSnakeDoc/stedge/internal/utils"
)

type AnnouncerConfig struct {
	Service       string
	AdvertisePort int           // HTTP port put in announcements
	BroadcastAddr string        // destination host, ex: "255.255.255.255"
	Port          int           // destination discovery port
	Interval      time.Duration // sleep between announcements
}

// Announcer periodically broadcasts an unsolicited Announcement.
type Announcer struct {
	cfg      AnnouncerConfig
	resolver AddrResolver
	metrics  *metrics.Discovery
	logger   logger.Logger
	listen   ListenFunc
	now      func() time.Time
	trigger  chan struct{}

	mu       sync.RWMutex
	last     time.Time
	lastErr  error
	running  bool
	sentOK   int
	sentFail int
}

type AnnouncerOption func(*Announcer)

func WithAnnouncerMetrics(m *metrics.Discovery) AnnouncerOption {
	return func(a *Announcer) { a.metrics = m }
}

// WithAnnouncerListen replaces the socket factory used by Run.
func WithAnnouncerListen(fn ListenFunc) AnnouncerOption {
	return func(a *Announcer) { a.listen = fn }
}

func NewAnnouncer(cfg AnnouncerConfig, resolver AddrResolver, log logger.Logger, opts ...AnnouncerOption) *Announcer {
	a := &Announcer{
		cfg:      cfg,
		resolver: resolver,
		logger:   log.With(logger.String("component", "announcer")),
		listen:   BroadcastListener(log),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run broadcasts immediately, then once per interval until ctx is done.
// Only failing to open the socket ends it early; send failures are logged
// and retried on the next cycle.
func (a *Announcer) Run(ctx context.Context) error {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(a.cfg.BroadcastAddr, strconv.Itoa(a.cfg.Port)))
	if err != nil {
		return fmt.Errorf("resolve announce destination: %w", err)
	}

	conn, err := a.listen(ctx, "0.0.0.0", 0)
	if err != nil {
		return fmt.Errorf("open announce socket: %w", err)
	}
	defer utils.MustClose(conn, "announce socket", a.logger)

	a.setRunning(true)
	defer a.setRunning(false)

	a.logger.Info("announcer started",
		logger.String("destination", dst.String()),
		logger.Duration("interval", a.cfg.Interval))

	for {
		// Failures are already logged and counted.
		_ = a.announce(conn, dst)

		timer := time.NewTimer(a.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-a.trigger:
			timer.Stop()
			a.logger.Info("manual announcement triggered")
		case <-timer.C:
		}
	}
}

// AnnounceNow requests an immediate announcement. It reports false when
// one is already pending.
func (a *Announcer) AnnounceNow() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (a *Announcer) announce(conn net.PacketConn, dst net.Addr) error {
	msg := Announcement{
		Service:   a.cfg.Service,
		IP:        a.resolver.BestGuess().String(),
		Port:      a.cfg.AdvertisePort,
		Timestamp: a.now().Format(time.RFC3339Nano),
	}

	payload, err := Encode(msg)
	if err == nil {
		_, err = conn.WriteTo(payload, dst)
	}
	a.record(err)
	a.metrics.Announcement(err == nil)

	if err != nil {
		a.logger.Warn("announcement broadcast failed", logger.Error(err))
		return err
	}
	a.logger.Debug("announcement sent",
		logger.String("ip", msg.IP),
		logger.Int("port", msg.Port))
	return nil
}

func (a *Announcer) record(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if err != nil {
		a.sentFail++
		return
	}
	a.sentOK++
	a.last = a.now()
}

func (a *Announcer) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

// AnnouncerStats is a snapshot of the announcer's progress.
type AnnouncerStats struct {
	Running       bool      `json:"running"`
	Sent          int       `json:"sent"`
	Failed        int       `json:"failed"`
	LastAnnounced time.Time `json:"last_announced,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

func (a *Announcer) Stats() AnnouncerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AnnouncerStats{
		Running:       a.running,
		Sent:          a.sentOK,
		Failed:        a.sentFail,
		LastAnnounced: a.last,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}
