package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
)

func newTestProber(ports []int, timeout time.Duration, retries int, opts ...ProberOption) *Prober {
	return NewProber(ProberConfig{
		Service:       testService,
		Ports:         ports,
		BroadcastAddr: "127.0.0.1",
		ListenHost:    "127.0.0.1",
		Timeout:       timeout,
		Retries:       retries,
		RetryDelay:    50 * time.Millisecond,
	}, logger.Nop(), opts...)
}

// startResponder binds a Responder on port and serves until the test ends.
func startResponder(t *testing.T, port int) *Responder {
	t.Helper()
	r := newTestResponder(t, []int{port}, loopbackResolver())
	require.NoError(t, r.Bind(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

// replyOnce answers the first datagram on conn with payload.
func replyOnce(conn net.PacketConn, payload string) {
	go func() {
		buf := make([]byte, MaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, from, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		_, _ = conn.WriteTo([]byte(payload), from)
	}()
}

func TestDiscoverNotFoundWithinBound(t *testing.T) {
	m := metrics.NewDiscovery(testService)
	p := newTestProber([]int{freePort(t), freePort(t)}, 100*time.Millisecond, 2, WithProberMetrics(m))

	start := time.Now()
	ep, found, err := p.Discover(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Endpoint{}, ep)
	// retries * ports * timeout + one delay between the two attempts
	assert.GreaterOrEqual(t, elapsed, 350*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	assert.Equal(t, float64(4), counterValue(t, m, "stedge_discovery_probe_attempts_total", nil))
	assert.Equal(t, float64(1), counterValue(t, m, "stedge_discovery_probe_results_total", map[string]string{"result": "not_found"}))
}

func TestDiscoverStopsAtFirstMatch(t *testing.T) {
	empty := freePort(t)
	r := startResponder(t, freePort(t))

	// Anything sent past the matching port lands here.
	after, afterPort := occupy(t)

	m := metrics.NewDiscovery(testService)
	p := newTestProber([]int{empty, r.Port(), afterPort}, 200*time.Millisecond, 3, WithProberMetrics(m))

	ep, found, err := p.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "http://127.0.0.1:5000", ep.BaseURL())

	assert.Equal(t, float64(2), counterValue(t, m, "stedge_discovery_probe_attempts_total", nil))
	expectSilence(t, after, 200*time.Millisecond)
}

func TestDiscoverIgnoresNonMatchingReplies(t *testing.T) {
	impostor, impostorPort := occupy(t)
	replyOnce(impostor, `{"service":"stedgeai-API","ip":"10.0.0.1","port":5000}`)

	garbage, garbagePort := occupy(t)
	replyOnce(garbage, `{"service":`)

	r := startResponder(t, freePort(t))

	p := newTestProber([]int{impostorPort, garbagePort, r.Port()}, 500*time.Millisecond, 1)
	ep, found, err := p.Discover(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Endpoint{Host: "127.0.0.1", Port: 5000}, ep)
}

func TestDiscoverHonorsContext(t *testing.T) {
	p := newTestProber([]int{freePort(t)}, 10*time.Second, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, found, err := p.Discover(ctx)
	assert.False(t, found)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// lateDeadlineConn cancels ctx during its first SetReadDeadline and lets the
// cancel-time deadline land before applying the caller's longer one.
type lateDeadlineConn struct {
	net.PacketConn
	cancel context.CancelFunc
	fired  atomic.Bool
}

func (c *lateDeadlineConn) SetReadDeadline(t time.Time) error {
	if c.fired.CompareAndSwap(false, true) {
		c.cancel()
		time.Sleep(50 * time.Millisecond)
	}
	return c.PacketConn.SetReadDeadline(t)
}

func lateDeadlineListen(cancel context.CancelFunc) ListenFunc {
	return func(ctx context.Context, host string, port int) (net.PacketConn, error) {
		conn, err := SharedBroadcastListener(logger.Nop())(ctx, host, port)
		if err != nil {
			return nil, err
		}
		return &lateDeadlineConn{PacketConn: conn, cancel: cancel}, nil
	}
}

func TestDiscoverCancelledWhileSettingDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestProber([]int{freePort(t)}, 10*time.Second, 1, WithProberListen(lateDeadlineListen(cancel)))

	start := time.Now()
	_, found, err := p.Discover(ctx)
	assert.False(t, found)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListenCancelledWhileSettingDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestProber(nil, time.Second, 1, WithProberListen(lateDeadlineListen(cancel)))

	start := time.Now()
	_, found, err := p.Listen(ctx, freePort(t), 10*time.Second)
	assert.False(t, found)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListenReceivesAnnouncement(t *testing.T) {
	port := freePort(t)
	p := newTestProber(nil, time.Second, 1)

	type result struct {
		ep    Endpoint
		found bool
		err   error
	}
	res := make(chan result, 1)
	go func() {
		ep, found, err := p.Listen(context.Background(), port, 3*time.Second)
		res <- result{ep, found, err}
	}()

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sender.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	announcement := []byte(`{"service":"stedgeai-api","ip":"192.168.1.100","port":5000,"timestamp":"2024-05-01T10:00:00Z"}`)
	unrelated := []byte(`{"service":"other","ip":"192.168.1.7","port":80}`)

	// Keep sending until the listener has bound and picked one up.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		_, _ = sender.WriteTo(unrelated, dst)
		_, _ = sender.WriteTo(announcement, dst)
		select {
		case r := <-res:
			require.NoError(t, r.err)
			require.True(t, r.found)
			assert.Equal(t, "http://192.168.1.100:5000", r.ep.BaseURL())
			return
		case <-tick.C:
		}
	}
}

func TestListenTimesOut(t *testing.T) {
	p := newTestProber(nil, time.Second, 1)
	_, found, err := p.Listen(context.Background(), freePort(t), 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)
}
