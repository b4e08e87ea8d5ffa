package discovery

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stedge/internal/logger"
	"github.com/MrSnakeDoc/stedge/internal/metrics"
)

const testService = "stedgeai-api"

// fakeResolver routes by peer IP; unknown peers fail over to best.
type fakeResolver struct {
	routes map[string]string
	best   string
}

func (f fakeResolver) LocalFor(peer *net.UDPAddr) (net.IP, error) {
	if peer == nil {
		return nil, errors.New("no peer")
	}
	if ip, ok := f.routes[peer.IP.String()]; ok {
		return net.ParseIP(ip).To4(), nil
	}
	return nil, errors.New("no route")
}

func (f fakeResolver) BestGuess() net.IP {
	return net.ParseIP(f.best).To4()
}

func loopbackResolver() fakeResolver {
	return fakeResolver{routes: map[string]string{"127.0.0.1": "127.0.0.1"}, best: "127.0.0.1"}
}

type sentPacket struct {
	to   net.Addr
	data []byte
}

// recordingConn is a PacketConn that only records writes.
type recordingConn struct {
	net.PacketConn

	mu      sync.Mutex
	writes  []sentPacket
	failErr error
	failN   int // when > 0, only the first failN writes fail
	failed  int
}

func (c *recordingConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil && (c.failN == 0 || c.failed < c.failN) {
		c.failed++
		return 0, c.failErr
	}
	c.writes = append(c.writes, sentPacket{to: addr, data: append([]byte(nil), p...)})
	return len(p), nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) sent() []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentPacket(nil), c.writes...)
}

// freePort returns a UDP port that was free a moment ago on loopback.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

// occupy binds a loopback port without address reuse, so a later bind on
// the same port fails.
func occupy(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readMessage(t *testing.T, conn net.PacketConn, wait time.Duration) (Message, net.Addr) {
	t.Helper()
	buf := make([]byte, MaxMessageSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	n, from, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	msg, err := Decode(buf[:n])
	require.NoError(t, err)
	return msg, from
}

func expectSilence(t *testing.T, conn net.PacketConn, wait time.Duration) {
	t.Helper()
	buf := make([]byte, MaxMessageSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, _, err := conn.ReadFrom(buf)
	require.Error(t, err)
	require.True(t, isTimeout(err), "expected timeout, got %v", err)
}

func counterValue(t *testing.T, m *metrics.Discovery, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			total += mt.GetCounter().GetValue()
		}
	}
	return total
}

func newTestResponder(t *testing.T, ports []int, resolver AddrResolver, opts ...ResponderOption) *Responder {
	t.Helper()
	cfg := ResponderConfig{
		Service:       testService,
		Ports:         ports,
		BindHost:      "127.0.0.1",
		AdvertisePort: 5000,
	}
	r := NewResponder(cfg, resolver, logger.Nop(), opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}
