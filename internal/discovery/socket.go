package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"

	"github.com/MrSnakeDoc/stedge/internal/logger"
)

// ListenFunc opens a UDP socket on host:port. Port 0 picks an ephemeral port.
type ListenFunc func(ctx context.Context, host string, port int) (net.PacketConn, error)

// BroadcastListener returns a ListenFunc opening IPv4 sockets able to send
// and receive broadcast datagrams. The port is held exclusively, so a busy
// port fails to bind even when its owner enabled address reuse.
func BroadcastListener(log logger.Logger) ListenFunc {
	return broadcastListener(log, false)
}

// SharedBroadcastListener is BroadcastListener with address reuse, so
// passive listeners can share one announcement port. Where the platform
// refuses reuse the bind still proceeds.
func SharedBroadcastListener(log logger.Logger) ListenFunc {
	return broadcastListener(log, true)
}

func broadcastListener(log logger.Logger, reuse bool) ListenFunc {
	return func(ctx context.Context, host string, port int) (net.PacketConn, error) {
		var reuseErr error
		lc := net.ListenConfig{
			Control: func(network, address string, c syscall.RawConn) error {
				var broadcastErr error
				if err := c.Control(func(fd uintptr) {
					broadcastErr = setBroadcast(fd)
					if reuse {
						reuseErr = setReuseAddr(fd)
					}
				}); err != nil {
					return err
				}
				return broadcastErr
			},
		}

		conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
		if reuseErr != nil {
			log.Debug("address reuse unavailable on discovery socket",
				logger.Int("port", port),
				logger.Error(reuseErr))
		}
		return conn, nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
