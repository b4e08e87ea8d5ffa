package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/MrSnakeDoc/stedge/internal/utils"
)

// AddrResolver picks the local address advertised to a peer.
type AddrResolver interface {
	// LocalFor returns the local address the routing table selects to
	// reach peer. It is evaluated per query and never cached.
	LocalFor(peer *net.UDPAddr) (net.IP, error)
	// BestGuess returns a usable local address when no peer is known.
	BestGuess() net.IP
}

// RouteResolver asks the OS routing table by connecting a throwaway UDP
// socket. Connecting a datagram socket sends nothing.
type RouteResolver struct {
	fallbackTarget string
	dial           func(network, address string) (net.Conn, error)
	interfaceAddrs func() ([]net.Addr, error)
}

// NewRouteResolver returns a resolver whose best guess is the address used
// to reach fallbackTarget (ex: "8.8.8.8:80").
func NewRouteResolver(fallbackTarget string) *RouteResolver {
	return &RouteResolver{
		fallbackTarget: fallbackTarget,
		dial:           net.Dial,
		interfaceAddrs: net.InterfaceAddrs,
	}
}

func (r *RouteResolver) LocalFor(peer *net.UDPAddr) (net.IP, error) {
	if peer == nil || peer.IP == nil || peer.IP.IsUnspecified() {
		return nil, errors.New("no peer address to route to")
	}
	port := peer.Port
	if port == 0 {
		port = 9 // discard; the port only has to be valid
	}
	return r.localVia(net.JoinHostPort(peer.IP.String(), strconv.Itoa(port)))
}

// BestGuess tries the fallback target, then the first non-loopback IPv4
// interface address, then loopback.
func (r *RouteResolver) BestGuess() net.IP {
	if r.fallbackTarget != "" {
		if ip, err := r.localVia(r.fallbackTarget); err == nil {
			return ip
		}
	}
	if addrs, err := r.interfaceAddrs(); err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

func (r *RouteResolver) localVia(target string) (net.IP, error) {
	conn, err := r.dial("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("route lookup toward %s: %w", target, err)
	}
	defer utils.Close(conn)

	la, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || la.IP == nil || la.IP.IsUnspecified() {
		return nil, fmt.Errorf("route lookup toward %s: no local address", target)
	}
	if ip4 := la.IP.To4(); ip4 != nil {
		return ip4, nil
	}
	return nil, fmt.Errorf("route lookup toward %s: %s is not ipv4", target, la.IP)
}

// advertisedIP resolves the address for peer, falling back to the best
// guess instead of failing the reply.
func advertisedIP(r AddrResolver, peer *net.UDPAddr) (ip net.IP, routed bool) {
	if peer != nil {
		if ip, err := r.LocalFor(peer); err == nil {
			return ip, true
		}
	}
	return r.BestGuess(), false
}
