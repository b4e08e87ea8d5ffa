//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package discovery

import "errors"

// The Go runtime already enables SO_BROADCAST on datagram sockets here.
func setBroadcast(fd uintptr) error { return nil }

func setReuseAddr(fd uintptr) error {
	return errors.New("address reuse not supported on this platform")
}
