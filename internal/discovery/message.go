// Package discovery implements the LAN broadcast discovery protocol: a
// server-side Responder and Announcer advertising the HTTP API endpoint,
// and a client-side Prober locating it.
//
// Queries are broadcast as {"action":"discover","service":"<name>"}; replies
// and announcements carry {"service","ip","port","timestamp"}. Every payload
// fits a single datagram of MaxMessageSize bytes.
package discovery

import (
	"net"
	"strconv"
)

const (
	// ActionDiscover is the only query action a Responder answers.
	ActionDiscover = "discover"
	// MaxMessageSize is the maximum UDP payload size (stay under MTU).
	MaxMessageSize = 1024
)

// Message is either a Query or an Announcement.
type Message interface {
	ServiceName() string
	isMessage()
}

// Query is broadcast by a Prober, one per candidate port and attempt.
type Query struct {
	Action  string `json:"action"`
	Service string `json:"service"`
}

// Announcement advertises the HTTP endpoint of a service. It is both the
// Responder's unicast reply and the Announcer's unsolicited broadcast.
type Announcement struct {
	Service   string `json:"service"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	Timestamp string `json:"timestamp,omitempty"` // informational only
}

func (q Query) ServiceName() string        { return q.Service }
func (a Announcement) ServiceName() string { return a.Service }

func (Query) isMessage()        {}
func (Announcement) isMessage() {}

// Endpoint returns the advertised host and port.
func (a Announcement) Endpoint() Endpoint {
	return Endpoint{Host: a.IP, Port: a.Port}
}

// Endpoint is a resolved service instance.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL returns the URL handed to the HTTP client, ex: http://192.168.1.100:5000
func (e Endpoint) BaseURL() string {
	return "http://" + e.Addr()
}

func (e Endpoint) String() string { return e.Addr() }
