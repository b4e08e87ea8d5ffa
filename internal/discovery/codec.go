package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"unicode/utf8"
)

// Encode serializes a Query or an Announcement to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Query:
		if v.Action == "" {
			return nil, fmt.Errorf("%w: query without action", ErrEncode)
		}
		if v.Service == "" {
			return nil, fmt.Errorf("%w: query without service", ErrEncode)
		}
	case Announcement:
		if v.Service == "" {
			return nil, fmt.Errorf("%w: announcement without service", ErrEncode)
		}
		if v.IP == "" {
			return nil, fmt.Errorf("%w: announcement without ip", ErrEncode)
		}
		if net.ParseIP(v.IP) == nil {
			return nil, fmt.Errorf("%w: invalid ip %q", ErrEncode, v.IP)
		}
		if !validPort(v.Port) {
			return nil, fmt.Errorf("%w: announcement port %d out of range", ErrEncode, v.Port)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrEncode, m)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrEncode, len(data), MaxMessageSize)
	}
	return data, nil
}

// envelope accepts both message shapes; pointers tell absent fields apart.
type envelope struct {
	Action    *string `json:"action"`
	Service   *string `json:"service"`
	IP        *string `json:"ip"`
	Port      *int    `json:"port"`
	Timestamp *string `json:"timestamp"`
}

// Decode parses a datagram. A payload carrying an action is a Query, one
// carrying ip and port is an Announcement. Anything else, including a
// payload without a service, fails with ErrParse.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrParse)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrParse, len(data), MaxMessageSize)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not utf-8", ErrParse)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if env.Service == nil || *env.Service == "" {
		return nil, fmt.Errorf("%w: missing service", ErrParse)
	}

	if env.Action != nil {
		return Query{Action: *env.Action, Service: *env.Service}, nil
	}

	if env.IP == nil || env.Port == nil {
		return nil, fmt.Errorf("%w: neither a query nor an announcement", ErrParse)
	}
	if net.ParseIP(*env.IP) == nil {
		return nil, fmt.Errorf("%w: invalid ip %q", ErrParse, *env.IP)
	}
	if !validPort(*env.Port) {
		return nil, fmt.Errorf("%w: port %d out of range", ErrParse, *env.Port)
	}

	a := Announcement{Service: *env.Service, IP: *env.IP, Port: *env.Port}
	if env.Timestamp != nil {
		a.Timestamp = *env.Timestamp
	}
	return a, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
