package discovery

import "errors"

var (
	// ErrParse marks a datagram that is not a valid discovery message.
	ErrParse = errors.New("discovery: malformed datagram")
	// ErrEncode marks a message that cannot be put on the wire.
	ErrEncode = errors.New("discovery: cannot encode message")
	// ErrBind is returned when none of the candidate ports could be bound.
	ErrBind = errors.New("discovery: no candidate port could be bound")
	// ErrNotBound is returned by Serve before a successful Bind.
	ErrNotBound = errors.New("discovery: responder is not bound")
)
