package transport

import (
	"net"

	"github.com/joshuafuller/beacon/internal/errors"
)

// Config selects which address families a SocketSet opens and how their
// sockets are configured.
type Config struct {
	// Interfaces restricts which network interfaces are joined. Empty
	// means every multicast-capable interface on the host.
	Interfaces []net.Interface

	// NetworkInterface, when non-nil, also pins the unicast sockets to
	// this interface's addresses so the OS routes outbound unicast
	// through it.
	NetworkInterface *net.Interface

	// ReusePort sets SO_REUSEPORT (ignored on Windows), letting more
	// than one process bind port 5353 on the same host.
	ReusePort bool

	// MulticastHops is the TTL/hop-limit applied to outbound multicast.
	// Zero means the link-local default of 1 (RFC 6762 §11).
	MulticastHops int

	// WithUnicast additionally opens an ephemeral-port unicast socket
	// per family. Queriers need it for the initial query and unicast
	// replies; responders leave it off.
	WithUnicast bool

	DisableIPv4 bool
	DisableIPv6 bool

	Logger Logger
}

// SocketSet owns the sockets for the address families a responder or
// querier was configured to use. At least one family must come up or
// construction fails with *errors.NoUsableSocketError.
//
// With Config.WithUnicast set, a family counts as usable only when both
// its multicast and its unicast socket came up; a half-open family is
// closed and dropped.
type SocketSet struct {
	V4       *MulticastV4Transport
	V6       *MulticastV6Transport
	Unicast4 *UnicastTransport
	Unicast6 *UnicastTransport
}

// NewSocketSet opens the configured address families and joins their
// mDNS multicast groups. Disabling both families is an
// *errors.ArgumentError since there is nothing left to bind.
func NewSocketSet(cfg Config) (*SocketSet, error) {
	if cfg.DisableIPv4 && cfg.DisableIPv6 {
		return nil, &errors.ArgumentError{Argument: "DisableIPv4/DisableIPv6", Details: "at least one address family must be enabled"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	set := &SocketSet{}

	hops := cfg.MulticastHops
	if hops == 0 {
		hops = 1
	}

	if !cfg.DisableIPv4 {
		v4, err := NewMulticastV4Transport(cfg.Interfaces, cfg.ReusePort, hops, logger)
		if err != nil {
			logger.Printf("IPv4 socket unavailable: %v", err)
		} else if cfg.WithUnicast {
			u4, uerr := NewUnicastTransport("udp4", cfg.NetworkInterface)
			if uerr != nil {
				logger.Printf("IPv4 unicast socket unavailable, dropping family: %v", uerr)
				_ = v4.Close()
			} else {
				set.V4, set.Unicast4 = v4, u4
			}
		} else {
			set.V4 = v4
		}
	}

	if !cfg.DisableIPv6 {
		v6, err := NewMulticastV6Transport(cfg.Interfaces, cfg.ReusePort, hops, logger)
		if err != nil {
			logger.Printf("IPv6 socket unavailable: %v", err)
		} else if cfg.WithUnicast {
			u6, uerr := NewUnicastTransport("udp6", cfg.NetworkInterface)
			if uerr != nil {
				logger.Printf("IPv6 unicast socket unavailable, dropping family: %v", uerr)
				_ = v6.Close()
			} else {
				set.V6, set.Unicast6 = v6, u6
			}
		} else {
			set.V6 = v6
		}
	}

	if set.V4 == nil && set.V6 == nil {
		return nil, &errors.NoUsableSocketError{Details: "neither IPv4 nor IPv6 produced a usable socket pair"}
	}
	return set, nil
}

// Multicast returns the open multicast transports.
func (s *SocketSet) Multicast() []GroupTransport {
	var out []GroupTransport
	if s.V4 != nil {
		out = append(out, s.V4)
	}
	if s.V6 != nil {
		out = append(out, s.V6)
	}
	return out
}

// All returns every open transport in the set.
func (s *SocketSet) All() []Transport {
	var out []Transport
	for _, t := range s.Multicast() {
		out = append(out, t)
	}
	if s.Unicast4 != nil {
		out = append(out, s.Unicast4)
	}
	if s.Unicast6 != nil {
		out = append(out, s.Unicast6)
	}
	return out
}

// Close closes every open transport in the set.
func (s *SocketSet) Close() error {
	var firstErr error
	for _, t := range s.All() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
