package responder

import (
	"net"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/transport"
)

// Option is a functional option for configuring a Responder. Options
// are applied during New, before any socket is opened.
type Option func(*Responder) error

// WithHostname sets the hostname used for A/AAAA records of services
// registered without one. The default is the system hostname with
// ".local" appended.
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		if hostname == "" {
			return &errors.ValidationError{Field: "hostname", Details: "hostname cannot be empty"}
		}
		r.hostname = hostname
		return nil
	}
}

// WithLogger directs per-interface join failures and dropped-send
// reports to logger instead of discarding them.
func WithLogger(logger Logger) Option {
	return func(r *Responder) error {
		r.logger = logger
		return nil
	}
}

// WithInterfaces restricts the multicast joins to the given interfaces
// instead of every multicast-capable interface on the host.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(r *Responder) error {
		if len(ifaces) == 0 {
			return &errors.ValidationError{Field: "interfaces", Details: "interface list cannot be empty"}
		}
		r.interfaces = ifaces
		return nil
	}
}

// WithReusePort sets SO_REUSEPORT on the multicast sockets so several
// responders or queriers on this host can share port 5353.
func WithReusePort(enabled bool) Option {
	return func(r *Responder) error {
		r.reusePort = enabled
		return nil
	}
}

// WithMulticastHops sets the TTL/hop-limit on outbound multicast. The
// default of 1 keeps responses on the local link per RFC 6762 §11.
func WithMulticastHops(hops int) Option {
	return func(r *Responder) error {
		if hops < 1 || hops > 255 {
			return &errors.ValidationError{Field: "hops", Details: "multicast hops must be in range 1-255"}
		}
		r.multicastHops = hops
		return nil
	}
}

// WithDisableIPv4 turns the IPv4 socket off. Disabling both families
// fails at Start with an argument error.
func WithDisableIPv4() Option {
	return func(r *Responder) error {
		r.disableIPv4 = true
		return nil
	}
}

// WithDisableIPv6 turns the IPv6 socket off.
func WithDisableIPv6() Option {
	return func(r *Responder) error {
		r.disableIPv6 = true
		return nil
	}
}

// WithMulticastRateLimit enforces the RFC 6762 §6.2 one-second minimum
// between multicasts of the same record on the same interface. Off by
// default: a lone responder answering direct queries never needs it,
// but it keeps chatty links quiet when many peers browse at once.
func WithMulticastRateLimit(enabled bool) Option {
	return func(r *Responder) error {
		r.rateLimit = enabled
		return nil
	}
}

// WithTransports runs the responder over the given transports instead
// of opening real sockets. Tests use this to drive the responder with
// an in-memory transport; the responder does not close injected
// transports on Stop.
func WithTransports(ts ...transport.GroupTransport) Option {
	return func(r *Responder) error {
		if len(ts) == 0 {
			return &errors.ValidationError{Field: "transports", Details: "transport list cannot be empty"}
		}
		r.injected = ts
		return nil
	}
}
