package querier

import (
	"net"
	"strings"
	"time"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/transport"
)

// Option is a functional option for configuring a Querier.
type Option func(*Querier) error

// WithTimeout sets the collection window applied when an operation's
// context carries no deadline of its own. The default is 5 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(q *Querier) error {
		if timeout <= 0 {
			return &errors.ValidationError{Field: "timeout", Details: "timeout must be greater than 0"}
		}
		q.defaultTimeout = timeout
		return nil
	}
}

// WithInterfaces pins queries to an explicit interface list instead of
// every multicast-capable interface on the host.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(q *Querier) error {
		if len(ifaces) == 0 {
			return &errors.ValidationError{Field: "interfaces", Details: "interface list cannot be empty"}
		}
		q.explicitInterfaces = ifaces
		return nil
	}
}

// WithInterfaceFilter selects interfaces by predicate at query time,
// e.g. to exclude Docker bridges or VPN tunnels.
func WithInterfaceFilter(filter func(net.Interface) bool) Option {
	return func(q *Querier) error {
		if filter == nil {
			return &errors.ValidationError{Field: "filter", Details: "filter function cannot be nil"}
		}
		q.interfaceFilter = filter
		return nil
	}
}

// WithDomain sets the domain appended to bare service types in
// Browse. The default is "local", the only domain link-local mDNS
// deployments use in practice.
func WithDomain(domain string) Option {
	return func(q *Querier) error {
		domain = strings.Trim(domain, ".")
		if domain == "" {
			return &errors.ValidationError{Field: "domain", Details: "domain cannot be empty"}
		}
		q.domain = strings.ToLower(domain)
		return nil
	}
}

// WithUnicastResponse sets the QU bit on outgoing questions
// (RFC 6762 §5.4), asking responders to reply unicast to this
// querier's ephemeral port rather than to the whole group.
func WithUnicastResponse(enabled bool) Option {
	return func(q *Querier) error {
		q.wantUnicast = enabled
		return nil
	}
}

// WithDisableIPv4 turns the IPv4 sockets off.
func WithDisableIPv4() Option {
	return func(q *Querier) error {
		q.disableIPv4 = true
		return nil
	}
}

// WithDisableIPv6 turns the IPv6 sockets off.
func WithDisableIPv6() Option {
	return func(q *Querier) error {
		q.disableIPv6 = true
		return nil
	}
}

// WithReusePort sets SO_REUSEPORT on the multicast sockets.
func WithReusePort(enabled bool) Option {
	return func(q *Querier) error {
		q.reusePort = enabled
		return nil
	}
}

// WithMulticastHops sets the TTL/hop-limit on the outgoing query. The
// default of 1 keeps it on the local link per RFC 6762 §11.
func WithMulticastHops(hops int) Option {
	return func(q *Querier) error {
		if hops < 1 || hops > 255 {
			return &errors.ValidationError{Field: "hops", Details: "multicast hops must be in range 1-255"}
		}
		q.multicastHops = hops
		return nil
	}
}

// WithLogger directs non-fatal problems (single-family send failures,
// join failures) to logger instead of discarding them.
func WithLogger(logger transport.Logger) Option {
	return func(q *Querier) error {
		q.logger = logger
		return nil
	}
}

// WithRateLimit enables per-name query rate limiting.
func WithRateLimit(enabled bool) Option {
	return func(q *Querier) error {
		q.rateLimitEnabled = enabled
		return nil
	}
}

// WithRateLimitThreshold sets how many queries for one name are
// allowed within a cooldown window before further sends are rejected.
func WithRateLimitThreshold(threshold int) Option {
	return func(q *Querier) error {
		if threshold <= 0 {
			return &errors.ValidationError{Field: "threshold", Details: "threshold must be greater than 0"}
		}
		q.rateLimitThreshold = threshold
		return nil
	}
}

// WithRateLimitCooldown sets the rate limit window length.
func WithRateLimitCooldown(cooldown time.Duration) Option {
	return func(q *Querier) error {
		if cooldown <= 0 {
			return &errors.ValidationError{Field: "cooldown", Details: "cooldown must be greater than 0"}
		}
		q.rateLimitCooldown = cooldown
		return nil
	}
}

// WithTransport runs every operation over the given transports instead
// of opening real sockets. Tests use this to feed canned responses
// through an in-memory transport. Injected transports are closed by
// Querier.Close, not per operation.
func WithTransport(ts ...transport.GroupTransport) Option {
	return func(q *Querier) error {
		if len(ts) == 0 {
			return &errors.ValidationError{Field: "transports", Details: "transport list cannot be empty"}
		}
		q.injected = ts
		return nil
	}
}
