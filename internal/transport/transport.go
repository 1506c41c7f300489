// Package transport owns the sockets mDNS runs over: per-family
// multicast sockets bound to port 5353 and joined to the mDNS groups
// (RFC 6762 §3), ephemeral-port unicast sockets for queriers, and an
// in-memory transport for tests.
package transport

import (
	"context"
	"net"
)

// Transport abstracts sending and receiving mDNS datagrams, decoupling
// the responder and querier from any one socket implementation.
//
// Receive reports the OS interface index the packet arrived on (from
// IP_PKTINFO/IPV6_PKTINFO control messages) so responses can carry
// addresses valid on the receiving interface only (RFC 6762 §15); zero
// means the interface is unknown.
type Transport interface {
	// Send transmits a packet to dest, honoring ctx cancellation.
	Send(ctx context.Context, packet []byte, dest net.Addr) error

	// Receive blocks for one inbound packet, honoring ctx cancellation
	// and deadline. It returns the payload, the source address, and the
	// receiving interface index.
	Receive(ctx context.Context) (packet []byte, srcAddr net.Addr, interfaceIndex int, err error)

	// Close releases the socket. Pending Receive calls fail.
	Close() error
}

// GroupTransport is a Transport joined to an mDNS multicast group that
// can address the group directly.
type GroupTransport interface {
	Transport

	// Group returns the mDNS group address for this transport's family.
	Group() net.Addr

	// SendMulticast emits packet to the group, once per joined
	// interface.
	SendMulticast(ctx context.Context, packet []byte) error
}
