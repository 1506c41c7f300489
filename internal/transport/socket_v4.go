package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// MulticastV4Transport is the IPv4 mDNS socket, bound to port 5353 and
// joined to 224.0.0.251 on one or more interfaces, with optional
// SO_REUSEPORT for hosts where more than one responder or querier
// wants the port.
type MulticastV4Transport struct {
	conn     *net.UDPConn
	ipv4Conn *ipv4.PacketConn
	ifaces   []net.Interface

	// sendMu serializes SendMulticast: selecting the outbound multicast
	// interface is socket-level state, so interleaved senders would race
	// each other's interface selection.
	sendMu sync.Mutex
}

// socketControl returns a net.ListenConfig.Control hook applying
// SO_REUSEADDR, and SO_REUSEPORT when reusePort is requested.
func socketControl(reusePort bool) func(string, string, syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if opErr = setSocketOptions(fd); opErr != nil {
				return
			}
			if reusePort {
				opErr = setReusePort(fd)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// NewMulticastV4Transport opens an IPv4 mDNS socket bound to
// 0.0.0.0:5353 and joins the mDNS multicast group on ifaces. If ifaces
// is empty, every multicast-capable interface on the host is tried; a
// per-interface join failure is logged and skipped rather than treated
// as fatal, since one usable interface is enough. It is a
// *errors.NoUsableSocketError if not one interface joins successfully.
func NewMulticastV4Transport(ifaces []net.Interface, reusePort bool, hops int, logger Logger) (*MulticastV4Transport, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if len(ifaces) == 0 {
		ifaces = multicastCapableInterfaces()
	}

	lc := net.ListenConfig{Control: socketControl(reusePort)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(protocol.Port)))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create IPv4 multicast socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind udp4 0.0.0.0:%d", protocol.Port),
		}
	}
	conn := pc.(*net.UDPConn)

	ipv4Conn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}

	joined := make([]net.Interface, 0, len(ifaces))
	for i := range ifaces {
		iface := ifaces[i]
		if err := ipv4Conn.JoinGroup(&iface, group); err != nil {
			logger.Printf("ipv4 multicast join failed on %s: %v", iface.Name, err)
			continue
		}
		joined = append(joined, iface)
	}
	if len(joined) == 0 {
		_ = conn.Close()
		return nil, &errors.NoUsableSocketError{Details: "no interface joined the IPv4 mDNS multicast group"}
	}

	if err := ipv4Conn.SetMulticastTTL(hops); err != nil {
		logger.Printf("failed to set IPv4 multicast TTL: %v", err)
	}
	if err := ipv4Conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		logger.Printf("failed to enable IPv4 control messages: %v", err)
	}
	if err := conn.SetReadBuffer(maxDatagramSize); err != nil {
		logger.Printf("failed to set IPv4 read buffer: %v", err)
	}

	return &MulticastV4Transport{conn: conn, ipv4Conn: ipv4Conn, ifaces: joined}, nil
}

func multicastCapableInterfaces() []net.Interface {
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func (t *MulticastV4Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{Operation: "send", Err: err, Details: fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest)}
	}
	if n != len(packet) {
		return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(packet)), Details: "incomplete transmission"}
	}
	return nil
}

func (t *MulticastV4Transport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: ctx.Err(), Details: "context canceled before receive"}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, 0, &errors.NetworkError{Operation: "set read deadline", Err: err}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	n, cm, srcAddr, err := t.ipv4Conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to read from IPv4 socket"}
	}

	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, ifIndex, nil
}

// Group returns the IPv4 mDNS multicast destination.
func (t *MulticastV4Transport) Group() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

// SendMulticast emits packet to the mDNS group once per joined
// interface, rotating the socket's outbound multicast interface across
// them so every attached link sees one copy.
func (t *MulticastV4Transport) SendMulticast(ctx context.Context, packet []byte) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "multicast send", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	group := t.Group()
	var lastErr error
	sent := 0
	for i := range t.ifaces {
		iface := t.ifaces[i]
		if err := t.ipv4Conn.SetMulticastInterface(&iface); err != nil {
			lastErr = err
			continue
		}
		if _, err := t.conn.WriteTo(packet, group); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return &errors.NetworkError{
			Operation: "multicast send",
			Err:       lastErr,
			Details:   "failed to send on every joined IPv4 interface",
		}
	}
	return nil
}

func (t *MulticastV4Transport) Close() error {
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close IPv4 socket", Err: err}
	}
	return nil
}

// Interfaces returns the interfaces this transport successfully joined.
func (t *MulticastV4Transport) Interfaces() []net.Interface { return t.ifaces }
