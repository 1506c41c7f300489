package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// MulticastV6Transport is the IPv6 counterpart to MulticastV4Transport,
// joined to ff02::fb on one or more interfaces.
type MulticastV6Transport struct {
	conn     *net.UDPConn
	ipv6Conn *ipv6.PacketConn
	ifaces   []net.Interface
	sendMu   sync.Mutex
}

// NewMulticastV6Transport opens an IPv6 mDNS socket and joins the mDNS
// multicast group on ifaces (every multicast-capable interface if
// empty). See NewMulticastV4Transport for join-failure handling.
func NewMulticastV6Transport(ifaces []net.Interface, reusePort bool, hops int, logger Logger) (*MulticastV6Transport, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if len(ifaces) == 0 {
		ifaces = multicastCapableInterfaces()
	}

	lc := net.ListenConfig{Control: socketControl(reusePort)}
	pc, err := lc.ListenPacket(context.Background(), "udp6", net.JoinHostPort("", strconv.Itoa(protocol.Port)))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create IPv6 multicast socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind udp6 [::]:%d", protocol.Port),
		}
	}
	conn := pc.(*net.UDPConn)

	ipv6Conn := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}

	joined := make([]net.Interface, 0, len(ifaces))
	for i := range ifaces {
		iface := ifaces[i]
		if err := ipv6Conn.JoinGroup(&iface, group); err != nil {
			logger.Printf("ipv6 multicast join failed on %s: %v", iface.Name, err)
			continue
		}
		joined = append(joined, iface)
	}
	if len(joined) == 0 {
		_ = conn.Close()
		return nil, &errors.NoUsableSocketError{Details: "no interface joined the IPv6 mDNS multicast group"}
	}

	if err := ipv6Conn.SetMulticastHopLimit(hops); err != nil {
		logger.Printf("failed to set IPv6 multicast hop limit: %v", err)
	}
	if err := ipv6Conn.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		logger.Printf("failed to enable IPv6 control messages: %v", err)
	}
	if err := conn.SetReadBuffer(maxDatagramSize); err != nil {
		logger.Printf("failed to set IPv6 read buffer: %v", err)
	}

	return &MulticastV6Transport{conn: conn, ipv6Conn: ipv6Conn, ifaces: joined}, nil
}

func (t *MulticastV6Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
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

func (t *MulticastV6Transport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
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

	n, cm, srcAddr, err := t.ipv6Conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to read from IPv6 socket"}
	}

	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, ifIndex, nil
}

// Group returns the IPv6 mDNS multicast destination.
func (t *MulticastV6Transport) Group() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port}
}

// SendMulticast emits packet to the mDNS group once per joined
// interface. See MulticastV4Transport.SendMulticast for the
// serialization contract.
func (t *MulticastV6Transport) SendMulticast(ctx context.Context, packet []byte) error {
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
		if err := t.ipv6Conn.SetMulticastInterface(&iface); err != nil {
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
			Details:   "failed to send on every joined IPv6 interface",
		}
	}
	return nil
}

func (t *MulticastV6Transport) Close() error {
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close IPv6 socket", Err: err}
	}
	return nil
}

// Interfaces returns the interfaces this transport successfully joined.
func (t *MulticastV6Transport) Interfaces() []net.Interface { return t.ifaces }
