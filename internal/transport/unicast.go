package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/joshuafuller/beacon/internal/errors"
)

// UnicastTransport is an ephemeral-port UDP socket a querier uses to
// send its initial query and receive unicast replies (RFC 6762 §5.4).
// Responders never create one.
type UnicastTransport struct {
	conn    *net.UDPConn
	network string
}

// NewUnicastTransport binds an ephemeral-port socket for the given
// network ("udp4" or "udp6"). When iface is non-nil the socket is bound
// to that interface's address of the matching family, steering outbound
// unicast through it.
func NewUnicastTransport(network string, iface *net.Interface) (*UnicastTransport, error) {
	laddr := &net.UDPAddr{}
	if iface != nil {
		ip, err := interfaceAddr(iface, network)
		if err != nil {
			return nil, err
		}
		laddr.IP = ip
	}

	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create unicast socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind %s ephemeral port", network),
		}
	}
	if err := conn.SetReadBuffer(maxDatagramSize); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "create unicast socket", Err: err}
	}
	return &UnicastTransport{conn: conn, network: network}, nil
}

// interfaceAddr picks iface's first address of the requested family.
func interfaceAddr(iface *net.Interface, network string) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "resolve interface address",
			Err:       err,
			Details:   fmt.Sprintf("cannot list addresses of %s", iface.Name),
		}
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipnet.IP.To4()
		if network == "udp4" && v4 != nil {
			return v4, nil
		}
		if network == "udp6" && v4 == nil && ipnet.IP.To16() != nil {
			return ipnet.IP, nil
		}
	}
	return nil, &errors.NetworkError{
		Operation: "resolve interface address",
		Details:   fmt.Sprintf("interface %s carries no %s address", iface.Name, network),
	}
}

func (t *UnicastTransport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
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

func (t *UnicastTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
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

	n, srcAddr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to read from unicast socket"}
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, 0, nil
}

func (t *UnicastTransport) Close() error {
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close unicast socket", Err: err}
	}
	return nil
}

// LocalAddr returns the ephemeral address the socket bound to.
func (t *UnicastTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
