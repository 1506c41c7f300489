package transport

import (
	"context"
	"net"
	"sync"

	"github.com/joshuafuller/beacon/internal/errors"
)

// SendCall records one outbound packet captured by a MockTransport.
// Dest is nil for multicast sends.
type SendCall struct {
	Dest   net.Addr
	Packet []byte
}

// inboundPacket is one datagram queued for delivery to Receive.
type inboundPacket struct {
	src     net.Addr
	payload []byte
	ifIndex int
}

// MockTransport is an in-memory GroupTransport for tests: outbound
// packets are captured instead of hitting the network, and inbound
// packets are injected with Inject. It lets a responder and a querier
// be wired back-to-back in one process, which is how the end-to-end
// scenarios exercise the full query/response path without multicast
// networking.
type MockTransport struct {
	mu       sync.Mutex
	sends    []SendCall
	inbound  chan inboundPacket
	closed   bool
	closedCh chan struct{}

	// OnSend, when set, is invoked for every captured send. The
	// loopback harness uses it to forward packets to the peer.
	OnSend func(call SendCall)
}

// NewMockTransport creates a MockTransport able to buffer inbound
// packets until Receive drains them.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		inbound:  make(chan inboundPacket, 64),
		closedCh: make(chan struct{}),
	}
}

// Group returns a fixed IPv4 group address; tests only compare it
// against unicast destinations.
func (m *MockTransport) Group() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("224.0.0.251"), Port: 5353}
}

func (m *MockTransport) record(call SendCall) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &errors.NetworkError{Operation: "send", Details: "transport closed"}
	}
	m.sends = append(m.sends, call)
	onSend := m.OnSend
	m.mu.Unlock()

	if onSend != nil {
		onSend(call)
	}
	return nil
}

func (m *MockTransport) Send(_ context.Context, packet []byte, dest net.Addr) error {
	p := make([]byte, len(packet))
	copy(p, packet)
	return m.record(SendCall{Packet: p, Dest: dest})
}

func (m *MockTransport) SendMulticast(_ context.Context, packet []byte) error {
	p := make([]byte, len(packet))
	copy(p, packet)
	return m.record(SendCall{Packet: p})
}

func (m *MockTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case pkt := <-m.inbound:
		return pkt.payload, pkt.src, pkt.ifIndex, nil
	case <-m.closedCh:
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Details: "transport closed"}
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: ctx.Err()}
	}
}

// Inject queues an inbound packet as if it arrived from src on the
// interface with index ifIndex.
func (m *MockTransport) Inject(payload []byte, src net.Addr, ifIndex int) {
	p := make([]byte, len(payload))
	copy(p, payload)
	select {
	case m.inbound <- inboundPacket{payload: p, src: src, ifIndex: ifIndex}:
	case <-m.closedCh:
	}
}

// SendCalls returns a snapshot of every captured send in order.
func (m *MockTransport) SendCalls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendCall, len(m.sends))
	copy(out, m.sends)
	return out
}

// Close marks the transport closed. A second Close reports an error,
// matching real socket double-close behavior.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &errors.NetworkError{Operation: "close", Details: "transport already closed"}
	}
	m.closed = true
	close(m.closedCh)
	return nil
}
