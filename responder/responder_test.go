package responder

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/transport"
)

func testService() *Service {
	return &Service{
		InstanceName: "My Web Server",
		ServiceType:  "_http._tcp.local",
		Hostname:     "myhost.local",
		Port:         8080,
		Addresses:    []net.IP{net.IPv4(192, 0, 2, 5)},
		TXTRecords:   map[string]string{"path": "/api"},
	}
}

// startResponder wires a responder to a mock transport and starts it.
func startResponder(t *testing.T, svc *Service) (*Responder, *transport.MockTransport) {
	t.Helper()

	mock := transport.NewMockTransport()
	r, err := New(context.Background(), WithTransports(mock))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if svc != nil {
		if err := r.Register(svc); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = mock.Close()
	})
	return r, mock
}

func packQuery(t *testing.T, id uint16, questions ...message.Question) []byte {
	t.Helper()
	packet, err := message.PackMessage(&message.Message{
		Header:    message.Header{ID: id},
		Questions: questions,
	})
	if err != nil {
		t.Fatalf("PackMessage failed: %v", err)
	}
	return packet
}

// waitForSends polls until the mock captured want sends or the
// deadline passes; it returns whatever was captured.
func waitForSends(t *testing.T, mock *transport.MockTransport, want int) []transport.SendCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := mock.SendCalls()
		if len(calls) >= want {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	return mock.SendCalls()
}

// expectSilence verifies no datagram goes out within the window.
func expectSilence(t *testing.T, mock *transport.MockTransport) {
	t.Helper()
	time.Sleep(100 * time.Millisecond)
	if calls := mock.SendCalls(); len(calls) != 0 {
		t.Fatalf("responder sent %d datagrams, want 0", len(calls))
	}
}

var querySource = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 200), Port: 51515}

// TestResponder_AnswersPTRQuery verifies a PTR query for the
// advertised service type is answered over multicast with the PTR,
// SRV, TXT, and address records bundled per RFC 6763 §12.1.
func TestResponder_AnswersPTRQuery(t *testing.T) {
	_, mock := startResponder(t, testService())

	query := packQuery(t, 0x4242, message.Question{
		Name:  "_http._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
	})
	mock.Inject(query, querySource, 0)

	calls := waitForSends(t, mock, 1)
	if len(calls) != 1 {
		t.Fatalf("responder sent %d datagrams, want 1", len(calls))
	}
	if calls[0].Dest != nil {
		t.Errorf("response Dest = %v, want nil (multicast)", calls[0].Dest)
	}

	resp, err := message.ParseMessage(calls[0].Packet)
	if err != nil {
		t.Fatalf("response failed to parse: %v", err)
	}
	if resp.Header.ID != 0 {
		t.Errorf("multicast response id = 0x%04x, want 0", resp.Header.ID)
	}
	if !resp.Header.QR() || !resp.Header.AA() {
		t.Errorf("response flags = 0x%04x, want QR and AA", resp.Header.Flags)
	}
	if len(resp.Questions) != 0 {
		t.Errorf("response carries %d questions, want 0", len(resp.Questions))
	}

	types := make(map[protocol.RecordType]int)
	for _, rr := range resp.Answers {
		types[rr.Type]++
		if rr.TTL == 0 {
			t.Errorf("record %s has TTL 0", rr.Name)
		}
		if protocol.ClassWithoutFlags(rr.Class) != protocol.ClassIN {
			t.Errorf("record %s class = %d, want IN", rr.Name, rr.Class)
		}
	}
	if types[protocol.RecordTypePTR] == 0 {
		t.Error("response carries no PTR record")
	}
	if types[protocol.RecordTypeSRV] == 0 {
		t.Error("response carries no SRV record")
	}
	if types[protocol.RecordTypeTXT] == 0 {
		t.Error("response carries no TXT record")
	}
	if types[protocol.RecordTypeA]+types[protocol.RecordTypeAAAA] == 0 {
		t.Error("response carries no address record")
	}

	if target, ok := resp.Answers[0].Decoded.(string); !ok || target != "My Web Server._http._tcp.local" {
		t.Errorf("PTR target = %v, want My Web Server._http._tcp.local", resp.Answers[0].Decoded)
	}
}

// TestResponder_QUBitUnicastResponse verifies a QU question is
// answered with exactly one unicast datagram to the source, id echoing
// the query, and no multicast at all (RFC 6762 §5.4).
func TestResponder_QUBitUnicastResponse(t *testing.T) {
	_, mock := startResponder(t, testService())

	query := packQuery(t, 0x77AB, message.Question{
		Name:  "_http._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassWithCacheFlush(protocol.ClassIN), // QU bit
	})
	mock.Inject(query, querySource, 0)

	calls := waitForSends(t, mock, 1)
	if len(calls) != 1 {
		t.Fatalf("responder sent %d datagrams, want exactly 1", len(calls))
	}
	if calls[0].Dest != querySource {
		t.Errorf("response Dest = %v, want query source %v", calls[0].Dest, querySource)
	}

	resp, err := message.ParseMessage(calls[0].Packet)
	if err != nil {
		t.Fatalf("response failed to parse: %v", err)
	}
	if resp.Header.ID != 0x77AB {
		t.Errorf("unicast response id = 0x%04x, want query id 0x77AB", resp.Header.ID)
	}
}

// TestResponder_IgnoresNonQueries verifies responses, non-standard
// opcodes, error rcodes, and malformed datagrams all produce silence.
func TestResponder_IgnoresNonQueries(t *testing.T) {
	question := message.Question{
		Name:  "_http._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
	}

	tests := []struct {
		name   string
		packet func(t *testing.T) []byte
	}{
		{
			name: "QR bit set",
			packet: func(t *testing.T) []byte {
				pkt, err := message.PackMessage(&message.Message{
					Header:    message.Header{Flags: message.FlagQR},
					Questions: []message.Question{question},
				})
				if err != nil {
					t.Fatalf("PackMessage failed: %v", err)
				}
				return pkt
			},
		},
		{
			name: "opcode not zero",
			packet: func(t *testing.T) []byte {
				pkt, err := message.PackMessage(&message.Message{
					Header:    message.Header{Flags: 2 << 11}, // STATUS opcode
					Questions: []message.Question{question},
				})
				if err != nil {
					t.Fatalf("PackMessage failed: %v", err)
				}
				return pkt
			},
		},
		{
			name: "rcode not zero",
			packet: func(t *testing.T) []byte {
				pkt, err := message.PackMessage(&message.Message{
					Header:    message.Header{Flags: 3}, // NXDOMAIN
					Questions: []message.Question{question},
				})
				if err != nil {
					t.Fatalf("PackMessage failed: %v", err)
				}
				return pkt
			},
		},
		{
			name: "malformed datagram",
			packet: func(t *testing.T) []byte {
				return []byte{0x01, 0x02, 0x03}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock := startResponder(t, testService())
			mock.Inject(tt.packet(t), querySource, 0)
			expectSilence(t, mock)
		})
	}
}

// TestResponder_UnknownNameSilent verifies questions outside the zone
// produce no response at all, per mDNS's shared-medium etiquette.
func TestResponder_UnknownNameSilent(t *testing.T) {
	_, mock := startResponder(t, testService())

	query := packQuery(t, 1, message.Question{
		Name:  "_ipp._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
	})
	mock.Inject(query, querySource, 0)
	expectSilence(t, mock)
}

// TestResponder_MixedQUAndQM verifies a query carrying one QU and one
// QM question yields one unicast and one multicast datagram.
func TestResponder_MixedQUAndQM(t *testing.T) {
	_, mock := startResponder(t, testService())

	query := packQuery(t, 9,
		message.Question{
			Name:  "_http._tcp.local",
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassWithCacheFlush(protocol.ClassIN),
		},
		message.Question{
			Name:  "myhost.local",
			Type:  protocol.RecordTypeA,
			Class: protocol.ClassIN,
		},
	)
	mock.Inject(query, querySource, 0)

	calls := waitForSends(t, mock, 2)
	if len(calls) != 2 {
		t.Fatalf("responder sent %d datagrams, want 2", len(calls))
	}

	var unicast, multicast int
	for _, call := range calls {
		if call.Dest == nil {
			multicast++
		} else {
			unicast++
		}
	}
	if unicast != 1 || multicast != 1 {
		t.Errorf("unicast=%d multicast=%d, want 1 and 1", unicast, multicast)
	}
}

// TestResponder_StartWhileRunning verifies re-entry into Start is a
// state error.
func TestResponder_StartWhileRunning(t *testing.T) {
	r, _ := startResponder(t, nil)

	err := r.Start()
	if err == nil {
		t.Fatal("second Start() returned nil, want error")
	}
	var stateErr *errors.StateError
	if !stderrors.As(err, &stateErr) {
		t.Errorf("error type = %T, want *errors.StateError", err)
	}
}

// TestResponder_StopThenStartAgain verifies the Stopped → Running →
// Stopped cycle can repeat.
func TestResponder_StopThenStartAgain(t *testing.T) {
	mock := transport.NewMockTransport()
	r, err := New(context.Background(), WithTransports(mock))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() after Stop() failed: %v", err)
	}
	_ = r.Stop()
}

// TestResponder_RegisterValidation verifies the field checks rejected
// before anything reaches the zone.
func TestResponder_RegisterValidation(t *testing.T) {
	r, err := New(context.Background(), WithTransports(transport.NewMockTransport()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		name    string
		service *Service
		errMsg  string
	}{
		{
			name:    "nil service",
			service: nil,
			errMsg:  "service cannot be nil",
		},
		{
			name:    "empty instance name",
			service: &Service{ServiceType: "_http._tcp.local", Port: 80},
			errMsg:  "instance name cannot be empty",
		},
		{
			name:    "invalid service type",
			service: &Service{InstanceName: "X", ServiceType: "http.local", Port: 80},
			errMsg:  "invalid service type format",
		},
		{
			name:    "port zero",
			service: &Service{InstanceName: "X", ServiceType: "_http._tcp.local", Port: 0},
			errMsg:  "port must be in range 1-65535",
		},
		{
			name:    "port too large",
			service: &Service{InstanceName: "X", ServiceType: "_http._tcp.local", Port: 70000},
			errMsg:  "port must be in range 1-65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.service)
			if err == nil {
				t.Fatalf("Register accepted invalid service")
			}
			if !contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want substring %q", err, tt.errMsg)
			}
		})
	}
}

// TestResponder_DuplicateRegistration verifies the same instance name
// cannot be registered twice.
func TestResponder_DuplicateRegistration(t *testing.T) {
	r, err := New(context.Background(), WithTransports(transport.NewMockTransport()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := r.Register(testService()); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(testService()); err == nil {
		t.Error("second Register of same instance returned nil, want error")
	}
}

// TestResponder_UnregisterStopsAnswering verifies removal takes a
// service out of the zone immediately.
func TestResponder_UnregisterStopsAnswering(t *testing.T) {
	r, mock := startResponder(t, testService())

	if err := r.Unregister("My Web Server"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	query := packQuery(t, 1, message.Question{
		Name:  "_http._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
	})
	mock.Inject(query, querySource, 0)
	expectSilence(t, mock)
}

// TestResponder_GetService verifies lookup by instance name and by
// full service identifier.
func TestResponder_GetService(t *testing.T) {
	r, _ := startResponder(t, testService())

	if _, found := r.GetService("My Web Server"); !found {
		t.Error("GetService by instance name failed")
	}
	if _, found := r.GetService("My Web Server._http._tcp.local"); !found {
		t.Error("GetService by full identifier failed")
	}
	if _, found := r.GetService("Nobody"); found {
		t.Error("GetService found an unregistered service")
	}
}

// TestResponder_UpdateServiceTXT verifies TXT metadata swaps without
// re-registration and shows up in subsequent answers.
func TestResponder_UpdateServiceTXT(t *testing.T) {
	r, mock := startResponder(t, testService())

	if err := r.UpdateService("My Web Server", map[string]string{"path": "/v2"}); err != nil {
		t.Fatalf("UpdateService failed: %v", err)
	}

	query := packQuery(t, 1, message.Question{
		Name:  "My Web Server._http._tcp.local",
		Type:  protocol.RecordTypeTXT,
		Class: protocol.ClassIN,
	})
	mock.Inject(query, querySource, 0)

	calls := waitForSends(t, mock, 1)
	if len(calls) != 1 {
		t.Fatalf("responder sent %d datagrams, want 1", len(calls))
	}
	resp, err := message.ParseMessage(calls[0].Packet)
	if err != nil {
		t.Fatalf("response failed to parse: %v", err)
	}
	if len(resp.Answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(resp.Answers))
	}
	txt, ok := resp.Answers[0].Decoded.([]string)
	if !ok || len(txt) != 1 || txt[0] != "path=/v2" {
		t.Errorf("TXT = %v, want [path=/v2]", resp.Answers[0].Decoded)
	}
}

// TestResponder_MulticastRateLimit verifies the optional RFC 6762 §6.2
// limiter suppresses an identical multicast answer repeated within one
// second.
func TestResponder_MulticastRateLimit(t *testing.T) {
	mock := transport.NewMockTransport()
	r, err := New(context.Background(),
		WithTransports(mock),
		WithMulticastRateLimit(true),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := r.Register(testService()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	query := packQuery(t, 1, message.Question{
		Name:  "_http._tcp.local",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
	})
	mock.Inject(query, querySource, 0)
	if calls := waitForSends(t, mock, 1); len(calls) != 1 {
		t.Fatalf("first query produced %d datagrams, want 1", len(calls))
	}

	// Same question again inside the one-second window: suppressed.
	mock.Inject(query, querySource, 0)
	time.Sleep(150 * time.Millisecond)
	if calls := mock.SendCalls(); len(calls) != 1 {
		t.Errorf("repeat query produced %d datagrams total, want still 1", len(calls))
	}
}

// contains reports whether substr occurs in s.
func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
