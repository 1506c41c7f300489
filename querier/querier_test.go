package querier

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/transport"
)

// TestWithTimeout verifies the WithTimeout option sets the default
// collection window and rejects non-positive values.
func TestWithTimeout(t *testing.T) {
	customTimeout := 2 * time.Second

	q, err := New(WithTimeout(customTimeout))
	if err != nil {
		t.Fatalf("New(WithTimeout) failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	if q.defaultTimeout != customTimeout {
		t.Errorf("defaultTimeout = %v, want %v", q.defaultTimeout, customTimeout)
	}

	if _, err := New(WithTimeout(0)); err == nil {
		t.Error("New(WithTimeout(0)) accepted a zero timeout")
	}
}

// TestWithInterfaces verifies explicit interface lists are stored and
// empty lists rejected.
func TestWithInterfaces(t *testing.T) {
	tests := []struct {
		name        string
		ifaces      []net.Interface
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid interface list",
			ifaces: []net.Interface{
				{Name: "eth0", Index: 1},
			},
			expectError: false,
		},
		{
			name:        "empty interface list",
			ifaces:      []net.Interface{},
			expectError: true,
			errorMsg:    "interface list cannot be empty",
		},
		{
			name:        "nil interface list",
			ifaces:      nil,
			expectError: true,
			errorMsg:    "interface list cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithInterfaces(tt.ifaces))

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errorMsg)
				} else if !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got: %v", tt.errorMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithInterfaces) failed: %v", err)
			}
			defer func() { _ = q.Close() }()

			if len(q.explicitInterfaces) != len(tt.ifaces) {
				t.Errorf("explicitInterfaces length = %d, want %d",
					len(q.explicitInterfaces), len(tt.ifaces))
			}
		})
	}
}

// TestWithInterfaceFilter verifies custom interface predicates are
// stored and nil predicates rejected.
func TestWithInterfaceFilter(t *testing.T) {
	t.Run("valid filter function", func(t *testing.T) {
		filter := func(iface net.Interface) bool {
			return iface.Name == "eth0"
		}

		q, err := New(WithInterfaceFilter(filter))
		if err != nil {
			t.Fatalf("New(WithInterfaceFilter) failed: %v", err)
		}
		defer func() { _ = q.Close() }()

		if q.interfaceFilter == nil {
			t.Error("interfaceFilter was not set")
		}
	})

	t.Run("nil filter function", func(t *testing.T) {
		_, err := New(WithInterfaceFilter(nil))
		if err == nil {
			t.Error("Expected error for nil filter, got nil")
		} else if !contains(err.Error(), "filter function cannot be nil") {
			t.Errorf("Expected error about nil filter, got: %v", err)
		}
	})
}

// TestWithRateLimit verifies rate limiting can be switched on and off.
func TestWithRateLimit(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"rate limiting enabled", true},
		{"rate limiting disabled", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithRateLimit(tt.enabled))
			if err != nil {
				t.Fatalf("New(WithRateLimit(%v)) failed: %v", tt.enabled, err)
			}
			defer func() { _ = q.Close() }()

			if q.rateLimitEnabled != tt.enabled {
				t.Errorf("rateLimitEnabled = %v, want %v",
					q.rateLimitEnabled, tt.enabled)
			}
		})
	}
}

// TestWithRateLimitThreshold verifies threshold validation (must be > 0).
func TestWithRateLimitThreshold(t *testing.T) {
	tests := []struct {
		name        string
		threshold   int
		expectError bool
	}{
		{"valid threshold", 100, false},
		{"minimum threshold", 1, false},
		{"high threshold", 10000, false},
		{"zero threshold", 0, true},
		{"negative threshold", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithRateLimitThreshold(tt.threshold))

			if tt.expectError {
				if err == nil {
					t.Error("Expected error for invalid threshold, got nil")
				} else if !contains(err.Error(), "threshold must be greater than 0") {
					t.Errorf("Expected threshold validation error, got: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithRateLimitThreshold(%d)) failed: %v",
					tt.threshold, err)
			}
			defer func() { _ = q.Close() }()

			if q.rateLimitThreshold != tt.threshold {
				t.Errorf("rateLimitThreshold = %d, want %d",
					q.rateLimitThreshold, tt.threshold)
			}
		})
	}
}

// TestWithRateLimitCooldown verifies cooldown validation (must be > 0).
func TestWithRateLimitCooldown(t *testing.T) {
	tests := []struct {
		name        string
		cooldown    time.Duration
		expectError bool
	}{
		{"valid cooldown", 60 * time.Second, false},
		{"short cooldown", 1 * time.Second, false},
		{"long cooldown", 5 * time.Minute, false},
		{"zero cooldown", 0, true},
		{"negative cooldown", -1 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithRateLimitCooldown(tt.cooldown))

			if tt.expectError {
				if err == nil {
					t.Error("Expected error for invalid cooldown, got nil")
				} else if !contains(err.Error(), "cooldown must be greater than 0") {
					t.Errorf("Expected cooldown validation error, got: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("New(WithRateLimitCooldown(%v)) failed: %v",
					tt.cooldown, err)
			}
			defer func() { _ = q.Close() }()

			if q.rateLimitCooldown != tt.cooldown {
				t.Errorf("rateLimitCooldown = %v, want %v",
					q.rateLimitCooldown, tt.cooldown)
			}
		})
	}
}

// TestClose verifies the first Close succeeds and the second errors,
// matching transport double-close behavior.
func TestClose(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
	if err := q.Close(); err == nil {
		t.Error("second Close() returned nil, want error")
	}
}

// TestQuery_AfterClose verifies operations on a closed querier are
// rejected instead of touching dead sockets.
func TestQuery_AfterClose(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	_ = q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Query(ctx, "printer.local", RecordTypeA); err == nil {
		t.Error("Query on closed querier returned nil error")
	}
}

// TestQuery_RateLimitExceeded verifies the per-name limiter rejects
// the send after the threshold within one cooldown window.
func TestQuery_RateLimitExceeded(t *testing.T) {
	mock := transport.NewMockTransport()
	q, err := New(
		WithTransport(mock),
		WithTimeout(10*time.Millisecond),
		WithRateLimit(true),
		WithRateLimitThreshold(2),
		WithRateLimitCooldown(time.Hour),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	for i := 0; i < 2; i++ {
		if _, err := q.Query(context.Background(), "busy.local", RecordTypeA); err != nil {
			t.Fatalf("Query %d failed: %v", i, err)
		}
	}
	if _, err := q.Query(context.Background(), "busy.local", RecordTypeA); err == nil {
		t.Error("third Query within the window returned nil, want rate limit error")
	}
	// A different name is unaffected.
	if _, err := q.Query(context.Background(), "idle.local", RecordTypeA); err != nil {
		t.Errorf("Query for different name failed: %v", err)
	}
}

// TestQuery_SRVRecordAccessor verifies an SRV record arriving off the
// wire comes back from Query in this package's SRVData shape, so
// AsSRV() works on live results and not just hand-built records.
func TestQuery_SRVRecordAccessor(t *testing.T) {
	mock := transport.NewMockTransport()
	q, err := New(
		WithTransport(mock),
		WithTimeout(100*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() { _ = q.Close() }()

	// Deliver a canned SRV answer once the query goes out.
	mock.OnSend = func(transport.SendCall) {
		srvData := make([]byte, 6)
		binary.BigEndian.PutUint16(srvData[4:6], 8080)
		target, err := message.EncodeName("server.local")
		if err != nil {
			t.Errorf("EncodeName failed: %v", err)
			return
		}
		srvData = append(srvData, target...)

		packet, err := message.PackMessage(&message.Message{
			Header: message.Header{Flags: message.FlagQR | message.FlagAA},
			Answers: []message.RR{{
				Name:  "web._http._tcp.local",
				Type:  protocol.RecordTypeSRV,
				Class: protocol.ClassIN,
				TTL:   120,
				RData: srvData,
			}},
		})
		if err != nil {
			t.Errorf("PackMessage failed: %v", err)
			return
		}
		mock.Inject(packet, &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 5353}, 0)
	}

	response, err := q.Query(context.Background(), "web._http._tcp.local", RecordTypeSRV)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(response.Records) != 1 {
		t.Fatalf("Records count = %d, want 1", len(response.Records))
	}

	srv := response.Records[0].AsSRV()
	if srv == nil {
		t.Fatal("AsSRV() returned nil for a live SRV record")
	}
	if srv.Port != 8080 || srv.Target != "server.local" {
		t.Errorf("SRV = %+v, want port 8080 target server.local", srv)
	}
}

// TestResourceRecordAccessors validates the type-safe accessor methods
// return nil/empty for wrong record types and malformed data.
func TestResourceRecordAccessors(t *testing.T) {
	tests := []struct {
		name       string
		record     ResourceRecord
		expectA    bool
		expectAAAA bool
		expectPTR  bool
		expectSRV  bool
		expectTXT  bool
	}{
		{
			name: "A record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeA,
				Data: net.IPv4(192, 168, 1, 1),
			},
			expectA: true,
		},
		{
			name: "AAAA record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeAAAA,
				Data: net.ParseIP("2001:db8::1"),
			},
			expectAAAA: true,
		},
		{
			name: "PTR record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypePTR,
				Data: "target.local",
			},
			expectPTR: true,
		},
		{
			name: "SRV record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeSRV,
				Data: SRVData{
					Target:   "server.local",
					Priority: 0,
					Weight:   0,
					Port:     8080,
				},
			},
			expectSRV: true,
		},
		{
			name: "TXT record",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeTXT,
				Data: []string{"key=value", "version=1"},
			},
			expectTXT: true,
		},
		{
			name: "A record with wrong data type",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeA,
				Data: "not an IP",
			},
		},
		{
			name: "SRV record with wrong data type",
			record: ResourceRecord{
				Name: "test.local",
				Type: RecordTypeSRV,
				Data: "not SRVData",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.AsA(); (got != nil) != tt.expectA {
				t.Errorf("AsA() = %v, want present=%v", got, tt.expectA)
			}
			if got := tt.record.AsAAAA(); (got != nil) != tt.expectAAAA {
				t.Errorf("AsAAAA() = %v, want present=%v", got, tt.expectAAAA)
			}
			if got := tt.record.AsPTR(); (got != "") != tt.expectPTR {
				t.Errorf("AsPTR() = %q, want present=%v", got, tt.expectPTR)
			}
			if got := tt.record.AsSRV(); (got != nil) != tt.expectSRV {
				t.Errorf("AsSRV() = %v, want present=%v", got, tt.expectSRV)
			}
			if got := tt.record.AsTXT(); (got != nil) != tt.expectTXT {
				t.Errorf("AsTXT() = %v, want present=%v", got, tt.expectTXT)
			}
		})
	}
}

// TestRecordTypeString verifies RecordType.String() returns the RFC
// mnemonics.
func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		recordType RecordType
		expected   string
	}{
		{RecordTypeA, "A"},
		{RecordTypePTR, "PTR"},
		{RecordTypeSRV, "SRV"},
		{RecordTypeTXT, "TXT"},
		{RecordTypeAAAA, "AAAA"},
		{RecordTypeNSEC, "NSEC"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.recordType.String(); got != tt.expected {
				t.Errorf("RecordType(%d).String() = %q, want %q",
					tt.recordType, got, tt.expected)
			}
		})
	}
}

// contains is a helper to check if a string contains a substring.
func contains(s, substr string) bool {
	return len(s) >= len(substr) &&
		(s == substr || len(s) > len(substr) &&
			func() bool {
				for i := 0; i <= len(s)-len(substr); i++ {
					if s[i:i+len(substr)] == substr {
						return true
					}
				}
				return false
			}())
}
