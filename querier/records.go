package querier

import (
	"net"

	"github.com/joshuafuller/beacon/internal/protocol"
)

// RecordType represents a DNS record type for querying per RFC 1035.
//
// Each type serves a specific purpose in DNS-SD service discovery:
//
//   - A/AAAA records: resolve hostnames to IPv4/IPv6 addresses
//   - PTR records: enumerate service instances of a given type
//   - SRV records: get service location (hostname and port)
//   - TXT records: retrieve service metadata (key=value pairs)
//
// Example:
//
//	// Query for an IPv4 address
//	response, _ := q.Query(ctx, "printer.local", querier.RecordTypeA)
//
//	// Discover HTTP services
//	response, _ = q.Query(ctx, "_http._tcp.local", querier.RecordTypePTR)
type RecordType uint16

const (
	// RecordTypeA queries for IPv4 address records (type 1).
	RecordTypeA RecordType = RecordType(protocol.RecordTypeA)

	// RecordTypePTR queries for pointer records (type 12), the entry
	// point of DNS-SD service discovery.
	RecordTypePTR RecordType = RecordType(protocol.RecordTypePTR)

	// RecordTypeTXT queries for text records (type 16) carrying
	// key=value service metadata.
	RecordTypeTXT RecordType = RecordType(protocol.RecordTypeTXT)

	// RecordTypeAAAA queries for IPv6 address records (type 28).
	RecordTypeAAAA RecordType = RecordType(protocol.RecordTypeAAAA)

	// RecordTypeSRV queries for service records (type 33) naming a
	// service's hostname and port.
	RecordTypeSRV RecordType = RecordType(protocol.RecordTypeSRV)

	// RecordTypeNSEC is type 47. Responders assert nonexistence with
	// it (RFC 6762 §6.1). Browse recognizes and skips it; Query returns
	// it like any other record.
	RecordTypeNSEC RecordType = RecordType(protocol.RecordTypeNSEC)
)

// String returns a human-readable name for the record type.
func (r RecordType) String() string {
	return protocol.RecordType(r).String()
}

// Response represents the aggregated results of a one-shot query:
// every unique resource record received within the timeout window,
// answers and additionals alike. Identical records from multiple
// responders are deduplicated.
//
// An empty Records slice means no device answered in time. That is not
// an error condition.
type Response struct {
	Records []ResourceRecord
}

// ResourceRecord is a single DNS resource record from an mDNS
// response, with raw DNS fields plus type-specific parsed data
// reachable through AsA, AsPTR, AsSRV, and AsTXT.
type ResourceRecord struct {
	// Data contains the type-specific parsed data:
	//   - A/AAAA record: net.IP
	//   - PTR record: string (target domain name)
	//   - SRV record: SRVData
	//   - TXT record: []string
	Data interface{}

	// Name is the domain name this record describes.
	Name string

	// TTL is the time-to-live in seconds.
	TTL uint32

	// Type is the DNS record type.
	Type RecordType

	// Class is the DNS class, IN for everything mDNS carries. The
	// cache-flush bit (RFC 6762 §10.2) has been stripped.
	Class uint16
}

// SRVData represents parsed SRV record data per RFC 2782.
type SRVData struct {
	// Target is the hostname providing the service; resolving it to an
	// address takes a further A/AAAA record.
	Target string

	// Priority orders targets, lower first.
	Priority uint16

	// Weight load-balances among targets of equal priority.
	Weight uint16

	// Port is where the service listens.
	Port uint16
}

// AsA returns the IPv4 address for an A record, or nil if this is not
// an A record.
func (r *ResourceRecord) AsA() net.IP {
	if r.Type != RecordTypeA {
		return nil
	}
	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}
	return ip
}

// AsAAAA returns the IPv6 address for a AAAA record, or nil if this is
// not a AAAA record.
func (r *ResourceRecord) AsAAAA() net.IP {
	if r.Type != RecordTypeAAAA {
		return nil
	}
	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}
	return ip
}

// AsPTR returns the target name for a PTR record, or "" if this is not
// a PTR record.
func (r *ResourceRecord) AsPTR() string {
	if r.Type != RecordTypePTR {
		return ""
	}
	target, ok := r.Data.(string)
	if !ok {
		return ""
	}
	return target
}

// AsSRV returns the SRV data for an SRV record, or nil if this is not
// an SRV record.
func (r *ResourceRecord) AsSRV() *SRVData {
	if r.Type != RecordTypeSRV {
		return nil
	}
	srv, ok := r.Data.(SRVData)
	if !ok {
		return nil
	}
	return &srv
}

// AsTXT returns the text strings for a TXT record, or nil if this is
// not a TXT record.
func (r *ResourceRecord) AsTXT() []string {
	if r.Type != RecordTypeTXT {
		return nil
	}
	txt, ok := r.Data.([]string)
	if !ok {
		return nil
	}
	return txt
}
