// Package records builds the resource record set a responder publishes
// for a registered service (RFC 6763 §6), tracks each record's TTL, and
// rate-limits repeated multicasts per record per interface (RFC 6762
// §6.2).
package records

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// ServiceInfo describes a single registered service instance: enough to
// build its full PTR/SRV/TXT/A/AAAA record set.
//
// Addresses, when set, is the full list of IPv4 and/or IPv6 addresses
// the hostname resolves to. When empty, IPv4Address alone is used, the
// shape single-homed IPv4 services registered before dual-stack support
// still rely on.
type ServiceInfo struct {
	InstanceName string
	ServiceType  string
	Hostname     string
	TXTRecords   map[string]string
	Addresses    []net.IP
	IPv4Address  []byte
	Port         uint16
}

// ipv4s returns the advertised IPv4 addresses in 4-byte form.
func (s *ServiceInfo) ipv4s() [][]byte {
	if len(s.Addresses) == 0 {
		return nil
	}
	var out [][]byte
	for _, ip := range s.Addresses {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, []byte(v4))
		}
	}
	return out
}

// ipv6s returns the advertised IPv6 addresses in 16-byte form.
func (s *ServiceInfo) ipv6s() [][]byte {
	var out [][]byte
	for _, ip := range s.Addresses {
		if ip.To4() == nil && ip.To16() != nil {
			out = append(out, []byte(ip.To16()))
		}
	}
	return out
}

// ResourceRecord is a single DNS resource record ready to go on the
// wire: Name/Type/Class/TTL plus pre-encoded RDATA.
type ResourceRecord struct {
	Name       string
	Data       []byte
	Type       protocol.RecordType
	Class      uint16
	TTL        uint32
	CacheFlush bool
}

// BuildRecordSet builds the records RFC 6763 §6 requires for a
// registered service instance: a PTR record under the service type so
// browsers can enumerate it, and SRV/TXT/A/AAAA records under the
// instance name that describe it.
func BuildRecordSet(service *ServiceInfo) []*ResourceRecord {
	instanceName := service.InstanceName + "." + service.ServiceType

	// The instance label is arbitrary UTF-8 (spaces included), so it is
	// encoded as a single opaque label ahead of the validated type labels.
	ptrData, _ := message.EncodeServiceInstanceName(service.InstanceName, service.ServiceType)
	ptr := &ResourceRecord{
		Name:  service.ServiceType,
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
		TTL:   protocol.TTLPTR,
		Data:  ptrData,
	}

	srv := &ResourceRecord{
		Name:       instanceName,
		Type:       protocol.RecordTypeSRV,
		Class:      protocol.ClassIN,
		TTL:        protocol.TTLInstance,
		Data:       buildSRVData(0, 0, service.Port, service.Hostname),
		CacheFlush: true,
	}

	txt := &ResourceRecord{
		Name:       instanceName,
		Type:       protocol.RecordTypeTXT,
		Class:      protocol.ClassIN,
		TTL:        protocol.TTLInstance,
		Data:       buildTXTRecord(service.TXTRecords),
		CacheFlush: true,
	}

	out := []*ResourceRecord{ptr, srv, txt}
	return append(out, buildAddressRecords(service)...)
}

// buildAddressRecords builds one A record per advertised IPv4 and one
// AAAA record per advertised IPv6. A service carrying no address list
// falls back to its single IPv4Address.
func buildAddressRecords(service *ServiceInfo) []*ResourceRecord {
	if len(service.Addresses) == 0 {
		return []*ResourceRecord{buildARecord(service)}
	}

	var out []*ResourceRecord
	for _, ip := range service.ipv4s() {
		data := make([]byte, 4)
		copy(data, ip)
		out = append(out, &ResourceRecord{
			Name:       service.Hostname,
			Type:       protocol.RecordTypeA,
			Class:      protocol.ClassIN,
			TTL:        protocol.TTLInstance,
			Data:       data,
			CacheFlush: true,
		})
	}
	for _, ip := range service.ipv6s() {
		data := make([]byte, 16)
		copy(data, ip)
		out = append(out, &ResourceRecord{
			Name:       service.Hostname,
			Type:       protocol.RecordTypeAAAA,
			Class:      protocol.ClassIN,
			TTL:        protocol.TTLInstance,
			Data:       data,
			CacheFlush: true,
		})
	}
	if len(out) == 0 {
		out = append(out, buildARecord(service))
	}
	return out
}

// buildSRVData encodes SRV RDATA per RFC 2782: priority, weight, port,
// then the target hostname.
func buildSRVData(priority, weight, port uint16, target string) []byte {
	targetBytes, _ := message.EncodeName(target)
	out := make([]byte, 6, 6+len(targetBytes))
	binary.BigEndian.PutUint16(out[0:2], priority)
	binary.BigEndian.PutUint16(out[2:4], weight)
	binary.BigEndian.PutUint16(out[4:6], port)
	out = append(out, targetBytes...)
	return out
}

// buildTXTRecord encodes TXT RDATA per RFC 6763 §6.4: each key=value
// pair is its own length-prefixed string. A service with no metadata
// MUST still include a single zero-length string (RFC 6763 §6).
func buildTXTRecord(kv map[string]string) []byte {
	if len(kv) == 0 {
		return []byte{0x00}
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		entry := k + "=" + kv[k]
		if len(entry) > 255 {
			entry = entry[:255]
		}
		out = append(out, byte(len(entry)))
		out = append(out, entry...)
	}
	return out
}

// buildARecord encodes the A record for a service's host. An
// IPv4Address that isn't exactly 4 bytes is replaced with the 0.0.0.0
// placeholder both in the returned record and on the ServiceInfo
// itself, so callers see the same fixed-up value the wire gets.
func buildARecord(service *ServiceInfo) *ResourceRecord {
	ip := service.IPv4Address
	if len(ip) != 4 {
		ip = []byte{0, 0, 0, 0}
		service.IPv4Address = ip
	}

	data := make([]byte, 4)
	copy(data, ip)

	return &ResourceRecord{
		Name:       service.Hostname,
		Type:       protocol.RecordTypeA,
		Class:      protocol.ClassIN,
		TTL:        protocol.TTLInstance,
		Data:       data,
		CacheFlush: true,
	}
}

// RecordSet tracks the last time each (record, interface) pair was
// multicast, enforcing RFC 6762 §6.2's minimum intervals: one second
// for ordinary responses, 250ms for probe-conflict defense.
type RecordSet struct {
	last map[string]time.Time
	mu   sync.Mutex
}

// NewRecordSet creates an empty multicast rate-limit tracker.
func NewRecordSet() *RecordSet {
	return &RecordSet{last: make(map[string]time.Time)}
}

func recordKey(rr *ResourceRecord, interfaceID string) string {
	return fmt.Sprintf("%s|%d|%s", rr.Name, rr.Type, interfaceID)
}

// CanMulticast reports whether rr may be multicast again on
// interfaceID under the ordinary one-second rule.
func (rs *RecordSet) CanMulticast(rr *ResourceRecord, interfaceID string) bool {
	return rs.canMulticast(rr, interfaceID, time.Second)
}

// CanMulticastProbeDefense reports whether rr may be multicast again on
// interfaceID under the 250ms probe-defense exception (RFC 6762 §6.2).
func (rs *RecordSet) CanMulticastProbeDefense(rr *ResourceRecord, interfaceID string) bool {
	return rs.canMulticast(rr, interfaceID, 250*time.Millisecond)
}

func (rs *RecordSet) canMulticast(rr *ResourceRecord, interfaceID string, minInterval time.Duration) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	last, ok := rs.last[recordKey(rr, interfaceID)]
	if !ok {
		return true
	}
	return time.Since(last) >= minInterval
}

// RecordMulticast marks rr as having just been multicast on
// interfaceID, resetting its rate-limit clock.
func (rs *RecordSet) RecordMulticast(rr *ResourceRecord, interfaceID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.last[recordKey(rr, interfaceID)] = time.Now()
}
