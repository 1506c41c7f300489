package records

import (
	"strings"
	"sync"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// EnumerationName is the DNS-SD meta-query target used to enumerate
// every advertised service type (RFC 6763 §9).
const EnumerationName = "_services._dns-sd._udp.local."

// Zone is the authoritative view a responder holds of the records it
// is willing to answer with. It is safe for concurrent use; services
// may be registered and removed while queries are being answered.
type Zone struct {
	services []*ServiceInfo
	mu       sync.RWMutex
}

// NewZone creates an empty zone.
func NewZone() *Zone {
	return &Zone{}
}

// SetServices replaces the zone's full service list.
func (z *Zone) SetServices(services []*ServiceInfo) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.services = services
}

// Records returns the resource records that answer a question of the
// given name and type, per the dispatch table:
//
//	enum_addr                + PTR/ANY  -> PTR to each advertised service type
//	<service>.<domain>.      + PTR/ANY  -> PTR to the instance, plus SRV/TXT/A/AAAA
//	<instance>.<service>...  + SRV/ANY  -> SRV, plus A/AAAA
//	<instance>.<service>...  + TXT/ANY  -> TXT
//	<hostname>               + A/ANY    -> one A per advertised IPv4
//	<hostname>               + AAAA/ANY -> one AAAA per advertised IPv6
//
// resolveIPv4, if non-nil, overrides a service's configured address
// with the address of the interface the query arrived on (RFC 6762
// §15), so a responder bound to several interfaces never answers with
// an address invalid on the interface that asked.
func (z *Zone) Records(name string, qtype protocol.RecordType, resolveIPv4 func(hostname string) []byte) []*ResourceRecord {
	z.mu.RLock()
	defer z.mu.RUnlock()

	nameLower := strings.ToLower(strings.TrimSuffix(name, "."))

	if nameLower == strings.TrimSuffix(EnumerationName, ".") && matchesType(qtype, protocol.RecordTypePTR) {
		return z.enumerationRecords()
	}

	var out []*ResourceRecord
	for _, svc := range z.services {
		out = append(out, z.recordsForService(svc, nameLower, qtype, resolveIPv4)...)
	}
	return out
}

func (z *Zone) enumerationRecords() []*ResourceRecord {
	seen := make(map[string]bool)
	var out []*ResourceRecord
	for _, svc := range z.services {
		if seen[svc.ServiceType] {
			continue
		}
		seen[svc.ServiceType] = true

		data, err := message.EncodeName(svc.ServiceType)
		if err != nil {
			continue
		}
		out = append(out, &ResourceRecord{
			Name:  EnumerationName,
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLPTR,
			Data:  data,
		})
	}
	return out
}

func (z *Zone) recordsForService(svc *ServiceInfo, nameLower string, qtype protocol.RecordType, resolveIPv4 func(string) []byte) []*ResourceRecord {
	serviceAddr := strings.ToLower(svc.ServiceType)
	instanceAddr := strings.ToLower(svc.InstanceName + "." + svc.ServiceType)
	hostname := strings.ToLower(svc.Hostname)

	switch nameLower {
	case serviceAddr:
		if !matchesType(qtype, protocol.RecordTypePTR) {
			return nil
		}
		full := BuildRecordSet(resolveServiceInfo(svc, resolveIPv4))
		return orderWithTypeFirst(full, protocol.RecordTypePTR)

	case instanceAddr:
		full := BuildRecordSet(resolveServiceInfo(svc, resolveIPv4))
		var out []*ResourceRecord
		if matchesType(qtype, protocol.RecordTypeSRV) {
			out = append(out, filterTypes(full, protocol.RecordTypeSRV, protocol.RecordTypeA, protocol.RecordTypeAAAA)...)
		}
		if matchesType(qtype, protocol.RecordTypeTXT) {
			out = append(out, filterTypes(full, protocol.RecordTypeTXT)...)
		}
		return out

	case hostname:
		resolved := resolveServiceInfo(svc, resolveIPv4)
		var out []*ResourceRecord
		if matchesType(qtype, protocol.RecordTypeA) {
			out = append(out, filterTypes(buildAddressRecords(resolved), protocol.RecordTypeA)...)
		}
		if matchesType(qtype, protocol.RecordTypeAAAA) {
			out = append(out, filterTypes(buildAddressRecords(resolved), protocol.RecordTypeAAAA)...)
		}
		return out
	}

	return nil
}

func matchesType(qtype, want protocol.RecordType) bool {
	return qtype == want || qtype == protocol.RecordTypeANY
}

func orderWithTypeFirst(records []*ResourceRecord, first protocol.RecordType) []*ResourceRecord {
	out := make([]*ResourceRecord, 0, len(records))
	for _, r := range records {
		if r.Type == first {
			out = append(out, r)
		}
	}
	for _, r := range records {
		if r.Type != first {
			out = append(out, r)
		}
	}
	return out
}

func filterTypes(records []*ResourceRecord, types ...protocol.RecordType) []*ResourceRecord {
	want := make(map[protocol.RecordType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*ResourceRecord
	for _, r := range records {
		if want[r.Type] {
			out = append(out, r)
		}
	}
	return out
}

// resolveServiceInfo returns a copy of svc with its IPv4 address
// substituted by resolveIPv4 when supplied, leaving the zone's stored
// service untouched. Explicitly configured address lists are
// authoritative and are never overridden.
func resolveServiceInfo(svc *ServiceInfo, resolveIPv4 func(string) []byte) *ServiceInfo {
	addr := svc.IPv4Address
	if resolveIPv4 != nil && len(svc.Addresses) == 0 {
		if resolved := resolveIPv4(svc.Hostname); resolved != nil {
			addr = resolved
		}
	}
	return &ServiceInfo{
		InstanceName: svc.InstanceName,
		ServiceType:  svc.ServiceType,
		Hostname:     svc.Hostname,
		Port:         svc.Port,
		Addresses:    svc.Addresses,
		IPv4Address:  addr,
		TXTRecords:   svc.TXTRecords,
	}
}
