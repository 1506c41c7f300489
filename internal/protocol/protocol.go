// Package protocol holds the wire-level constants shared by every other
// package in this module: DNS record types and classes (RFC 1035 §3.2),
// the TTL policy this responder applies (RFC 6762 §10), and the mDNS
// multicast groups and port (RFC 6762 §3).
package protocol

// RecordType is a DNS resource record TYPE value (RFC 1035 §3.2.2).
type RecordType uint16

const (
	RecordTypeA    RecordType = 1
	RecordTypePTR  RecordType = 12
	RecordTypeTXT  RecordType = 16
	RecordTypeAAAA RecordType = 28
	RecordTypeSRV  RecordType = 33
	RecordTypeNSEC RecordType = 47

	// RecordTypeANY is the QTYPE meaning "any type" (RFC 1035 §3.2.3),
	// valid only in questions, never in an answer.
	RecordTypeANY RecordType = 255
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeA:
		return "A"
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeAAAA:
		return "AAAA"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeNSEC:
		return "NSEC"
	default:
		return "UNKNOWN"
	}
}

// ClassIN is the Internet class (RFC 1035 §3.2.4). mDNS overlays the
// cache-flush bit on the top bit of the class field of a resource
// record (RFC 6762 §10.2) and the unicast-response (QU) bit on the top
// bit of the class field of a question (RFC 6762 §5.4); both are kept
// out of this constant and handled by the message codec.
const ClassIN uint16 = 1

const (
	classCacheFlushBit uint16 = 0x8000
	classMask          uint16 = 0x7FFF
)

// ClassWithCacheFlush sets the cache-flush bit on a resource record
// class field per RFC 6762 §10.2.
func ClassWithCacheFlush(class uint16) uint16 { return class | classCacheFlushBit }

// ClassWithoutFlags strips the cache-flush/QU bit from a class field.
func ClassWithoutFlags(class uint16) uint16 { return class & classMask }

// HasCacheFlush reports whether the cache-flush (or QU) bit is set on
// a class field.
func HasCacheFlush(class uint16) bool { return class&classCacheFlushBit != 0 }

// TTL policy per RFC 6762 §10: instance-specific records (SRV, TXT, A,
// AAAA) use a short TTL since they are tied to a single host's
// liveness; PTR records enumerating a service type use a much longer
// TTL since the existence of the service type changes rarely.
const (
	TTLInstance uint32 = 120
	TTLPTR      uint32 = 4500
)

// Port is the mDNS UDP port (RFC 6762 §3).
const Port = 5353

// Multicast group addresses (RFC 6762 §3).
const (
	MulticastAddrIPv4 = "224.0.0.251"
	MulticastAddrIPv6 = "ff02::fb"
)
