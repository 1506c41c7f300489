package records

import (
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
)

// RecordTTL tracks a resource record's creation time so its remaining
// TTL can be computed on demand per RFC 6762 §10.
type RecordTTL struct {
	CreatedAt  time.Time
	TTL        uint32
	RecordType protocol.RecordType
}

// NewRecordTTL creates a RecordTTL stamped with the current time.
func NewRecordTTL(recordType protocol.RecordType, ttl uint32) *RecordTTL {
	return &RecordTTL{
		RecordType: recordType,
		TTL:        ttl,
		CreatedAt:  time.Now(),
	}
}

// GetRemainingTTL returns the number of whole seconds left before this
// record expires, floored at zero.
func (r *RecordTTL) GetRemainingTTL() uint32 {
	elapsed := time.Since(r.CreatedAt)
	if elapsed < 0 {
		return r.TTL
	}
	elapsedSeconds := uint32(elapsed / time.Second)
	if elapsedSeconds >= r.TTL {
		return 0
	}
	return r.TTL - elapsedSeconds
}

// IsExpired reports whether the TTL has fully elapsed.
func (r *RecordTTL) IsExpired() bool {
	return time.Since(r.CreatedAt) >= time.Duration(r.TTL)*time.Second
}

// GetTTLForRecordType returns the TTL this responder applies to a given
// record type per RFC 6762 §10: PTR records enumerating a service type
// get a long TTL, everything tied to one particular host instance gets
// a short one.
func GetTTLForRecordType(recordType protocol.RecordType) uint32 {
	switch recordType {
	case protocol.RecordTypePTR:
		return protocol.TTLPTR
	case protocol.RecordTypeA, protocol.RecordTypeAAAA, protocol.RecordTypeSRV, protocol.RecordTypeTXT:
		return protocol.TTLInstance
	default:
		return protocol.TTLInstance
	}
}
