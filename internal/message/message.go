package message

import (
	"encoding/binary"
	"net"
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

const headerSize = 12

// Header flag bits (RFC 1035 §4.1.1).
const (
	FlagQR uint16 = 1 << 15
	FlagAA uint16 = 1 << 10
	FlagTC uint16 = 1 << 9
	FlagRD uint16 = 1 << 8
	FlagRA uint16 = 1 << 7

	opcodeShift = 11
	opcodeMask  = 0x0F
	rcodeMask   = 0x000F
)

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h Header) QR() bool      { return h.Flags&FlagQR != 0 }
func (h Header) AA() bool      { return h.Flags&FlagAA != 0 }
func (h Header) TC() bool      { return h.Flags&FlagTC != 0 }
func (h Header) RD() bool      { return h.Flags&FlagRD != 0 }
func (h Header) RA() bool      { return h.Flags&FlagRA != 0 }
func (h Header) Opcode() uint8 { return uint8((h.Flags >> opcodeShift) & opcodeMask) }
func (h Header) RCode() uint8  { return uint8(h.Flags & rcodeMask) }

// Question is a single entry in a message's question section.
type Question struct {
	Name  string
	Type  protocol.RecordType
	Class uint16
}

// QU reports whether the unicast-response bit is set on this question
// (RFC 6762 §5.4).
func (q Question) QU() bool { return protocol.HasCacheFlush(q.Class) }

// QClass returns the question's class with the QU bit stripped.
func (q Question) QClass() uint16 { return protocol.ClassWithoutFlags(q.Class) }

// SRVData is the decoded RDATA of an SRV record (RFC 2782).
type SRVData struct {
	Target   string
	Priority uint16
	Weight   uint16
	Port     uint16
}

// RR is a single resource record. RData carries the wire-format bytes;
// Decoded carries a typed view when the type is understood (string for
// PTR, SRVData for SRV, []string for TXT, net.IP for A/AAAA) and is nil
// for unrecognized types or records built programmatically for sending
// where only RData was supplied.
type RR struct {
	Name    string
	Decoded interface{}
	RData   []byte
	Type    protocol.RecordType
	Class   uint16
	TTL     uint32
}

// CacheFlush reports whether the cache-flush bit is set on this answer
// (RFC 6762 §10.2).
func (r RR) CacheFlush() bool { return protocol.HasCacheFlush(r.Class) }

// Message is a full decoded (or to-be-encoded) DNS message.
type Message struct {
	Header     Header
	Questions  []Question
	Answers    []RR
	Authority  []RR
	Additional []RR
}

// ParseMessage decodes a raw UDP payload into a Message. Any structural
// problem (short header, truncated section, malformed name) returns a
// *errors.WireFormatError; callers are expected to silently discard the
// datagram on error per RFC 6762's tolerance of cross-traffic on port 5353.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, &errors.WireFormatError{
			Operation: "parse message",
			Offset:    0,
			Details:   "message shorter than 12-byte header",
		}
	}

	h := Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}

	offset := headerSize
	msg := &Message{Header: h}
	var err error

	msg.Questions, offset, err = parseQuestions(data, offset, int(h.QDCount))
	if err != nil {
		return nil, err
	}
	msg.Answers, offset, err = parseRRs(data, offset, int(h.ANCount))
	if err != nil {
		return nil, err
	}
	msg.Authority, offset, err = parseRRs(data, offset, int(h.NSCount))
	if err != nil {
		return nil, err
	}
	msg.Additional, _, err = parseRRs(data, offset, int(h.ARCount))
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func parseQuestions(data []byte, offset, count int) ([]Question, int, error) {
	questions := make([]Question, 0, count)
	for i := 0; i < count; i++ {
		name, next, err := ParseName(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next
		if offset+4 > len(data) {
			return nil, 0, &errors.WireFormatError{
				Operation: "parse question",
				Offset:    offset,
				Details:   "truncated question",
			}
		}
		questions = append(questions, Question{
			Name:  name,
			Type:  protocol.RecordType(binary.BigEndian.Uint16(data[offset : offset+2])),
			Class: binary.BigEndian.Uint16(data[offset+2 : offset+4]),
		})
		offset += 4
	}
	return questions, offset, nil
}

func parseRRs(data []byte, offset, count int) ([]RR, int, error) {
	rrs := make([]RR, 0, count)
	for i := 0; i < count; i++ {
		name, next, err := ParseName(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next
		if offset+10 > len(data) {
			return nil, 0, &errors.WireFormatError{
				Operation: "parse resource record",
				Offset:    offset,
				Details:   "truncated resource record preamble",
			}
		}

		rtype := protocol.RecordType(binary.BigEndian.Uint16(data[offset : offset+2]))
		class := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		ttl := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		rdlen := int(binary.BigEndian.Uint16(data[offset+8 : offset+10]))
		rdataOffset := offset + 10

		if rdataOffset+rdlen > len(data) {
			return nil, 0, &errors.WireFormatError{
				Operation: "parse resource record",
				Offset:    rdataOffset,
				Details:   "truncated rdata",
			}
		}

		raw := make([]byte, rdlen)
		copy(raw, data[rdataOffset:rdataOffset+rdlen])

		decoded, err := decodeRData(data, rtype, rdataOffset, rdlen)
		if err != nil {
			return nil, 0, err
		}

		rrs = append(rrs, RR{
			Name:    name,
			Type:    rtype,
			Class:   class,
			TTL:     ttl,
			RData:   raw,
			Decoded: decoded,
		})
		offset = rdataOffset + rdlen
	}
	return rrs, offset, nil
}

func decodeRData(data []byte, rtype protocol.RecordType, rdataOffset, rdlen int) (interface{}, error) {
	switch rtype {
	case protocol.RecordTypePTR:
		target, _, err := ParseName(data, rdataOffset)
		if err != nil {
			return nil, err
		}
		return target, nil

	case protocol.RecordTypeSRV:
		if rdlen < 6 {
			return nil, &errors.WireFormatError{
				Operation: "parse SRV rdata",
				Offset:    rdataOffset,
				Details:   "truncated SRV rdata",
			}
		}
		target, _, err := ParseName(data, rdataOffset+6)
		if err != nil {
			return nil, err
		}
		return SRVData{
			Priority: binary.BigEndian.Uint16(data[rdataOffset : rdataOffset+2]),
			Weight:   binary.BigEndian.Uint16(data[rdataOffset+2 : rdataOffset+4]),
			Port:     binary.BigEndian.Uint16(data[rdataOffset+4 : rdataOffset+6]),
			Target:   target,
		}, nil

	case protocol.RecordTypeTXT:
		return decodeTXT(data[rdataOffset : rdataOffset+rdlen]), nil

	case protocol.RecordTypeA:
		if rdlen != 4 {
			return nil, &errors.WireFormatError{
				Operation: "parse A rdata",
				Offset:    rdataOffset,
				Details:   "A rdata must be 4 bytes",
			}
		}
		ip := make(net.IP, 4)
		copy(ip, data[rdataOffset:rdataOffset+4])
		return ip, nil

	case protocol.RecordTypeAAAA:
		if rdlen != 16 {
			return nil, &errors.WireFormatError{
				Operation: "parse AAAA rdata",
				Offset:    rdataOffset,
				Details:   "AAAA rdata must be 16 bytes",
			}
		}
		ip := make(net.IP, 16)
		copy(ip, data[rdataOffset:rdataOffset+16])
		return ip, nil

	case protocol.RecordTypeNSEC:
		// Decoded only to be recognized and skipped (RFC 4034 §4); the
		// bitmap blocks themselves are never consulted by this responder.
		nextName, _, err := ParseName(data, rdataOffset)
		if err != nil {
			return nil, err
		}
		return nextName, nil

	default:
		return nil, nil
	}
}

func decodeTXT(rdata []byte) []string {
	var out []string
	pos := 0
	for pos < len(rdata) {
		length := int(rdata[pos])
		pos++
		if pos+length > len(rdata) {
			break
		}
		out = append(out, string(rdata[pos:pos+length]))
		pos += length
	}
	return out
}

// PackMessage serializes a Message to wire format, compressing owner
// names against earlier occurrences per RFC 1035 §4.1.4. Names inside
// RDATA are carried as the caller encoded them; an uncompressed RDATA
// name is always valid to receive.
func PackMessage(msg *Message) ([]byte, error) {
	p := &packer{
		buf:     make([]byte, headerSize),
		offsets: make(map[string]int),
	}
	binary.BigEndian.PutUint16(p.buf[0:2], msg.Header.ID)
	binary.BigEndian.PutUint16(p.buf[2:4], msg.Header.Flags)
	binary.BigEndian.PutUint16(p.buf[4:6], uint16(len(msg.Questions)))
	binary.BigEndian.PutUint16(p.buf[6:8], uint16(len(msg.Answers)))
	binary.BigEndian.PutUint16(p.buf[8:10], uint16(len(msg.Authority)))
	binary.BigEndian.PutUint16(p.buf[10:12], uint16(len(msg.Additional)))

	for _, q := range msg.Questions {
		if err := p.writeName(q.Name); err != nil {
			return nil, err
		}
		var typeClass [4]byte
		binary.BigEndian.PutUint16(typeClass[0:2], uint16(q.Type))
		binary.BigEndian.PutUint16(typeClass[2:4], q.Class)
		p.buf = append(p.buf, typeClass[:]...)
	}

	for _, section := range [][]RR{msg.Answers, msg.Authority, msg.Additional} {
		for _, rr := range section {
			if err := p.writeRR(rr); err != nil {
				return nil, err
			}
		}
	}

	return p.buf, nil
}

// packer accumulates a message being encoded plus the compression table
// mapping each fully-qualified suffix already written (lowercased, since
// compression matching is case-insensitive) to its byte offset.
type packer struct {
	offsets map[string]int
	buf     []byte
}

const maxPointerOffset = 0x3FFF

// writeName encodes an owner name, emitting a compression pointer when a
// suffix has already been written earlier in the message. Unlike
// EncodeName it does not constrain label characters: DNS-SD instance
// labels are arbitrary UTF-8 (RFC 6763 §4.3) and must pass through
// byte-for-byte.
func (p *packer) writeName(input string) error {
	name := strings.TrimSuffix(input, ".")
	if name == "" {
		p.buf = append(p.buf, 0x00)
		return nil
	}

	labels := strings.Split(name, ".")
	written := 0
	for i, label := range labels {
		suffix := strings.ToLower(strings.Join(labels[i:], "."))
		if off, ok := p.offsets[suffix]; ok {
			p.buf = append(p.buf, byte(pointerMask|off>>8), byte(off))
			return nil
		}

		if len(label) == 0 || len(label) > maxLabelLength {
			return &errors.ValidationError{
				Field:   "name",
				Value:   input,
				Details: "label must be 1-63 bytes per RFC 1035 §3.1",
			}
		}
		if len(p.buf) <= maxPointerOffset {
			p.offsets[suffix] = len(p.buf)
		}
		p.buf = append(p.buf, byte(len(label)))
		p.buf = append(p.buf, label...)

		written += len(label) + 1
		if written > maxNameLength {
			return &errors.ValidationError{
				Field:   "name",
				Value:   input,
				Details: "name exceeds maximum 255 bytes per RFC 1035 §3.1",
			}
		}
	}
	p.buf = append(p.buf, 0x00)
	return nil
}

func (p *packer) writeRR(rr RR) error {
	if err := p.writeName(rr.Name); err != nil {
		return err
	}

	var preamble [10]byte
	binary.BigEndian.PutUint16(preamble[0:2], uint16(rr.Type))
	binary.BigEndian.PutUint16(preamble[2:4], rr.Class)
	binary.BigEndian.PutUint32(preamble[4:8], rr.TTL)
	binary.BigEndian.PutUint16(preamble[8:10], uint16(len(rr.RData)))
	p.buf = append(p.buf, preamble[:]...)
	p.buf = append(p.buf, rr.RData...)
	return nil
}
