// Package message implements the DNS wire codec used for mDNS messages:
// name compression (RFC 1035 §4.1.4), the message/question/RR layout
// (RFC 1035 §4), and the record-specific RDATA shapes mDNS/DNS-SD need
// (RFC 2782, RFC 3596, RFC 6763, RFC 4034 §4 for NSEC).
package message

import (
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
)

const (
	maxLabelLength = 63
	maxNameLength  = 255
	pointerMask    = 0xC0
)

// ParseName decodes a DNS name starting at offset in data, following
// compression pointers per RFC 1035 §4.1.4. It returns the dotted-label
// string, the offset immediately following the name in the original
// message (not following any pointer jump), and an error if the name is
// malformed or truncated.
func ParseName(data []byte, offset int) (string, int, error) {
	if offset < 0 || offset > len(data) {
		return "", 0, &errors.WireFormatError{
			Operation: "parse name",
			Offset:    offset,
			Details:   "offset out of bounds",
		}
	}

	var labels []string
	pos := offset
	endOffset := -1 // offset to report back once we've followed a pointer
	visited := make(map[int]bool)
	totalLen := 0

	for {
		if pos >= len(data) {
			return "", 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Details:   "offset out of bounds",
			}
		}

		b := data[pos]

		if b&pointerMask == pointerMask {
			if pos+1 >= len(data) {
				return "", 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Details:   "truncated compression pointer",
				}
			}
			target := int(b&^pointerMask)<<8 | int(data[pos+1])

			if endOffset == -1 {
				endOffset = pos + 2
			}

			if visited[target] || target >= pos {
				return "", 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Details:   "invalid compression pointer",
				}
			}
			visited[target] = true
			pos = target
			continue
		}

		if b == 0 {
			pos++
			if endOffset == -1 {
				endOffset = pos
			}
			break
		}

		length := int(b)
		if length > maxLabelLength {
			return "", 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Details:   "label exceeds maximum 63 bytes per RFC 1035 §3.1",
			}
		}

		labelStart := pos + 1
		labelEnd := labelStart + length
		if labelEnd > len(data) {
			return "", 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Details:   "truncated label",
			}
		}

		labels = append(labels, string(data[labelStart:labelEnd]))
		totalLen += length + 1
		if totalLen > maxNameLength {
			return "", 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Details:   "name exceeds maximum 255 bytes per RFC 1035 §3.1",
			}
		}

		pos = labelEnd
	}

	return strings.Join(labels, "."), endOffset, nil
}

// EncodeName encodes a dotted-label DNS name into wire format per
// RFC 1035 §3.1. A bare "" or "." encodes as the root name (a single
// zero byte).
func EncodeName(input string) ([]byte, error) {
	name := strings.TrimSuffix(input, ".")
	if name == "" {
		return []byte{0x00}, nil
	}

	labels := strings.Split(name, ".")
	out := make([]byte, 0, len(name)+len(labels)+1)
	total := 0

	for _, label := range labels {
		if label == "" {
			return nil, &errors.ValidationError{
				Field:   "name",
				Value:   input,
				Details: "empty label (consecutive dots) is not permitted per RFC 1035 §3.1",
			}
		}
		if len(label) > maxLabelLength {
			return nil, &errors.ValidationError{
				Field:   "name",
				Value:   input,
				Details: "label exceeds maximum length 63 bytes per RFC 1035 §3.1",
			}
		}
		if err := validateLabelChars(label, input); err != nil {
			return nil, err
		}

		out = append(out, byte(len(label)))
		out = append(out, label...)
		total += len(label) + 1
		if total > maxNameLength {
			return nil, &errors.ValidationError{
				Field:   "name",
				Value:   input,
				Details: "name exceeds maximum 255 bytes per RFC 1035 §3.1",
			}
		}
	}

	out = append(out, 0x00)
	return out, nil
}

func validateLabelChars(label, original string) error {
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return &errors.ValidationError{
				Field:   "name",
				Value:   original,
				Details: "invalid character in label",
			}
		}
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return &errors.ValidationError{
			Field:   "name",
			Value:   original,
			Details: "hyphen cannot be first or last character of a label",
		}
	}
	return nil
}

// EncodeServiceInstanceName encodes a DNS-SD service instance name per
// RFC 6763 §4.3: the instance portion is a single label that may hold
// arbitrary UTF-8 (including spaces), prepended to the normally-encoded
// service type.
func EncodeServiceInstanceName(instanceName, serviceType string) ([]byte, error) {
	if instanceName == "" {
		return nil, &errors.ValidationError{
			Field:   "instanceName",
			Value:   instanceName,
			Details: "instance name must not be empty",
		}
	}
	if len(instanceName) > maxLabelLength {
		return nil, &errors.ValidationError{
			Field:   "instanceName",
			Value:   instanceName,
			Details: "instance name exceeds maximum 63 octets per RFC 1035 §2.3.4",
		}
	}

	rest, err := EncodeName(serviceType)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(instanceName)+len(rest))
	out = append(out, byte(len(instanceName)))
	out = append(out, instanceName...)
	out = append(out, rest...)
	return out, nil
}
