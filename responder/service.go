package responder

import (
	"net"
	"strconv"
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
)

// Service is one mDNS service instance an application registers with a
// Responder. It corresponds to the zone's MDNSService entry before it is
// expanded into concrete resource records.
//
// Addresses optionally lists the IPv4/IPv6 addresses the hostname
// resolves to. When empty, the responder advertises a host address
// resolved at registration time, substituting the receiving interface's
// own address per RFC 6762 §15 when answering.
type Service struct {
	InstanceName string
	ServiceType  string // "_service._tcp.local" or "_service._udp.local"
	Hostname     string // defaults to the responder's hostname if empty
	Port         int
	Addresses    []net.IP
	TXTRecords   map[string]string
}

// Validate checks the fields RFC 6763 requires before a service can be
// installed into a zone.
func (s *Service) Validate() error {
	if s.InstanceName == "" {
		return &errors.ValidationError{Field: "InstanceName", Value: s.InstanceName, Details: "instance name cannot be empty"}
	}
	if !validServiceType(s.ServiceType) {
		return &errors.ValidationError{Field: "ServiceType", Value: s.ServiceType, Details: "invalid service type format"}
	}
	if s.Port < 1 || s.Port > 65535 {
		return &errors.ValidationError{Field: "Port", Value: strconv.Itoa(s.Port), Details: "port must be in range 1-65535"}
	}
	return nil
}

// validServiceType requires the RFC 6763 §7 "_service._proto" shape,
// optionally followed by a domain (".local" or similar).
func validServiceType(serviceType string) bool {
	labels := strings.Split(strings.TrimSuffix(serviceType, "."), ".")
	if len(labels) < 2 {
		return false
	}
	if !strings.HasPrefix(labels[0], "_") || len(labels[0]) < 2 {
		return false
	}
	proto := labels[1]
	return proto == "_tcp" || proto == "_udp"
}
