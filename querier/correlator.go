package querier

import (
	"net"
	"strings"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// ServiceEntry is the assembled view of one discovered service
// instance: its PTR identity, SRV host and port, address records, and
// TXT metadata, merged across however many datagrams carried them.
type ServiceEntry struct {
	// Name is the full instance name, e.g.
	// "My Printer._ipp._tcp.local."
	Name string

	// Host is the SRV target hostname.
	Host string

	// AddrsV4 and AddrsV6 are the addresses Host resolved to.
	AddrsV4 []net.IP
	AddrsV6 []net.IP

	// Port is the SRV port.
	Port int

	// Info is the first TXT string; InfoFields carries all of them in
	// wire order.
	Info       string
	InfoFields []string

	hasTXT bool
	sent   bool
}

// Complete reports whether enough records have arrived to hand the
// entry to a consumer: an address, a port, and the TXT record.
func (e *ServiceEntry) Complete() bool {
	return (len(e.AddrsV4) > 0 || len(e.AddrsV6) > 0) && e.Port != 0 && e.hasTXT
}

// correlator folds resource records arriving across datagrams and
// sockets into ServiceEntry values for one browsed service type.
//
// The map is keyed by lowercased name. A PTR record aliases its owner
// name to the entry of its target, so SRV/TXT records arriving under
// either name mutate the same entry.
type correlator struct {
	service string // normalized "<service>.<domain>." form
	entries map[string]*ServiceEntry
}

func newCorrelator(serviceAddr string) *correlator {
	return &correlator{
		service: normalizeName(serviceAddr),
		entries: make(map[string]*ServiceEntry),
	}
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

// ensure gets or creates the entry for name.
func (c *correlator) ensure(name string) *ServiceEntry {
	key := normalizeName(name)
	if e, ok := c.entries[key]; ok {
		return e
	}
	e := &ServiceEntry{Name: name}
	c.entries[key] = e
	return e
}

// fold merges one decoded message into the correlation map and returns
// the entries newly completed by it, at most once per entry per
// correlator lifetime. Answers and additionals are processed as one
// flat list in arrival order.
func (c *correlator) fold(msg *message.Message) []*ServiceEntry {
	for _, section := range [][]message.RR{msg.Answers, msg.Additional} {
		for i := range section {
			c.foldRecord(&section[i])
		}
	}
	return c.takeCompleted()
}

func (c *correlator) foldRecord(rr *message.RR) {
	switch rr.Type {
	case protocol.RecordTypePTR:
		target, ok := rr.Decoded.(string)
		if !ok || target == "" {
			return
		}
		entry := c.ensure(target)
		entry.Name = target
		// Alias the PTR owner to the same entry so records under either
		// name land in one place.
		c.entries[normalizeName(rr.Name)] = entry

	case protocol.RecordTypeSRV:
		srv, ok := rr.Decoded.(message.SRVData)
		if !ok {
			return
		}
		entry := c.ensure(rr.Name)
		entry.Host = srv.Target
		entry.Port = int(srv.Port)

	case protocol.RecordTypeA:
		ip, ok := rr.Decoded.(net.IP)
		if !ok {
			return
		}
		entry := c.ensure(rr.Name)
		entry.AddrsV4 = appendAddr(entry.AddrsV4, ip)
		c.propagateAddr(rr.Name, ip, false)

	case protocol.RecordTypeAAAA:
		ip, ok := rr.Decoded.(net.IP)
		if !ok {
			return
		}
		entry := c.ensure(rr.Name)
		entry.AddrsV6 = appendAddr(entry.AddrsV6, ip)
		c.propagateAddr(rr.Name, ip, true)

	case protocol.RecordTypeTXT:
		strs, ok := rr.Decoded.([]string)
		if !ok {
			strs = nil
		}
		entry := c.ensure(rr.Name)
		entry.InfoFields = strs
		if len(strs) > 0 {
			entry.Info = strs[0]
		}
		entry.hasTXT = true

	case protocol.RecordTypeNSEC:
		// Recognized and skipped.
	}
}

// propagateAddr copies an address record onto every entry whose SRV
// target is the record's owner name, covering instances that share one
// hostname.
func (c *correlator) propagateAddr(hostname string, ip net.IP, v6 bool) {
	key := normalizeName(hostname)
	for _, entry := range c.entries {
		if normalizeName(entry.Host) != key {
			continue
		}
		if v6 {
			entry.AddrsV6 = appendAddr(entry.AddrsV6, ip)
		} else {
			entry.AddrsV4 = appendAddr(entry.AddrsV4, ip)
		}
	}
}

func appendAddr(addrs []net.IP, ip net.IP) []net.IP {
	for _, existing := range addrs {
		if existing.Equal(ip) {
			return addrs
		}
	}
	return append(addrs, ip)
}

// takeCompleted collects entries that are complete, match the browsed
// service, and have not been emitted yet, latching them sent. Emitted
// entries are snapshots: later records for the same instance never
// mutate what a consumer already received.
func (c *correlator) takeCompleted() []*ServiceEntry {
	var out []*ServiceEntry
	seen := make(map[*ServiceEntry]bool)
	for _, entry := range c.entries {
		if seen[entry] || entry.sent || !entry.Complete() {
			continue
		}
		seen[entry] = true
		if !c.matchesService(entry.Name) {
			continue
		}
		entry.sent = true
		out = append(out, snapshot(entry))
	}
	return out
}

// matchesService accepts instance names of the browsed service type:
// either the name ends with "<service>.<domain>." or stripping its
// first label leaves exactly that suffix. Records for other services
// riding in the same datagram fail both tests.
func (c *correlator) matchesService(name string) bool {
	n := normalizeName(name)
	if n == c.service || strings.HasSuffix(n, "."+c.service) {
		return true
	}
	if i := strings.Index(n, "."); i >= 0 && n[i+1:] == c.service {
		return true
	}
	return false
}

func snapshot(e *ServiceEntry) *ServiceEntry {
	out := &ServiceEntry{
		Name:   e.Name,
		Host:   e.Host,
		Port:   e.Port,
		Info:   e.Info,
		hasTXT: e.hasTXT,
		sent:   true,
	}
	out.AddrsV4 = append(out.AddrsV4, e.AddrsV4...)
	out.AddrsV6 = append(out.AddrsV6, e.AddrsV6...)
	out.InfoFields = append(out.InfoFields, e.InfoFields...)
	return out
}
