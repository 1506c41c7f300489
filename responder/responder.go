// Package responder implements the mDNS responder side of this module:
// applications register services, the responder answers matching
// queries from its zone over multicast or unicast per RFC 6762.
//
// A Responder owns a zone of registered services and, once started, a
// reader goroutine per open socket. Each inbound datagram is decoded,
// screened (queries only, standard opcode, clean rcode), answered from
// the zone, and the answers routed multicast or unicast according to
// each question's unicast-response bit (RFC 6762 §5.4).
//
// Probing and conflict detection (RFC 6762 §8) are deliberately not
// performed: Register installs the service into the zone immediately
// and the responder answers authoritatively from that point on.
//
// Example:
//
//	resp, err := responder.New(ctx, responder.WithHostname("mydevice.local"))
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
//	service := &responder.Service{
//	    InstanceName: "My Web Server",
//	    ServiceType:  "_http._tcp.local",
//	    Port:         8080,
//	    TXTRecords:   map[string]string{"version": "1.0", "path": "/"},
//	}
//	if err := resp.Register(service); err != nil {
//	    return err
//	}
//	if err := resp.Start(); err != nil {
//	    return err
//	}
package responder

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/records"
	internal "github.com/joshuafuller/beacon/internal/responder"
	"github.com/joshuafuller/beacon/internal/transport"
)

// ResourceRecord is re-exported so embedders inspecting responses do
// not need to import the internal records package.
type ResourceRecord = records.ResourceRecord

// Logger is the logging surface the responder reports non-fatal
// problems to (per-interface join failures, dropped sends).
type Logger = transport.Logger

// Responder advertises registered services over mDNS.
type Responder struct {
	ctx      context.Context
	registry *internal.Registry
	zone     *records.Zone
	limiter  *records.RecordSet
	logger   Logger

	hostname      string
	interfaces    []net.Interface
	reusePort     bool
	multicastHops int
	disableIPv4   bool
	disableIPv6   bool
	rateLimit     bool

	mu         sync.Mutex
	running    bool
	transports []transport.GroupTransport
	injected   []transport.GroupTransport
	sockets    *transport.SocketSet
	runCtx     context.Context
	runCancel  context.CancelFunc
	readers    sync.WaitGroup
}

// New creates a Responder. No sockets are opened until Start.
//
// The context bounds the responder's reads: cancelling it ends the
// reader goroutines of a running responder. The sockets stay open and
// the responder counts as running until Stop or Close is called.
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if !strings.HasSuffix(hostname, ".local") {
		hostname += ".local"
	}

	r := &Responder{
		ctx:      ctx,
		registry: internal.NewRegistry(),
		zone:     records.NewZone(),
		limiter:  records.NewRecordSet(),
		hostname: hostname,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates service and installs it into the zone. The
// service is answerable as soon as the responder is running; no
// probing delay applies.
func (r *Responder) Register(service *Service) error {
	if service == nil {
		return &errors.ValidationError{Field: "service", Details: "service cannot be nil"}
	}
	if err := service.Validate(); err != nil {
		return err
	}

	if service.Hostname == "" {
		service.Hostname = r.hostname
	}

	entry := &internal.Service{
		InstanceName: service.InstanceName,
		ServiceType:  service.ServiceType,
		Hostname:     service.Hostname,
		Port:         service.Port,
		Addresses:    service.Addresses,
		TXTRecords:   service.TXTRecords,
	}
	if len(entry.Addresses) == 0 {
		ipv4, err := getLocalIPv4()
		if err != nil {
			return err
		}
		entry.PrimaryIPv4 = ipv4
	}

	if err := r.registry.Register(entry); err != nil {
		return err
	}
	r.syncZone()
	return nil
}

// Unregister removes a service from the zone. serviceID is either the
// bare instance name or the full "Instance._service._proto.local" form.
func (r *Responder) Unregister(serviceID string) error {
	svc, found := r.GetService(serviceID)
	if !found {
		return &errors.ValidationError{Field: "serviceID", Value: serviceID, Details: "no service registered with this identifier"}
	}
	if err := r.registry.Remove(svc.InstanceName); err != nil {
		return err
	}
	r.syncZone()
	return nil
}

// UpdateService replaces a registered service's TXT records. The
// instance identity is unchanged, so the zone swap is immediate.
func (r *Responder) UpdateService(serviceID string, txtRecords map[string]string) error {
	svc, found := r.GetService(serviceID)
	if !found {
		return &errors.ValidationError{Field: "serviceID", Value: serviceID, Details: "no service registered with this identifier"}
	}
	entry, ok := r.registry.Get(svc.InstanceName)
	if !ok {
		return &errors.ValidationError{Field: "serviceID", Value: serviceID, Details: "no service registered with this identifier"}
	}
	entry.TXTRecords = txtRecords
	r.syncZone()
	return nil
}

// GetService retrieves a registered service by instance name or full
// service identifier.
func (r *Responder) GetService(serviceID string) (*Service, bool) {
	if svc, found := r.registry.Get(serviceID); found {
		return publicService(svc), true
	}
	for _, svc := range r.registry.All() {
		if svc.InstanceName+"."+svc.ServiceType == serviceID {
			return publicService(svc), true
		}
	}
	return nil, false
}

func publicService(svc *internal.Service) *Service {
	return &Service{
		InstanceName: svc.InstanceName,
		ServiceType:  svc.ServiceType,
		Hostname:     svc.Hostname,
		Port:         svc.Port,
		Addresses:    svc.Addresses,
		TXTRecords:   svc.TXTRecords,
	}
}

// syncZone rebuilds the zone's service list from the registry.
func (r *Responder) syncZone() {
	all := r.registry.All()
	infos := make([]*records.ServiceInfo, 0, len(all))
	for _, svc := range all {
		infos = append(infos, &records.ServiceInfo{
			InstanceName: svc.InstanceName,
			ServiceType:  svc.ServiceType,
			Hostname:     svc.Hostname,
			Port:         uint16(svc.Port),
			Addresses:    svc.Addresses,
			IPv4Address:  svc.PrimaryIPv4,
			TXTRecords:   svc.TXTRecords,
		})
	}
	r.zone.SetServices(infos)
}

// Start opens the socket set and begins answering queries. Starting a
// responder that is already running is a *errors.StateError.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return &errors.StateError{Operation: "start", State: "running", Details: "responder is already running"}
	}

	if len(r.injected) > 0 {
		r.transports = r.injected
	} else {
		set, err := transport.NewSocketSet(transport.Config{
			Interfaces:    r.interfaces,
			ReusePort:     r.reusePort,
			MulticastHops: r.multicastHops,
			DisableIPv4:   r.disableIPv4,
			DisableIPv6:   r.disableIPv6,
			Logger:        r.logger,
		})
		if err != nil {
			return err
		}
		r.sockets = set
		r.transports = set.Multicast()
	}

	r.runCtx, r.runCancel = context.WithCancel(r.ctx)
	r.running = true

	for _, t := range r.transports {
		t := t
		r.readers.Add(1)
		go func() {
			defer r.readers.Done()
			r.readLoop(t)
		}()
	}
	return nil
}

// Stop cancels all reads and closes the sockets. Stopping a stopped
// responder is a no-op.
func (r *Responder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.runCancel()
	sockets := r.sockets
	r.sockets = nil
	r.transports = nil
	r.mu.Unlock()

	var err error
	if sockets != nil {
		err = sockets.Close()
	}
	r.readers.Wait()
	return err
}

// Close stops the responder and forgets every registered service.
func (r *Responder) Close() error {
	err := r.Stop()
	for _, name := range r.registry.List() {
		_ = r.registry.Remove(name)
	}
	r.syncZone()
	return err
}

// readLoop drains one socket until the responder stops.
func (r *Responder) readLoop(t transport.GroupTransport) {
	for {
		packet, src, ifIndex, err := t.Receive(r.runCtx)
		if err != nil {
			select {
			case <-r.runCtx.Done():
				return
			default:
			}
			if r.logger != nil {
				r.logger.Printf("receive failed: %v", err)
			}
			return
		}
		r.handleQuery(t, packet, src, ifIndex)
	}
}

// handleQuery answers one inbound datagram per RFC 6762 §6: malformed
// datagrams, responses, and non-standard queries are dropped without
// reply; everything else is answered from the zone, split multicast
// versus unicast by each question's QU bit.
func (r *Responder) handleQuery(t transport.GroupTransport, packet []byte, src net.Addr, ifIndex int) {
	msg, err := message.ParseMessage(packet)
	if err != nil {
		return
	}
	if msg.Header.QR() || msg.Header.Opcode() != 0 || msg.Header.RCode() != 0 {
		return
	}

	resolver := r.interfaceResolver(ifIndex)

	var multicastSet, unicastSet []*records.ResourceRecord
	for _, q := range msg.Questions {
		answers := r.zone.Records(q.Name, q.Type, resolver)
		if q.QU() {
			unicastSet = append(unicastSet, answers...)
		} else {
			multicastSet = append(multicastSet, answers...)
		}
	}

	if r.rateLimit {
		multicastSet = r.limitMulticast(multicastSet, ifIndex)
	}

	if len(multicastSet) > 0 {
		// RFC 6762 §18.1 wants id=0 on all responses; multicast replies
		// follow it, unicast replies echo the query id below.
		if pkt, err := packResponse(0, multicastSet); err == nil {
			if err := t.SendMulticast(r.runCtx, pkt); err != nil && r.logger != nil {
				r.logger.Printf("multicast response failed: %v", err)
			}
		}
	}
	if len(unicastSet) > 0 && src != nil {
		if pkt, err := packResponse(msg.Header.ID, unicastSet); err == nil {
			if err := t.Send(r.runCtx, pkt, src); err != nil && r.logger != nil {
				r.logger.Printf("unicast response to %s failed: %v", src, err)
			}
		}
	}
}

// limitMulticast drops records multicast on this interface within the
// last second (RFC 6762 §6.2) and stamps the survivors.
func (r *Responder) limitMulticast(set []*records.ResourceRecord, ifIndex int) []*records.ResourceRecord {
	ifaceID := interfaceID(ifIndex)
	out := set[:0]
	for _, rr := range set {
		if !r.limiter.CanMulticast(rr, ifaceID) {
			continue
		}
		r.limiter.RecordMulticast(rr, ifaceID)
		out = append(out, rr)
	}
	return out
}

func interfaceID(ifIndex int) string {
	if ifIndex == 0 {
		return "default"
	}
	if iface, err := net.InterfaceByIndex(ifIndex); err == nil {
		return iface.Name
	}
	return "default"
}

// packResponse builds an authoritative answer message carrying the
// record set (RFC 6762 §6: QR and AA set, no questions echoed).
func packResponse(id uint16, set []*records.ResourceRecord) ([]byte, error) {
	msg := &message.Message{
		Header: message.Header{
			ID:    id,
			Flags: message.FlagQR | message.FlagAA,
		},
		Answers: make([]message.RR, 0, len(set)),
	}
	for _, rr := range set {
		msg.Answers = append(msg.Answers, message.RR{
			Name:  rr.Name,
			Type:  rr.Type,
			Class: rr.Class,
			TTL:   rr.TTL,
			RData: rr.Data,
		})
	}
	return message.PackMessage(msg)
}

// interfaceResolver returns the RFC 6762 §15 address resolver for the
// interface a query arrived on, or nil when the interface is unknown.
func (r *Responder) interfaceResolver(ifIndex int) func(string) []byte {
	if ifIndex == 0 {
		return nil
	}
	return func(string) []byte {
		ip, err := getIPv4ForInterface(ifIndex)
		if err != nil {
			return nil
		}
		return ip
	}
}

// getLocalIPv4 gets the first non-loopback IPv4 address on the host.
func getLocalIPv4() ([]byte, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "enumerate addresses", Err: err}
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return ipv4, nil
			}
		}
	}
	return nil, &errors.NetworkError{Operation: "enumerate addresses", Details: "no non-loopback IPv4 address found"}
}

// getIPv4ForInterface resolves the IPv4 address of the interface with
// the given OS index, so address answers stay valid on the link the
// query arrived on (RFC 6762 §15).
func getIPv4ForInterface(ifIndex int) ([]byte, error) {
	iface, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return nil, &errors.NetworkError{Operation: "resolve interface", Err: err}
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "resolve interface", Err: err}
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return ipv4, nil
			}
		}
	}
	return nil, &errors.NetworkError{
		Operation: "resolve interface",
		Details:   "interface " + iface.Name + " carries no IPv4 address",
	}
}
