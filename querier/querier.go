// Package querier implements the discovery side of this module over
// mDNS (.local).
//
// Two operations are offered. Query sends a single question and
// returns the flat record set received within the timeout. Browse
// sends a DNS-SD PTR question for a service type and correlates the
// PTR/SRV/TXT/A/AAAA fragments arriving across packets and sockets
// into complete ServiceEntry values, streamed as they complete.
package querier

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/transport"
)

const defaultQueryTimeout = 5 * time.Second

// Querier discovers mDNS services and records. A zero-configured
// Querier from New is ready to use; sockets are opened per operation
// and closed when it completes.
type Querier struct {
	defaultTimeout     time.Duration
	explicitInterfaces []net.Interface
	interfaceFilter    func(net.Interface) bool
	rateLimitEnabled   bool
	rateLimitThreshold int
	rateLimitCooldown  time.Duration

	domain        string
	wantUnicast   bool
	disableIPv4   bool
	disableIPv6   bool
	reusePort     bool
	multicastHops int
	logger        transport.Logger

	injected []transport.GroupTransport

	mu        sync.Mutex
	closed    bool
	sendCount map[string]*sendWindow
}

type sendWindow struct {
	windowStart time.Time
	count       int
}

// New creates a Querier with the given options applied.
func New(opts ...Option) (*Querier, error) {
	q := &Querier{
		defaultTimeout:     defaultQueryTimeout,
		domain:             "local",
		rateLimitThreshold: 50,
		rateLimitCooldown:  time.Minute,
		sendCount:          make(map[string]*sendWindow),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Close releases the querier. Operations in flight fail as their
// sockets close; further operations are rejected. Closing twice is an
// error, matching socket double-close behavior.
func (q *Querier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &errors.StateError{Operation: "close", State: "closed", Details: "querier is already closed"}
	}
	q.closed = true

	var firstErr error
	for _, t := range q.injected {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Browse discovers every instance of serviceType, streaming each
// completed ServiceEntry to entries. A bare type ("_http._tcp") is
// completed with the configured domain, "local" by default. Browse
// blocks until ctx is done or, when ctx carries no deadline, until the
// default timeout elapses, then returns nil. Finding nothing is not an
// error. The entries channel is not closed; it belongs to the caller.
func (q *Querier) Browse(ctx context.Context, serviceType string, entries chan<- *ServiceEntry) error {
	serviceType = strings.TrimSuffix(serviceType, ".")
	if serviceType == "" {
		return &errors.ValidationError{Field: "serviceType", Details: "service type cannot be empty"}
	}
	if !strings.HasSuffix(strings.ToLower(serviceType), "."+q.domain) {
		serviceType += "." + q.domain
	}

	corr := newCorrelator(serviceType)
	return q.run(ctx, message.Question{
		Name:  serviceType,
		Type:  protocol.RecordTypePTR,
		Class: q.questionClass(),
	}, func(ctx context.Context, msg *message.Message) bool {
		for _, entry := range corr.fold(msg) {
			select {
			case entries <- entry:
			case <-ctx.Done():
				return false
			}
		}
		return true
	})
}

// Query sends a single question for name and returns every matching
// record received before the timeout, deduplicated across responders.
func (q *Querier) Query(ctx context.Context, name string, recordType RecordType) (*Response, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, &errors.ValidationError{Field: "name", Details: "query name cannot be empty"}
	}

	response := &Response{}
	seen := make(map[string]bool)
	err := q.run(ctx, message.Question{
		Name:  name,
		Type:  protocol.RecordType(recordType),
		Class: q.questionClass(),
	}, func(_ context.Context, msg *message.Message) bool {
		for _, section := range [][]message.RR{msg.Answers, msg.Additional} {
			for _, rr := range section {
				key := dedupeKey(&rr)
				if seen[key] {
					continue
				}
				seen[key] = true
				response.Records = append(response.Records, ResourceRecord{
					Name:  rr.Name,
					Type:  RecordType(rr.Type),
					Class: protocol.ClassWithoutFlags(rr.Class),
					TTL:   rr.TTL,
					Data:  recordData(&rr),
				})
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func dedupeKey(rr *message.RR) string {
	return strings.ToLower(rr.Name) + "|" + rr.Type.String() + "|" + string(rr.RData)
}

// recordData maps a decoded wire record onto the public Data shapes.
// A/AAAA (net.IP), PTR (string), and TXT ([]string) pass through; SRV
// is re-typed from the codec's SRVData to this package's.
func recordData(rr *message.RR) interface{} {
	if rr.Type != protocol.RecordTypeSRV {
		return rr.Decoded
	}
	srv, ok := rr.Decoded.(message.SRVData)
	if !ok {
		return nil
	}
	return SRVData{
		Target:   srv.Target,
		Priority: srv.Priority,
		Weight:   srv.Weight,
		Port:     srv.Port,
	}
}

func (q *Querier) questionClass() uint16 {
	if q.wantUnicast {
		return protocol.ClassWithCacheFlush(protocol.ClassIN)
	}
	return protocol.ClassIN
}

// run is the shared engine under Browse and Query: open the socket
// set, send the question, and feed every decoded response message to
// handle until the deadline. handle returns false to stop early.
func (q *Querier) run(ctx context.Context, question message.Question, handle func(context.Context, *message.Message) bool) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return &errors.StateError{Operation: "query", State: "closed", Details: "querier is closed"}
	}
	q.mu.Unlock()

	if err := q.checkRateLimit(question.Name); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok && q.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.defaultTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sockets, receivers, err := q.openSockets()
	if err != nil {
		return err
	}
	if sockets != nil {
		defer func() { _ = sockets.Close() }()
	}

	if err := q.sendQuestion(ctx, question, sockets); err != nil {
		return err
	}

	// One reader per socket funnels into a single correlation loop, so
	// each datagram is fully folded before the next is considered.
	datagrams := make(chan []byte, 16)
	var readers sync.WaitGroup
	for _, t := range receivers {
		t := t
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				packet, _, _, err := t.Receive(ctx)
				if err != nil {
					return
				}
				select {
				case datagrams <- packet:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case packet := <-datagrams:
			msg, err := message.ParseMessage(packet)
			if err != nil {
				continue // cross-traffic on 5353; drop silently
			}
			if len(msg.Answers) == 0 && len(msg.Additional) == 0 {
				continue
			}
			if !handle(ctx, msg) {
				break loop
			}
		}
	}

	cancel()
	if sockets != nil {
		_ = sockets.Close()
	}
	readers.Wait()
	return nil
}

// openSockets returns the socket set for one operation, or the
// injected transports when WithTransport was used.
func (q *Querier) openSockets() (*transport.SocketSet, []transport.Transport, error) {
	if len(q.injected) > 0 {
		receivers := make([]transport.Transport, len(q.injected))
		for i, t := range q.injected {
			receivers[i] = t
		}
		return nil, receivers, nil
	}

	set, err := transport.NewSocketSet(transport.Config{
		Interfaces:       q.selectInterfaces(),
		NetworkInterface: q.pinnedInterface(),
		ReusePort:        q.reusePort,
		MulticastHops:    q.multicastHops,
		WithUnicast:      true,
		DisableIPv4:      q.disableIPv4,
		DisableIPv6:      q.disableIPv6,
		Logger:           q.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return set, set.All(), nil
}

func (q *Querier) selectInterfaces() []net.Interface {
	if len(q.explicitInterfaces) > 0 {
		return q.explicitInterfaces
	}
	if q.interfaceFilter == nil {
		return nil
	}
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range all {
		if q.interfaceFilter(iface) {
			out = append(out, iface)
		}
	}
	return out
}

func (q *Querier) pinnedInterface() *net.Interface {
	if len(q.explicitInterfaces) == 1 {
		return &q.explicitInterfaces[0]
	}
	return nil
}

// sendQuestion packs the question into a fresh query message and sends
// it to the mDNS group on every enabled family. One family failing is
// logged; both failing is fatal.
func (q *Querier) sendQuestion(ctx context.Context, question message.Question, sockets *transport.SocketSet) error {
	packet, err := message.PackMessage(&message.Message{
		Header:    message.Header{ID: uint16(rand.Uint32())},
		Questions: []message.Question{question},
	})
	if err != nil {
		return err
	}

	q.recordSend(question.Name)

	if sockets == nil {
		sent := 0
		var lastErr error
		for _, t := range q.injected {
			if err := t.SendMulticast(ctx, packet); err != nil {
				lastErr = err
				continue
			}
			sent++
		}
		if sent == 0 {
			return &errors.NetworkError{Operation: "send query", Err: lastErr, Details: "query could not be sent on any transport"}
		}
		return nil
	}

	sent := 0
	var lastErr error

	// The unicast socket carries the question so replies to its
	// ephemeral port come straight back to us; the multicast socket is
	// the fallback when a family has no unicast pair.
	if sockets.V4 != nil {
		var err error
		if sockets.Unicast4 != nil {
			err = sockets.Unicast4.Send(ctx, packet, sockets.V4.Group())
		} else {
			err = sockets.V4.SendMulticast(ctx, packet)
		}
		if err != nil {
			lastErr = err
			if q.logger != nil {
				q.logger.Printf("IPv4 query send failed: %v", err)
			}
		} else {
			sent++
		}
	}
	if sockets.V6 != nil {
		var err error
		if sockets.Unicast6 != nil {
			err = sockets.Unicast6.Send(ctx, packet, sockets.V6.Group())
		} else {
			err = sockets.V6.SendMulticast(ctx, packet)
		}
		if err != nil {
			lastErr = err
			if q.logger != nil {
				q.logger.Printf("IPv6 query send failed: %v", err)
			}
		} else {
			sent++
		}
	}

	if sent == 0 {
		return &errors.NetworkError{Operation: "send query", Err: lastErr, Details: "query could not be sent on any address family"}
	}
	return nil
}

// checkRateLimit rejects a query when the same name has been asked
// more than the threshold within the cooldown window.
func (q *Querier) checkRateLimit(name string) error {
	if !q.rateLimitEnabled {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	key := strings.ToLower(name)
	w := q.sendCount[key]
	if w == nil || time.Since(w.windowStart) >= q.rateLimitCooldown {
		return nil
	}
	if w.count >= q.rateLimitThreshold {
		return &errors.NetworkError{
			Operation: "send query",
			Details:   "rate limit exceeded for " + name + "; retry after the cooldown window",
		}
	}
	return nil
}

func (q *Querier) recordSend(name string) {
	if !q.rateLimitEnabled {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	key := strings.ToLower(name)
	w := q.sendCount[key]
	if w == nil || time.Since(w.windowStart) >= q.rateLimitCooldown {
		q.sendCount[key] = &sendWindow{windowStart: time.Now(), count: 1}
		return
	}
	w.count++
}
