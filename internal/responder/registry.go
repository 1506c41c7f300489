// Package responder holds the responder's internal service bookkeeping:
// the multi-service registry consulted on every inbound query.
package responder

import (
	"net"
	"sync"

	"github.com/joshuafuller/beacon/internal/errors"
)

// Service is one service instance registered with a responder.
//
// Addresses is the advertised address list when the caller supplied
// one; PrimaryIPv4 is the host address captured at registration time
// and used when Addresses is empty.
type Service struct {
	InstanceName string
	ServiceType  string
	Hostname     string
	TXTRecords   map[string]string
	Addresses    []net.IP
	PrimaryIPv4  []byte
	Port         int
}

// Registry is a thread-safe collection of registered services, keyed by
// instance name.
type Registry struct {
	services map[string]*Service
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register adds a new service. It is an error to register the same
// instance name twice.
func (r *Registry) Register(service *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[service.InstanceName]; exists {
		return &errors.ValidationError{
			Field:   "instanceName",
			Value:   service.InstanceName,
			Details: "a service with this instance name is already registered",
		}
	}

	r.services[service.InstanceName] = service
	return nil
}

// Get returns the service registered under instanceName, if any.
func (r *Registry) Get(instanceName string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	service, exists := r.services[instanceName]
	return service, exists
}

// Remove unregisters a service. It is an error to remove an instance
// name that is not registered.
func (r *Registry) Remove(instanceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[instanceName]; !exists {
		return &errors.ValidationError{
			Field:   "instanceName",
			Value:   instanceName,
			Details: "no service registered with this instance name",
		}
	}

	delete(r.services, instanceName)
	return nil
}

// List returns the instance names of every registered service.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// ListServiceTypes returns the deduplicated set of service types across
// all registered services (RFC 6763 §9 service type enumeration).
func (r *Registry) ListServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	types := make([]string, 0)
	for _, service := range r.services {
		if !seen[service.ServiceType] {
			seen[service.ServiceType] = true
			types = append(types, service.ServiceType)
		}
	}
	return types
}

// All returns every registered service. The caller must not mutate the
// returned services.
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Service, 0, len(r.services))
	for _, service := range r.services {
		all = append(all, service)
	}
	return all
}
