// Package zone emulates the named shared-memory zones that a real NVMe
// driver stack (SPDK-style memzones) would provide: a primary process
// reserves a zone by name and a secondary process looks it up by the same
// name. See spec §6 "Shared-memory zones" in the external driver contract.
//
// The production article lives outside this module (it is backed by real
// POSIX shared memory across OS processes); Registry here is the
// in-process stand-in used by drivers/memdriver and by tests, keyed by
// name exactly like the real thing so the attach/lookup/free protocol in
// internal/oracle and internal/ioworker exercises the same call pattern it
// would against a real driver.
package zone

import (
	"fmt"
	"sync"
)

// Zone is a named block of bytes, shared by reference between every holder
// that reserved or looked it up.
type Zone interface {
	// Bytes returns the zone's backing storage. Callers synchronize access
	// themselves (typically via atomics over the returned slice).
	Bytes() []byte
}

// Provider reserves, looks up, and frees named zones.
type Provider interface {
	// Reserve creates a new zone of size bytes under name. Fails if name
	// already exists.
	Reserve(name string, size int) (Zone, error)
	// Lookup finds a zone previously reserved under name.
	Lookup(name string) (Zone, error)
	// Free releases the zone. Only the reserving (primary) side should
	// call this; see spec §4.1 and §4.5.
	Free(name string) error
}

type memZone struct {
	data []byte
}

func (z *memZone) Bytes() []byte { return z.data }

// Registry is an in-process Provider implementation backed by a mutex-
// guarded map. Multiple Registry handles constructed from NewRegistry
// share nothing; a primary and its secondaries must share the same
// *Registry value (or, in production, the same real shared-memory
// namespace) to see each other's zones.
type Registry struct {
	mu    sync.Mutex
	zones map[string]*memZone
}

// NewRegistry creates an empty zone registry.
func NewRegistry() *Registry {
	return &Registry{zones: make(map[string]*memZone)}
}

func (r *Registry) Reserve(name string, size int) (Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.zones[name]; ok {
		return nil, fmt.Errorf("zone: %q already reserved", name)
	}
	z := &memZone{data: make([]byte, size)}
	r.zones[name] = z
	return z, nil
}

func (r *Registry) Lookup(name string) (Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	z, ok := r.zones[name]
	if !ok {
		return nil, fmt.Errorf("zone: %q not found", name)
	}
	return z, nil
}

func (r *Registry) Free(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.zones[name]; !ok {
		return fmt.Errorf("zone: %q not found", name)
	}
	delete(r.zones, name)
	return nil
}
