package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of known drivers keyed by Kind. It replaces the
// module-level _BACKEND_REGISTRY dict register_backend/get_backend mutate
// in _examples/original_source/src/hwh/backends/base.py with an explicit
// object any number of pools can hold independently.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry returns an empty registry; callers Register() concrete
// drivers into it (typically once, at process startup in cmd/hwhd).
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds d to the registry. A second registration under the same
// Kind replaces the first — useful for tests that substitute a fake
// driver.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind] = d
}

// Lookup returns the driver registered under kind.
func (r *Registry) Lookup(kind string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[kind]
	return d, ok
}

// List returns every registered driver, sorted by Kind for stable
// introspection output (the original list_backends() behavior). No
// internal/api route exposes it.
func (r *Registry) List() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ErrUnknownKind is returned by callers that resolve a driver kind string
// supplied at the pool boundary (e.g. from a scan result) against a
// registry that has nothing registered for it.
func ErrUnknownKind(kind string) error {
	return fmt.Errorf("backend: no driver registered for kind %q", kind)
}
