// Package enumerator is a minimal stand-in for a real external USB
// enumerator, which is out of scope for this runtime's core: a live USB
// watcher (vendor/product-id table lookups against a serial-port scan) is
// a separate concern the core only consumes descriptors from. This
// package exists only so cmd/hwhd has a concrete descriptor.Enumerator to
// construct a pool.Pool against, reading a static device list from a JSON
// file at the path config.RuntimeConfig.EnumeratorSocket names. A
// production deployment replaces this package, not the core.
package enumerator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"hwh/pkg/descriptor"
)

// entryDTO is the JSON-on-disk shape for one device, mirroring
// descriptor.Descriptor's immutable fields.
type entryDTO struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Kind         string                `json:"kind"`
	VendorID     uint16                `json:"vendor_id"`
	ProductID    uint16                `json:"product_id"`
	Serial       string                `json:"serial"`
	Capabilities []string              `json:"capabilities"`
	Endpoints    []descriptor.Endpoint `json:"endpoints"`
}

// Static is a fixed device list loaded once from disk. It satisfies
// descriptor.Enumerator but never emits add/remove events (Events()
// returns a closed channel): it is deliberately the simplest possible
// external collaborator, not a live USB watcher.
type Static struct {
	mu    sync.RWMutex
	descs []descriptor.Descriptor
}

// Load reads a JSON array of entryDTO from path and returns a Static
// enumerator over it. A missing file yields an empty, valid enumerator
// rather than an error, since a freshly-started core with no devices
// attached yet is a normal state, not a failure.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Static{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enumerator: read %s: %w", path, err)
	}

	var entries []entryDTO
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("enumerator: parse %s: %w", path, err)
	}

	descs := make([]descriptor.Descriptor, 0, len(entries))
	for _, e := range entries {
		caps := make(map[descriptor.Capability]bool, len(e.Capabilities))
		for _, c := range e.Capabilities {
			caps[descriptor.Capability(c)] = true
		}
		descs = append(descs, descriptor.Descriptor{
			ID:           e.ID,
			Name:         e.Name,
			Kind:         e.Kind,
			VendorID:     e.VendorID,
			ProductID:    e.ProductID,
			Serial:       e.Serial,
			Endpoints:    e.Endpoints,
			Capabilities: caps,
		})
	}
	return &Static{descs: descs}, nil
}

// Scan returns the fixed device list.
func (s *Static) Scan() ([]descriptor.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]descriptor.Descriptor, len(s.descs))
	copy(out, s.descs)
	return out, nil
}

// Events returns a closed channel: a static list never changes, so there
// is nothing to notify. A live enumerator implementation would keep this
// channel open and push add/remove events as devices come and go.
func (s *Static) Events() <-chan descriptor.Event {
	ch := make(chan descriptor.Event)
	close(ch)
	return ch
}
