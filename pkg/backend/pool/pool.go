// Package pool implements the device registry, connection lifecycle, and
// mutator-sharing policy, grounded in
// _examples/original_source/src/hwh/backends/base.py's get_backend
// lifecycle and internal/discovery/discovery.go's semaphore-gated
// concurrent-scan pattern (adapted from a channel semaphore to
// golang.org/x/sync/semaphore).
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"hwh/pkg/backend"
	"hwh/pkg/descriptor"
	"hwh/pkg/stream"
)

// maxConcurrentScanProbes bounds how many descriptors the pool validates
// against the registry at once during Scan, keeping blocking I/O off the
// caller's goroutine.
const maxConcurrentScanProbes = 8

// outputBufferSize is the per-subscriber buffer depth for a device's text
// sink.
const outputBufferSize = 256

// TextStreamer is implemented by backend.Instance values that produce
// asynchronous line-oriented output (UART/console classes). The pool
// exposes it as a shared Broadcaster so "concurrent subscriptions with a
// single serial connection" holds without the core duplicating
// transports.
type TextStreamer interface {
	Lines() *stream.Broadcaster[string]
}

type entry struct {
	desc descriptor.Descriptor

	mu        sync.Mutex
	instance  backend.Instance
	connected bool
	closing   chan struct{}

	mutator fifoLock
}

// Pool owns every BackendInstance's lifecycle and enforces the sharing
// policy.
type Pool struct {
	registry   *backend.Registry
	enumerator descriptor.Enumerator
	scanSem    *semaphore.Weighted

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds a pool bound to registry (the explicit, process-owned driver
// set) and enumerator (the external device source).
func New(registry *backend.Registry, enumerator descriptor.Enumerator) *Pool {
	return &Pool{
		registry:   registry,
		enumerator: enumerator,
		scanSem:    semaphore.NewWeighted(maxConcurrentScanProbes),
		entries:    make(map[string]*entry),
	}
}

// Scan refreshes the device list from the enumerator. Each returned
// descriptor is validated against the registry concurrently, bounded by a
// weighted semaphore; validation failures are not fatal to the scan as a
// whole (an unrecognized device just can't be Open'd yet).
func (p *Pool) Scan(ctx context.Context) ([]descriptor.Descriptor, error) {
	descs, err := p.enumerator.Scan()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		seen[d.ID] = true
		if e, ok := p.entries[d.ID]; ok {
			e.mu.Lock()
			e.desc = d
			e.mu.Unlock()
		} else {
			p.entries[d.ID] = &entry{desc: d}
		}
	}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range descs {
		d := d
		g.Go(func() error {
			if err := p.scanSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.scanSem.Release(1)
			_, _ = p.registry.Lookup(d.Kind) // best-effort validation only
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return descs, err
	}
	return descs, nil
}

// Descriptors returns a stable-ordered snapshot of every known device.
func (p *Pool) Descriptors() []descriptor.Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]descriptor.Descriptor, 0, len(p.entries))
	for _, e := range p.entries {
		e.mu.Lock()
		out = append(out, e.desc)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Descriptor returns the known descriptor for id.
func (p *Pool) Descriptor(id string) (descriptor.Descriptor, bool) {
	e, ok := p.lookup(id)
	if !ok {
		return descriptor.Descriptor{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc, true
}

// Connected reports whether id currently has an open backend instance.
func (p *Pool) Connected(id string) bool {
	e, ok := p.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Info returns the connected backend's driver-reported facts, or nil if
// the device is not open.
func (p *Pool) Info(id string) map[string]string {
	e, ok := p.lookup(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	inst := e.instance
	e.mu.Unlock()
	if inst == nil {
		return nil
	}
	return inst.Info()
}

func (p *Pool) lookup(id string) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	return e, ok
}

// Lease is a handle to an opened backend, identified by a process-unique
// ID so introspection and logs can distinguish one open/close cycle on a
// device from the next. It carries no mutable state of its own;
// Pool.WithBus/WithDebug/WithGlitch are the actual mutator-access points.
type Lease struct {
	pool     *Pool
	ID       uuid.UUID
	DeviceID string
}

// Open constructs and connects the backend for id on first call;
// subsequent calls return a fresh lease handle bound to the existing
// instance.
func (p *Pool) Open(ctx context.Context, id string) (*Lease, error) {
	e, ok := p.lookup(id)
	if !ok {
		return nil, backend.New(backend.KindTargetMissing, "open", id, fmt.Errorf("unknown device id"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected && e.instance != nil {
		return &Lease{pool: p, ID: uuid.New(), DeviceID: id}, nil
	}

	drv, ok := p.registry.Lookup(e.desc.Kind)
	if !ok {
		return nil, backend.New(backend.KindInvalidConfig, "open", id, fmt.Errorf("no driver registered for kind %q", e.desc.Kind))
	}
	inst, err := drv.Open(ctx, e.desc)
	if err != nil {
		return nil, err
	}
	e.instance = inst
	e.connected = true
	e.closing = make(chan struct{})
	return &Lease{pool: p, ID: uuid.New(), DeviceID: id}, nil
}

// Close disconnects and drops the backend instance for id. Any operation
// in flight on the device sees its context cancelled first, so a blocked
// capture returns Cancelled rather than running to its own deadline.
func (p *Pool) Close(id string) error {
	e, ok := p.lookup(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		return nil
	}
	if e.closing != nil {
		close(e.closing)
		e.closing = nil
	}
	err := e.instance.Close()
	e.instance = nil
	e.connected = false
	return err
}

// acquire locates the entry for id and takes its FIFO mutator lock,
// returning a release function and the live instance.
func (p *Pool) acquire(ctx context.Context, id string) (*entry, func(), error) {
	e, ok := p.lookup(id)
	if !ok {
		return nil, nil, backend.New(backend.KindTargetMissing, "acquire", id, fmt.Errorf("unknown device id"))
	}
	if err := e.mutator.Lock(ctx); err != nil {
		return nil, nil, backend.New(backend.KindCancelled, "acquire", id, err)
	}
	return e, func() { e.mutator.Unlock() }, nil
}

func (p *Pool) instanceFor(e *entry, id string) (backend.Instance, chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil || !e.connected {
		return nil, nil, backend.New(backend.KindNotConnected, "use_role", id, nil)
	}
	return e.instance, e.closing, nil
}

// opContext derives a context for one role operation that is additionally
// cancelled when the device is Close'd, so dropping an instance aborts an
// in-flight capture instead of leaving it to run out its own deadline.
func opContext(ctx context.Context, closing chan struct{}) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	if closing != nil {
		go func() {
			select {
			case <-closing:
				cancel()
			case <-opCtx.Done():
			}
		}()
	}
	return opCtx, cancel
}

// WithBus acquires the exclusive, FIFO-ordered mutator lease for id and
// invokes fn against its Bus role, returning RoleNotSupported if the
// driver doesn't implement Bus.
func (p *Pool) WithBus(ctx context.Context, id string, fn func(context.Context, backend.Bus) error) error {
	e, release, err := p.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	inst, closing, err := p.instanceFor(e, id)
	if err != nil {
		return err
	}
	bus, ok := inst.AsBus()
	if !ok {
		return backend.ErrRoleNotSupported(id, backend.RoleBus)
	}
	opCtx, cancel := opContext(ctx, closing)
	defer cancel()
	return fn(opCtx, bus)
}

// WithDebug mirrors WithBus for the Debug role.
func (p *Pool) WithDebug(ctx context.Context, id string, fn func(context.Context, backend.Debug) error) error {
	e, release, err := p.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	inst, closing, err := p.instanceFor(e, id)
	if err != nil {
		return err
	}
	dbg, ok := inst.AsDebug()
	if !ok {
		return backend.ErrRoleNotSupported(id, backend.RoleDebug)
	}
	opCtx, cancel := opContext(ctx, closing)
	defer cancel()
	return fn(opCtx, dbg)
}

// WithGlitch mirrors WithBus for the Glitch role.
func (p *Pool) WithGlitch(ctx context.Context, id string, fn func(context.Context, backend.Glitch) error) error {
	e, release, err := p.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	inst, closing, err := p.instanceFor(e, id)
	if err != nil {
		return err
	}
	gl, ok := inst.AsGlitch()
	if !ok {
		return backend.ErrRoleNotSupported(id, backend.RoleGlitch)
	}
	opCtx, cancel := opContext(ctx, closing)
	defer cancel()
	return fn(opCtx, gl)
}

// WithLogicAnalyzer mirrors WithBus for the LogicAnalyzer role (e.g. a
// Bolt-class driver). A capture is indivisible: it holds the mutator
// lease for its full duration, so no other role access on the same
// device proceeds until it returns.
func (p *Pool) WithLogicAnalyzer(ctx context.Context, id string, fn func(context.Context, backend.LogicAnalyzer) error) error {
	e, release, err := p.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	inst, closing, err := p.instanceFor(e, id)
	if err != nil {
		return err
	}
	la, ok := inst.AsLogicAnalyzer()
	if !ok {
		return backend.ErrRoleNotSupported(id, backend.RoleLogicAnalyzer)
	}
	opCtx, cancel := opContext(ctx, closing)
	defer cancel()
	return fn(opCtx, la)
}

// Subscribe returns the shared text-output broadcaster for id, used by the
// coordinator's route sources and any other DeviceOutput consumer.
// It fails with RoleNotSupported if the connected driver doesn't
// produce line-oriented output.
func (p *Pool) Subscribe(id string) (int, <-chan string, error) {
	e, ok := p.lookup(id)
	if !ok {
		return 0, nil, backend.New(backend.KindTargetMissing, "subscribe", id, fmt.Errorf("unknown device id"))
	}
	inst, _, err := p.instanceFor(e, id)
	if err != nil {
		return 0, nil, err
	}
	ts, ok := inst.(TextStreamer)
	if !ok {
		return 0, nil, backend.New(backend.KindRoleNotSupported, "subscribe", id, fmt.Errorf("driver produces no text stream"))
	}
	subID, ch := ts.Lines().Subscribe()
	return subID, ch, nil
}

// Unsubscribe releases a subscription returned by Subscribe.
func (p *Pool) Unsubscribe(id string, subID int) {
	e, ok := p.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	inst := e.instance
	e.mu.Unlock()
	if inst == nil {
		return
	}
	if ts, ok := inst.(TextStreamer); ok {
		ts.Lines().Unsubscribe(subID)
	}
}
