// Package coordinator implements the cross-device trigger routing,
// grounded in _examples/original_source/src/hwh/tui/panels/uart_monitor.py
// (regex-pattern matching against UART output driving a callback) and the
// reference module's errgroup-based goroutine shutdown pattern.
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hwh/pkg/backend"
	"hwh/pkg/backend/pool"
	"hwh/pkg/stream"
)

// Operation names the action a route's target performs on match. Only the
// three glitch operations below (trigger, configure then trigger, configure
// then arm) are implemented; this is
// deliberately not a generic scripting surface.
type Operation string

const (
	// OpGlitchTrigger calls Glitch.Trigger() on the target, using whatever
	// configuration is already armed.
	OpGlitchTrigger Operation = "glitch_trigger"
	// OpGlitchConfigureTrigger calls Glitch.Configure() with the action's
	// parameters, then Glitch.Trigger(), as one dispatch.
	OpGlitchConfigureTrigger Operation = "glitch_configure_trigger"
	// OpGlitchConfigureArm configures the target and arms its external
	// trigger input without firing: the hardware-synchronous route mode,
	// where a device-to-device wire completes the dispatch and software is
	// out of the latency path.
	OpGlitchConfigureArm Operation = "glitch_configure_arm"
)

// Action is the target-side half of a TriggerRoute.
type Action struct {
	TargetDeviceID string
	Operation      Operation
	WidthNs        uint64
	OffsetNs       uint64
	Repeat         int
}

// TriggerRoute ties a source device's text output to an Action.
type TriggerRoute struct {
	Name           string
	SourceDeviceID string
	SourcePattern  string
	Action         Action
	Enabled        bool
	DebounceMs     int
	CooldownMs     int

	regex        *regexp.Regexp
	firedCount   uint64
	lastFireTime time.Time
}

// FiredCount returns how many times this route has successfully fired.
func (r *TriggerRoute) FiredCount() uint64 { return r.firedCount }

// LastFireTime returns the wall-clock time of the route's last successful
// fire, or the zero Time if it has never fired.
func (r *TriggerRoute) LastFireTime() time.Time { return r.lastFireTime }

// Event is the record pushed to the event ring for every match that passes
// debounce and cooldown, whether its dispatch succeeded or failed; a match
// dropped by debounce or cooldown records no Event. ID is a process-unique
// identifier
// so a client
// following the event stream can dedupe or correlate a specific event
// with its later appearance in EventLog.
type Event struct {
	ID        uuid.UUID
	Route     string
	Timestamp time.Time
	Success   bool
	LatencyUs int64
	Details   string
}

// ErrRouteNotFound is returned by operations on an unregistered route name.
type ErrRouteNotFound string

func (e ErrRouteNotFound) Error() string { return fmt.Sprintf("coordinator: route %q not found", string(e)) }

// ErrInvalidPattern wraps a regexp compile failure from AddRoute.
type ErrInvalidPattern struct{ Err error }

func (e *ErrInvalidPattern) Error() string { return "coordinator: invalid pattern: " + e.Err.Error() }
func (e *ErrInvalidPattern) Unwrap() error { return e.Err }

// Coordinator is the armable router.
type Coordinator struct {
	pool *pool.Pool

	mu     sync.Mutex
	armed  bool
	order  []string
	routes map[string]*TriggerRoute

	events *stream.Broadcaster[Event]
	ring   *stream.Ring[Event]

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a disarmed coordinator against p, with an event ring holding
// the last ringSize events.
func New(p *pool.Pool, ringSize int) *Coordinator {
	if ringSize < 1 {
		ringSize = 256
	}
	return &Coordinator{
		pool:   p,
		routes: make(map[string]*TriggerRoute),
		events: stream.NewBroadcaster[Event](64),
		ring:   stream.NewRing[Event](ringSize),
	}
}

// Events returns the live event broadcaster.
func (c *Coordinator) Events() *stream.Broadcaster[Event] { return c.events }

// EventLog returns a chronological snapshot of the bounded event ring.
func (c *Coordinator) EventLog() []Event { return c.ring.Snapshot() }

// Armed reports whether the coordinator is currently subscribed to its
// routes' sources.
func (c *Coordinator) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// AddRoute registers or replaces a route by name. The pattern is compiled
// eagerly so Arm never fails on a bad regex it could have caught earlier.
func (c *Coordinator) AddRoute(r TriggerRoute) error {
	re, err := regexp.Compile(r.SourcePattern)
	if err != nil {
		return &ErrInvalidPattern{Err: err}
	}
	r.regex = re

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.routes[r.Name]; !exists {
		c.order = append(c.order, r.Name)
	}
	route := r
	c.routes[r.Name] = &route
	return nil
}

// RemoveRoute drops a route from the route table, armed or not. While the
// coordinator is armed, the source goroutine started by Arm keeps
// evaluating the removed route until Disarm.
func (c *Coordinator) RemoveRoute(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.routes, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Route returns a copy of the named route's current state.
func (c *Coordinator) Route(name string) (TriggerRoute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[name]
	if !ok {
		return TriggerRoute{}, false
	}
	return *r, true
}

// Routes returns every route in registration order ("ordered map name
// → TriggerRoute").
func (c *Coordinator) Routes() []TriggerRoute {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TriggerRoute, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, *c.routes[n])
	}
	return out
}

// SetEnabled toggles a route without removing it.
func (c *Coordinator) SetEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[name]
	if !ok {
		return ErrRouteNotFound(name)
	}
	r.Enabled = enabled
	return nil
}

// Arm validates every enabled route (regex already compiled; source device
// must be known, while target devices are resolved at fire time) and
// subscribes one goroutine per distinct source device.
// Armed requires at least one enabled route.
func (c *Coordinator) Arm(ctx context.Context) error {
	c.mu.Lock()
	if c.armed {
		c.mu.Unlock()
		return nil
	}

	bySource := make(map[string][]*TriggerRoute)
	anyEnabled := false
	for _, n := range c.order {
		r := c.routes[n]
		if !r.Enabled {
			continue
		}
		anyEnabled = true
		if _, ok := c.pool.Descriptor(r.SourceDeviceID); !ok {
			c.mu.Unlock()
			return fmt.Errorf("coordinator: route %q source device %q unknown", r.Name, r.SourceDeviceID)
		}
		bySource[r.SourceDeviceID] = append(bySource[r.SourceDeviceID], r)
	}
	if !anyEnabled {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: arm requires at least one enabled route")
	}
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	for sourceID, routes := range bySource {
		sourceID, routes := sourceID, routes
		subID, lines, err := c.pool.Subscribe(sourceID)
		if err != nil {
			cancel()
			return fmt.Errorf("coordinator: subscribe %q: %w", sourceID, err)
		}
		g.Go(func() error {
			defer c.pool.Unsubscribe(sourceID, subID)
			for {
				select {
				case <-gctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					// Routes on one source fire sequentially, in
					// registration order, never in parallel.
					for _, r := range routes {
						c.evaluate(gctx, r, line)
					}
				}
			}
		})
	}

	c.mu.Lock()
	c.armed = true
	c.cancel = cancel
	c.group = g
	c.mu.Unlock()
	return nil
}

// Disarm unsubscribes every source atomically; any action already in
// flight is allowed to complete before its goroutine exits.
func (c *Coordinator) Disarm() error {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	g := c.group
	c.armed = false
	c.cancel = nil
	c.group = nil
	c.mu.Unlock()

	cancel()
	return g.Wait()
}

// evaluate tests line against r and, on match, applies debounce/cooldown
// and dispatches the action.
func (c *Coordinator) evaluate(ctx context.Context, r *TriggerRoute, line string) {
	if !r.regex.MatchString(line) {
		return
	}

	c.mu.Lock()
	now := time.Now()
	last := r.lastFireTime
	c.mu.Unlock()

	if !last.IsZero() {
		since := now.Sub(last)
		if since < time.Duration(r.DebounceMs)*time.Millisecond {
			return // step 1: debounce
		}
		if since < time.Duration(r.CooldownMs)*time.Millisecond {
			return // step 2: cooldown
		}
	}

	if _, ok := c.pool.Descriptor(r.Action.TargetDeviceID); !ok {
		c.record(Event{ID: uuid.New(), Route: r.Name, Timestamp: now, Success: false, Details: "target_missing: " + r.Action.TargetDeviceID})
		return
	}

	start := time.Now()
	err := c.dispatch(ctx, r.Action)
	latency := time.Since(start)

	c.mu.Lock()
	if err == nil {
		r.firedCount++
		r.lastFireTime = now
	}
	c.mu.Unlock()

	ev := Event{ID: uuid.New(), Route: r.Name, Timestamp: now, Success: err == nil, LatencyUs: latency.Microseconds()}
	if err != nil {
		ev.Details = err.Error()
	}
	c.record(ev)
}

func (c *Coordinator) dispatch(ctx context.Context, a Action) error {
	switch a.Operation {
	case OpGlitchTrigger:
		return c.pool.WithGlitch(ctx, a.TargetDeviceID, func(_ context.Context, g backend.Glitch) error {
			return g.Trigger()
		})
	case OpGlitchConfigureTrigger:
		return c.pool.WithGlitch(ctx, a.TargetDeviceID, func(_ context.Context, g backend.Glitch) error {
			if err := g.Configure(a.WidthNs, a.OffsetNs, a.Repeat); err != nil {
				return err
			}
			return g.Trigger()
		})
	case OpGlitchConfigureArm:
		return c.pool.WithGlitch(ctx, a.TargetDeviceID, func(_ context.Context, g backend.Glitch) error {
			if err := g.Configure(a.WidthNs, a.OffsetNs, a.Repeat); err != nil {
				return err
			}
			return g.Arm()
		})
	default:
		return fmt.Errorf("coordinator: unknown operation %q", a.Operation)
	}
}

func (c *Coordinator) record(ev Event) {
	c.ring.Push(ev)
	c.events.Publish(ev)
}
