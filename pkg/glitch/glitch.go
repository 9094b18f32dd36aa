// Package glitch implements the fault-injection timing controller,
// grounded in
// _examples/original_source/src/hwh/backends/backend_bolt.py's
// configure_glitch/arm/trigger/run_glitch_sweep.
package glitch

import (
	"errors"
	"math"
)

// Edge selects the trigger polarity.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeEither
)

// Config is the nanosecond-denominated fault parameters the controller
// accepts at its public boundary. Width 0 is rejected; Repeat must be >= 1.
type Config struct {
	WidthNs        uint64
	OffsetNs       uint64
	Repeat         int
	TriggerChannel *int
	TriggerEdge    Edge
}

var (
	// ErrZeroWidth is returned when width_ns is zero: a zero-width pulse
	// is not a valid glitch and must be rejected before any bytes reach
	// the device.
	ErrZeroWidth = errors.New("glitch: width_ns must be non-zero")
	// ErrSubCycleWidth is raised when the requested width rounds to fewer
	// than one device clock cycle.
	ErrSubCycleWidth = errors.New("glitch: width below one device clock cycle")
	// ErrInvalidRepeat guards "Repeat >= 1".
	ErrInvalidRepeat = errors.New("glitch: repeat must be >= 1")
)

// State is the arming state machine.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateArmed
	StateFired
	StateDisarmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateDisarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition reports a state-machine violation.
type ErrInvalidTransition struct {
	From State
	Op   string
}

func (e *ErrInvalidTransition) Error() string {
	return "glitch: " + e.Op + " invalid from state " + e.From.String()
}

// Device is the minimal hardware contract the controller drives — a real
// driver (e.g. pkg/backend/bolt) implements this against its own transport.
type Device interface {
	// ProgramCycles writes the device-clock-cycle counts for width and
	// offset; edge and channel select the external trigger input.
	ProgramCycles(widthCycles, offsetCycles uint64, channel *int, edge Edge) error
	// Pulse fires the glitch immediately (manual trigger).
	Pulse() error
	// SetArmed enables or disables the external trigger input.
	SetArmed(armed bool) error
}

// Controller is the glitch-timing state machine. ClockPeriodNs is
// the device's clock period in nanoseconds (8.3ns for Bolt-class devices).
type Controller struct {
	dev           Device
	clockPeriodNs float64
	state         State
	cfg           Config
}

// NewController builds a controller for dev with the given clock period.
func NewController(dev Device, clockPeriodNs float64) *Controller {
	return &Controller{dev: dev, clockPeriodNs: clockPeriodNs, state: StateIdle}
}

// State returns the controller's current arming state.
func (c *Controller) State() State { return c.state }

// widthCycles and offsetCycles convert the controller's nanosecond inputs
// to device cycles, rounding up for width and down for offset so a
// requested width never silently shrinks to zero.
func (c *Controller) widthCycles(widthNs uint64) uint64 {
	return uint64(math.Ceil(float64(widthNs) / c.clockPeriodNs))
}

func (c *Controller) offsetCycles(offsetNs uint64) uint64 {
	return uint64(math.Floor(float64(offsetNs) / c.clockPeriodNs))
}

// Configure validates and programs cfg. A re-configure while Armed
// implicitly disarms.
func (c *Controller) Configure(cfg Config) error {
	if cfg.WidthNs == 0 {
		return ErrZeroWidth
	}
	if cfg.Repeat < 1 {
		return ErrInvalidRepeat
	}

	widthCycles := c.widthCycles(cfg.WidthNs)
	if widthCycles == 0 {
		return ErrSubCycleWidth
	}
	offsetCycles := c.offsetCycles(cfg.OffsetNs)

	if c.state == StateArmed {
		if err := c.dev.SetArmed(false); err != nil {
			return err
		}
		c.state = StateIdle
	}

	if err := c.dev.ProgramCycles(widthCycles, offsetCycles, cfg.TriggerChannel, cfg.TriggerEdge); err != nil {
		return err
	}

	c.cfg = cfg
	c.state = StateConfigured
	return nil
}

// Arm enables the external trigger input. Requires Configured.
func (c *Controller) Arm() error {
	if c.state != StateConfigured {
		return &ErrInvalidTransition{From: c.state, Op: "arm"}
	}
	if err := c.dev.SetArmed(true); err != nil {
		return err
	}
	c.state = StateArmed
	return nil
}

// Trigger fires the glitch manually. Requires Configured or Armed.
func (c *Controller) Trigger() error {
	if c.state != StateConfigured && c.state != StateArmed {
		return &ErrInvalidTransition{From: c.state, Op: "trigger"}
	}
	if err := c.dev.Pulse(); err != nil {
		return err
	}
	c.state = StateIdle // Fired -> Idle per the state diagram
	return nil
}

// Disarm is accepted from any non-Idle state.
func (c *Controller) Disarm() error {
	if c.state == StateIdle {
		return nil
	}
	if err := c.dev.SetArmed(false); err != nil {
		return err
	}
	c.state = StateIdle
	return nil
}

// WidthCyclesFor exposes the width-cycle conversion for callers that need
// to report it (e.g. the sweep callback), where the reported width in
// cycles equals ceil(width_ns/clock_period_ns).
func (c *Controller) WidthCyclesFor(widthNs uint64) uint64 { return c.widthCycles(widthNs) }

// OffsetCyclesFor mirrors WidthCyclesFor for the offset.
func (c *Controller) OffsetCyclesFor(offsetNs uint64) uint64 { return c.offsetCycles(offsetNs) }

// Range is an inclusive nanosecond interval for Sweep.
type Range struct {
	Min, Max uint64
}

// SweepResult records one trigger attempt during a Sweep.
type SweepResult struct {
	WidthNs      uint64
	OffsetNs     uint64
	WidthCycles  uint64
	OffsetCycles uint64
	Attempt      int
	Err          error
}

// SweepCallback is invoked after every trigger attempt so the caller can
// observe target effects between attempts. Returning false stops the sweep
// early; results collected so far are still returned.
type SweepCallback func(r SweepResult) bool

// Sweep runs the double loop over width and offset: for each width from
// widthRange.Min stepping by widthStep, and each offset from
// offsetRange.Min stepping by offsetStep, it reconfigures and triggers
// attempts times, calling cb between attempts. A step of 0 pins the loop
// to the range minimum.
func (c *Controller) Sweep(widthRange Range, widthStep uint64, offsetRange Range, offsetStep uint64, attempts int, cb SweepCallback) ([]SweepResult, error) {
	if attempts < 1 {
		return nil, ErrInvalidRepeat
	}

	var results []SweepResult
	for w := widthRange.Min; ; w += widthStep {
		if w > widthRange.Max {
			break
		}
		for o := offsetRange.Min; ; o += offsetStep {
			if o > offsetRange.Max {
				break
			}
			cfg := Config{WidthNs: w, OffsetNs: o, Repeat: 1}
			if err := c.Configure(cfg); err != nil {
				return results, err
			}
			for a := 0; a < attempts; a++ {
				if c.state != StateConfigured && c.state != StateArmed {
					if err := c.Configure(cfg); err != nil {
						return results, err
					}
				}
				err := c.Trigger()
				r := SweepResult{
					WidthNs:      w,
					OffsetNs:     o,
					WidthCycles:  c.widthCycles(w),
					OffsetCycles: c.offsetCycles(o),
					Attempt:      a,
					Err:          err,
				}
				results = append(results, r)
				if cb != nil && !cb(r) {
					return results, nil
				}
			}
			if offsetStep == 0 {
				break
			}
		}
		if widthStep == 0 {
			break
		}
	}
	return results, nil
}
