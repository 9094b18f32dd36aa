// Package descriptor defines the inbound contract between an external USB
// enumerator and the device pool.
package descriptor

import "fmt"

// Capability names a single role-adjacent feature a device exposes.
type Capability string

const (
	CapUART          Capability = "uart"
	CapSPI           Capability = "spi"
	CapI2C           Capability = "i2c"
	CapOneWire       Capability = "one_wire"
	CapJTAG          Capability = "jtag"
	CapSWD           Capability = "swd"
	CapVoltageGlitch Capability = "voltage_glitch"
	CapEMFI          Capability = "emfi"
	CapLogicAnalyzer Capability = "logic_analyzer"
	CapADC           Capability = "adc"
	CapPWM           Capability = "pwm"
	CapGPIO          Capability = "gpio"
	CapFlash         Capability = "flash"
	CapDebug         Capability = "debug"
)

// Endpoint is one serial or USB path a device exposes, in enumerator-assigned
// order. Role is a hint ("console", "binary", "sump", "gdb", "uart", ...)
// documented per driver; the core never infers it from the path itself.
type Endpoint struct {
	Path string
	Role string
}

// Descriptor is an immutable snapshot of a USB-attached device as reported by
// the enumerator. Two Descriptors with the same ID refer to the same physical
// device across scans.
type Descriptor struct {
	ID           string
	Name         string
	Kind         string // backend.Driver.Kind the pool instantiates for this device
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Endpoints    []Endpoint
	Capabilities map[Capability]bool
}

// NewDescriptor builds a Descriptor with a canonical, stable ID of the
// form "vendor:product:port". kind names the backend.Driver that should
// be instantiated for this device — the enumerator's job, not the
// pool's, so the core never has to guess a driver kind from filename
// heuristics.
func NewDescriptor(vendor, product uint16, port, name, kind string, caps ...Capability) Descriptor {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Descriptor{
		ID:           fmt.Sprintf("%04x:%04x:%s", vendor, product, port),
		Name:         name,
		Kind:         kind,
		VendorID:     vendor,
		ProductID:    product,
		Capabilities: set,
	}
}

// Has reports whether the descriptor advertises the given capability.
func (d Descriptor) Has(c Capability) bool {
	return d.Capabilities[c]
}

// Endpoint returns the first endpoint tagged with role, and whether one was
// found. Drivers use this instead of filename heuristics.
func (d Descriptor) Endpoint(role string) (Endpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.Role == role {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Event is emitted by the enumerator when a device appears or disappears.
type Event struct {
	Added      bool
	Descriptor Descriptor
}

// Enumerator is the external collaborator that discovers devices. The core
// only consumes it; it never implements USB/HID discovery itself.
type Enumerator interface {
	// Scan returns the current set of attached devices.
	Scan() ([]Descriptor, error)
	// Events returns a channel of add/remove notifications. Closing it
	// signals the enumerator has shut down.
	Events() <-chan Event
}
