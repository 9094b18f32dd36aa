// Package backend defines the role contracts every device driver
// implements and an explicit registry drivers register themselves
// with, grounded in
// _examples/original_source/src/hwh/backends/base.py's _BACKEND_REGISTRY/
// register_backend/get_backend and the reference module's per-device
// server wiring in server.go.
package backend

import (
	"context"
	"time"

	"hwh/pkg/descriptor"
	"hwh/pkg/sump"
)

// Role names one of the four capability surfaces a driver may expose.
// A single driver can implement more than one role interface.
type Role string

const (
	RoleBus           Role = "bus"
	RoleDebug         Role = "debug"
	RoleGlitch        Role = "glitch"
	RoleLogicAnalyzer Role = "logic_analyzer"
)

// FlashScope bounds how long a flash operation is allowed to run, since
// erase latency varies by orders of magnitude with granularity.
type FlashScope int

const (
	FlashScopeSector FlashScope = iota
	FlashScopeBlock
	FlashScopeChip
)

// Timeout returns the ceiling backend_buspirate.py's flash helpers use for
// each erase granularity: 500ms for a sector, 2s for a block, 60s for a
// full-chip erase.
func (s FlashScope) Timeout() time.Duration {
	switch s {
	case FlashScopeSector:
		return 500 * time.Millisecond
	case FlashScopeBlock:
		return 2 * time.Second
	case FlashScopeChip:
		return 60 * time.Second
	default:
		return 2 * time.Second
	}
}

// Bus is the role for drivers that speak a byte-oriented protocol (SPI,
// I2C, UART, 1-Wire) to a target.
type Bus interface {
	Configure(ctx context.Context, mode string, params map[string]any) error
	Transfer(ctx context.Context, write []byte, readLen int) ([]byte, error)
	SetPower(ctx context.Context, enabled bool, millivolts uint32) error
	SetPullups(ctx context.Context, enabled bool) error

	FlashReadID(ctx context.Context) ([]byte, error)
	FlashRead(ctx context.Context, addr uint32, length int) ([]byte, error)
	FlashWrite(ctx context.Context, addr uint32, data []byte) error
	FlashErase(ctx context.Context, scope FlashScope, addr uint32) error
}

// Debug is the role for drivers that drive a target's debug port (JTAG,
// SWD, GDB remote serial protocol).
type Debug interface {
	Halt(ctx context.Context) error
	Resume(ctx context.Context) error
	Step(ctx context.Context) error
	ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
	ReadRegisters(ctx context.Context) (map[string]uint32, error)
}

// Glitch is the role for drivers that expose fault-injection timing
// control.
type Glitch interface {
	Configure(widthNs, offsetNs uint64, repeat int) error
	Arm() error
	Trigger() error
	Disarm() error
}

// LogicAnalyzer is the role for drivers that expose a SUMP-protocol logic
// analyzer endpoint on a connection distinct from their Bus/Debug/Glitch
// transport.
type LogicAnalyzer interface {
	Capture(ctx context.Context, cfg sump.Config, timeout time.Duration) (*sump.Capture, error)
}

// Driver is what a concrete device backend registers under: a value owned
// by an explicit Registry rather than a side effect of package init.
type Driver struct {
	Kind         string
	Capabilities []descriptor.Capability
	Open         func(ctx context.Context, d descriptor.Descriptor) (Instance, error)
}

// Instance is a live, opened backend. Role accessors return ok=false when
// the concrete driver doesn't implement that role. Info reports
// driver-specific facts (model, firmware, endpoint layout) for
// introspection surfaces.
type Instance interface {
	Close() error
	Info() map[string]string
	AsBus() (Bus, bool)
	AsDebug() (Debug, bool)
	AsGlitch() (Glitch, bool)
	AsLogicAnalyzer() (LogicAnalyzer, bool)
}
