// Package mpsse drives an FTDI MPSSE engine's SPI and I2C framing over a
// raw bulk USB pipe, using the documented FTDI MPSSE command byte layout
// reimplemented directly over google/gousb's bulk endpoints rather than
// pulling in a legacy d2xx-era dependency (see DESIGN.md).
package mpsse

import (
	"context"
	"fmt"
	"time"
)

// Command bytes, restricted to the subset SPI/I2C transfer needs.
const (
	cmdDataOutMSBFBytesRise = 0x10
	cmdDataOutMSBFBytesFall = 0x11
	cmdDataInMSBFBytesRise  = 0x20
	cmdDataIOMSBFBytesFall  = 0x34
	cmdTristate             = 0x9E
	cmdGPIOSetD             = 0x80
	cmdGPIOSetC             = 0x82
	cmdClockSetDivisor      = 0x86
	cmdClock3Phase          = 0x8C
	cmdClock2Phase          = 0x8D
	cmdLoopbackDisable      = 0x85
	cmdSendImmediate        = 0x87
)

// mpsseBaseClockHz is the FT2232H's internal MPSSE clock before the 5x
// divisor is disabled (FTDI application note AN_135).
const mpsseBaseClockHz = 6_000_000

// Mode selects which bus protocol Transfer frames its bytes as.
type Mode int

const (
	ModeSPI Mode = iota
	ModeI2C
)

// Config is one bus configuration, mirroring backend_tigard.py's
// SPIConfig/I2CConfig fields that matter for MPSSE framing.
type Config struct {
	Mode          Mode
	SpeedHz       uint32
	ClockPolarity bool // CPOL: idle clock high
	ClockPhase    bool // CPHA: sample on second edge
}

// Transport is the bulk pipe an MPSSE-capable FTDI channel exposes.
// *gousb.OutEndpoint supplies WriteContext and *gousb.InEndpoint
// ReadContext; NewTransport pairs the two into one Transport.
type Transport interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// rwTransport composes a write-capable and a read-capable endpoint (FTDI
// MPSSE channels are full-duplex over one interface but gousb exposes
// separate endpoint objects for each direction).
type rwTransport struct {
	out interface {
		WriteContext(ctx context.Context, p []byte) (int, error)
	}
	in interface {
		ReadContext(ctx context.Context, p []byte) (int, error)
	}
}

func (t rwTransport) WriteContext(ctx context.Context, p []byte) (int, error) {
	return t.out.WriteContext(ctx, p)
}

func (t rwTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	return t.in.ReadContext(ctx, p)
}

// NewTransport pairs a bulk OUT endpoint and a bulk IN endpoint into one
// Transport.
func NewTransport(
	out interface {
		WriteContext(ctx context.Context, p []byte) (int, error)
	},
	in interface {
		ReadContext(ctx context.Context, p []byte) (int, error)
	},
) Transport {
	return rwTransport{out: out, in: in}
}

// ioTimeout bounds every individual bulk transfer MPSSE issues.
const ioTimeout = 2 * time.Second

// Controller drives one MPSSE channel: clock setup, GPIO idle state, and
// byte-oriented SPI/I2C transfers.
type Controller struct {
	t   Transport
	cfg Config
}

// NewController wraps t, which must already be claimed on an MPSSE-capable
// interface (the caller opens it the way usb_device.go opens the Bolt's
// bulk pipe: Config -> Interface -> endpoints).
func NewController(t Transport) *Controller {
	return &Controller{t: t}
}

// Configure resets the channel to the given mode and clock, matching
// configure_spi/configure_i2c's "close current protocol, reconfigure"
// sequence. I2C phase/polarity are fixed by the protocol, so only SPI
// uses cfg.ClockPolarity, which sets the idle clock level. cfg.ClockPhase
// is not applied: Transfer always clocks data out and in on the rising edge.
func (c *Controller) Configure(ctx context.Context, cfg Config) error {
	c.cfg = cfg

	divisor := clockDivisor(cfg.SpeedHz)
	cmd := []byte{
		cmdLoopbackDisable,
		cmdClockSetDivisor, byte(divisor), byte(divisor >> 8),
	}
	if cfg.Mode == ModeI2C {
		cmd = append(cmd, cmdClock3Phase)
	} else {
		cmd = append(cmd, cmdClock2Phase)
	}
	// Idle GPIO state: SK(clock) low unless CPOL requests idle-high; DO/DI
	// released as inputs except the lines MPSSE drives.
	idle := byte(0x00)
	if cfg.Mode == ModeSPI && cfg.ClockPolarity {
		idle = 0x01
	}
	cmd = append(cmd, cmdGPIOSetD, idle, 0x0B) // SK,DO,CS as outputs (bits 0,1,3)

	if _, err := c.t.WriteContext(ctx, cmd); err != nil {
		return fmt.Errorf("mpsse: configure: %w", err)
	}
	return nil
}

// clockDivisor maps a target bus frequency onto the MPSSE divisor formula
// from AN_135: freq = 6MHz / ((1 + divisor) * 2).
func clockDivisor(hz uint32) uint16 {
	if hz == 0 {
		hz = 1_000_000
	}
	target := mpsseBaseClockHz / (2 * uint32(hz))
	if target == 0 {
		return 0
	}
	if target > 0xFFFF {
		target = 0xFFFF
	}
	return uint16(target - 1)
}

// Transfer clocks out write, then clocks in readLen bytes: the same write-then-read pairing SPI and I2C both reduce to
// under the Bus role contract.
func (c *Controller) Transfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	var cmd []byte
	if len(write) > 0 {
		n := len(write) - 1
		cmd = append(cmd, cmdDataOutMSBFBytesRise, byte(n), byte(n>>8))
		cmd = append(cmd, write...)
	}
	if readLen > 0 {
		n := readLen - 1
		cmd = append(cmd, cmdDataInMSBFBytesRise, byte(n), byte(n>>8))
		cmd = append(cmd, cmdSendImmediate)
	}
	if len(cmd) == 0 {
		return nil, nil
	}
	if _, err := c.t.WriteContext(ctx, cmd); err != nil {
		return nil, fmt.Errorf("mpsse: transfer write: %w", err)
	}
	if readLen == 0 {
		return nil, nil
	}

	out := make([]byte, readLen)
	read := 0
	for read < readLen {
		n, err := c.t.ReadContext(ctx, out[read:])
		if err != nil {
			return nil, fmt.Errorf("mpsse: transfer read: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("mpsse: transfer read: short read")
		}
		read += n
	}
	return out, nil
}
