// Package buspirate implements the Bus role over BPIO2 for Bus Pirate
// 5/6-class devices, grounded in
// _examples/original_source/src/hwh/backends/backend_buspirate.py.
package buspirate

import (
	"context"
	"fmt"
	"time"

	"hwh/pkg/backend"
	"hwh/pkg/bpio2"
	"hwh/pkg/descriptor"
)

// SPI flash command bytes, standard across JEDEC-compatible parts —
// backend_buspirate.py only implements read_id/read directly and issues
// erase/write as raw spi_transfer calls built the same way.
const (
	cmdFlashReadID     = 0x9F
	cmdFlashRead       = 0x03
	cmdFlashWriteEn    = 0x06
	cmdFlashPageWrite  = 0x02
	cmdFlashReadStatus = 0x05
	cmdSectorErase     = 0x20
	cmdBlockErase      = 0xD8
	cmdChipErase       = 0xC7
)

// flashPageSize is the page-program granularity of JEDEC SPI NOR parts: a
// page write that crosses a 256-byte boundary wraps inside the page, so
// writes are split on those boundaries.
const flashPageSize = 256

// statusBusyBit is the WIP bit of the flash status register.
const statusBusyBit = 0x01

// pageWriteTimeout bounds the busy-poll after one page program.
const pageWriteTimeout = 500 * time.Millisecond

// busyPollInterval paces status-register reads while the part programs.
const busyPollInterval = 2 * time.Millisecond

// Kind is the registry key for this driver.
const Kind = "buspirate"

// Driver builds the backend.Driver registration for a registry.
func Driver() backend.Driver {
	return backend.Driver{
		Kind:         Kind,
		Capabilities: []descriptor.Capability{descriptor.CapSPI, descriptor.CapI2C, descriptor.CapUART, descriptor.CapOneWire, descriptor.CapFlash, descriptor.CapADC, descriptor.CapGPIO},
		Open:         open,
	}
}

func open(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
	ep, ok := d.Endpoint("console")
	if !ok {
		return nil, backend.New(backend.KindInvalidConfig, "open", d.ID, fmt.Errorf("descriptor has no console endpoint"))
	}
	binEp, ok := d.Endpoint("binary")
	if !ok {
		return nil, backend.New(backend.KindInvalidConfig, "open", d.ID, fmt.Errorf("descriptor has no binary endpoint"))
	}

	opener := &serialOpener{consolePath: ep.Path, binaryPath: binEp.Path}
	client := bpio2.NewClient(opener, 0)
	if err := client.Connect(ctx); err != nil {
		return nil, backend.New(backend.KindTransport, "connect", d.ID, err)
	}

	return &Instance{id: d.ID, client: client}, nil
}

// Instance is a connected Bus Pirate, implementing backend.Bus directly.
type Instance struct {
	id     string
	client *bpio2.Client
}

func (i *Instance) Close() error {
	i.client.Disconnect()
	return nil
}

// Info reports the device's live status fields, refreshed through the
// debounced status call.
func (i *Instance) Info() map[string]string {
	info := map[string]string{"driver": Kind}
	status, err := i.client.Status(context.Background())
	if err != nil {
		return info
	}
	info["firmware"] = fmt.Sprintf("%d.%d", status.VersionFirmwareMajor, status.VersionFirmwareMinor)
	info["hardware"] = fmt.Sprintf("%d.%d", status.VersionHardwareMajor, status.VersionHardwareMinor)
	info["mode"] = status.ModeCurrent
	info["psu_enabled"] = fmt.Sprintf("%t", status.PSUEnabled)
	return info
}

func (i *Instance) AsBus() (backend.Bus, bool)                         { return i, true }
func (i *Instance) AsDebug() (backend.Debug, bool)                     { return nil, false }
func (i *Instance) AsGlitch() (backend.Glitch, bool)                   { return nil, false }
func (i *Instance) AsLogicAnalyzer() (backend.LogicAnalyzer, bool)     { return nil, false }

// Configure maps a generic mode string onto a bpio2.ConfigureOptions the
// way backend_buspirate.py's configure_spi/configure_i2c/configure_uart
// each build a BPIO2 configuration_request.
func (i *Instance) Configure(ctx context.Context, mode string, params map[string]any) error {
	opts := bpio2.ConfigureOptions{}
	switch mode {
	case "spi":
		opts.Mode = bpio2.ModeSPI
		opts.SpeedHz = asUint32(params["speed_hz"])
		spiMode := asUint32(params["mode"])
		opts.ClockPolarity = (spiMode>>1)&1 == 1 // CPOL
		opts.ClockPhase = spiMode&1 == 1         // CPHA
		opts.ChipSelectIdle = asBool(params["cs_active_low"])
	case "i2c":
		opts.Mode = bpio2.ModeI2C
		opts.SpeedHz = asUint32(params["speed_hz"])
	case "uart":
		opts.Mode = bpio2.ModeUART
		opts.SpeedHz = asUint32(params["baudrate"])
		opts.DataBits = uint8(asUint32(params["data_bits"]))
		opts.StopBits = uint8(asUint32(params["stop_bits"]))
	case "one_wire":
		opts.Mode = bpio2.ModeOneWire
	default:
		return backend.New(backend.KindInvalidConfig, "configure", i.id, fmt.Errorf("unknown mode %q", mode))
	}

	if err := i.client.Configure(ctx, opts); err != nil {
		return backend.New(backend.KindDevice, "configure", i.id, err)
	}
	return nil
}

// Transfer performs one bus transaction: write then read, matching
// spi_transfer/i2c's transfer() pairing of a DataRequest write with a
// following read of the requested length.
func (i *Instance) Transfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	if len(write) > 0 {
		if _, err := i.client.Data(ctx, bpio2.DataOptions{DataWrite: write}); err != nil {
			return nil, backend.New(backend.KindDevice, "transfer_write", i.id, err)
		}
	}
	if readLen <= 0 {
		return nil, nil
	}
	data, err := i.client.Data(ctx, bpio2.DataOptions{BytesRead: uint32(readLen)})
	if err != nil {
		return nil, backend.New(backend.KindDevice, "transfer_read", i.id, err)
	}
	return data, nil
}

func (i *Instance) SetPower(ctx context.Context, enabled bool, millivolts uint32) error {
	opts := bpio2.ConfigureOptions{}
	if enabled {
		opts.PSUEnable = true
		opts.PSUSetMV = millivolts
	} else {
		opts.PSUDisable = true
	}
	if err := i.client.Configure(ctx, opts); err != nil {
		return backend.New(backend.KindDevice, "set_power", i.id, err)
	}
	return nil
}

func (i *Instance) SetPullups(ctx context.Context, enabled bool) error {
	opts := bpio2.ConfigureOptions{PullupEnable: enabled, PullupDisable: !enabled}
	if err := i.client.Configure(ctx, opts); err != nil {
		return backend.New(backend.KindDevice, "set_pullups", i.id, err)
	}
	return nil
}

// FlashReadID sends the JEDEC 0x9F command and reads back 3 ID bytes
// (backend_buspirate.py's spi_flash_read_id).
func (i *Instance) FlashReadID(ctx context.Context) ([]byte, error) {
	return i.Transfer(ctx, []byte{cmdFlashReadID}, 3)
}

// FlashRead issues the standard 0x03 read command with a 24-bit address
// (backend_buspirate.py's spi_flash_read).
func (i *Instance) FlashRead(ctx context.Context, addr uint32, length int) ([]byte, error) {
	cmd := []byte{cmdFlashRead, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	return i.Transfer(ctx, cmd, length)
}

// FlashWrite splits data on 256-byte page boundaries and, after each page
// program, polls the status register until the WIP bit clears.
func (i *Instance) FlashWrite(ctx context.Context, addr uint32, data []byte) error {
	for len(data) > 0 {
		// First chunk may be short so subsequent pages start aligned.
		chunk := flashPageSize - int(addr%flashPageSize)
		if chunk > len(data) {
			chunk = len(data)
		}

		if _, err := i.Transfer(ctx, []byte{cmdFlashWriteEn}, 0); err != nil {
			return err
		}
		cmd := append([]byte{cmdFlashPageWrite, byte(addr >> 16), byte(addr >> 8), byte(addr)}, data[:chunk]...)
		if _, err := i.Transfer(ctx, cmd, 0); err != nil {
			return err
		}
		if err := i.waitFlashIdle(ctx, "flash_write", pageWriteTimeout); err != nil {
			return err
		}

		addr += uint32(chunk)
		data = data[chunk:]
	}
	return nil
}

// FlashErase issues the erase command matching scope and polls the status
// register for busy-clear, budgeted by the scope's own timeout ceiling
// (sector 500ms, block 2s, chip 60s).
func (i *Instance) FlashErase(ctx context.Context, scope backend.FlashScope, addr uint32) error {
	if _, err := i.Transfer(ctx, []byte{cmdFlashWriteEn}, 0); err != nil {
		return err
	}

	var cmd []byte
	switch scope {
	case backend.FlashScopeSector:
		cmd = []byte{cmdSectorErase, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	case backend.FlashScopeBlock:
		cmd = []byte{cmdBlockErase, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	case backend.FlashScopeChip:
		cmd = []byte{cmdChipErase}
	default:
		return backend.New(backend.KindInvalidConfig, "flash_erase", i.id, fmt.Errorf("unknown scope"))
	}

	if _, err := i.Transfer(ctx, cmd, 0); err != nil {
		return err
	}
	return i.waitFlashIdle(ctx, "flash_erase", scope.Timeout())
}

// waitFlashIdle polls the status register until the WIP bit clears,
// failing with Timeout once the deadline expires while the part still
// reports busy.
func (i *Instance) waitFlashIdle(ctx context.Context, op string, deadline time.Duration) error {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		status, err := i.Transfer(pollCtx, []byte{cmdFlashReadStatus}, 1)
		if err != nil {
			if pollCtx.Err() != nil {
				return backend.New(backend.KindTimeout, op, i.id, fmt.Errorf("flash busy past %v deadline", deadline))
			}
			return err
		}
		if len(status) == 1 && status[0]&statusBusyBit == 0 {
			return nil
		}
		select {
		case <-pollCtx.Done():
			return backend.New(backend.KindTimeout, op, i.id, fmt.Errorf("flash busy past %v deadline", deadline))
		case <-time.After(busyPollInterval):
		}
	}
}

func asUint32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int:
		return uint32(n)
	case float64:
		return uint32(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
