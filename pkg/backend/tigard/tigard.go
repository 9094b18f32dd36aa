// Package tigard implements the Bus role over MPSSE and the Debug role
// over an OpenOCD subprocess for Tigard (FT2232H-based) hardware, grounded
// in _examples/original_source/src/hwh/backends/backend_tigard.py's split
// between TigardBackend (pyftdi SPI/I2C/UART) and TigardDebugBackend
// (OpenOCD + telnet JTAG/SWD).
package tigard

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
	"github.com/tarm/serial"

	"hwh/internal/config"
	"hwh/pkg/backend"
	"hwh/pkg/descriptor"
	"hwh/pkg/mpsse"
	"hwh/pkg/stream"
)

// Kind is the registry key for this driver.
const Kind = "tigard"

// channelBInterface is the FT2232H's second MPSSE-capable interface
// (backend_tigard.py's FTDI_URL_TEMPLATE "ftdi://ftdi:2232h:{serial}/2",
// channel B — channel A is left to UART).
const channelBInterface = 1

const (
	mpsseOutEndpoint = 0x02
	mpsseInEndpoint  = 0x82
)

const uartBaud = 115200

// Driver builds the backend.Driver registration for a registry.
func Driver() backend.Driver {
	return backend.Driver{
		Kind:         Kind,
		Capabilities: []descriptor.Capability{descriptor.CapSPI, descriptor.CapI2C, descriptor.CapUART, descriptor.CapJTAG, descriptor.CapSWD, descriptor.CapDebug},
		Open:         open,
	}
}

// telnetPortCounter hands out one OpenOCD telnet port per concurrently
// open Tigard so devices never race over the same listener.
var telnetPortCounter int32

func nextTelnetPort(base int) int {
	n := atomic.AddInt32(&telnetPortCounter, 1)
	return base + int(n) - 1
}

func open(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, backend.New(backend.KindInvalidConfig, "open", d.ID, err)
	}

	usbCtx := gousb.NewContext()
	usbDev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(d.VendorID), gousb.ID(d.ProductID))
	if err != nil || usbDev == nil {
		usbCtx.Close()
		return nil, backend.New(backend.KindTransport, "open_usb", d.ID, err)
	}
	usbCfg, err := usbDev.Config(1)
	if err != nil {
		usbDev.Close()
		usbCtx.Close()
		return nil, backend.New(backend.KindTransport, "open_config", d.ID, err)
	}
	intf, err := usbCfg.Interface(channelBInterface, 0)
	if err != nil {
		usbCfg.Close()
		usbDev.Close()
		usbCtx.Close()
		return nil, backend.New(backend.KindTransport, "open_interface", d.ID, err)
	}
	epOut, err := intf.OutEndpoint(mpsseOutEndpoint)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		usbDev.Close()
		usbCtx.Close()
		return nil, backend.New(backend.KindTransport, "open_out_ep", d.ID, err)
	}
	epIn, err := intf.InEndpoint(mpsseInEndpoint)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		usbDev.Close()
		usbCtx.Close()
		return nil, backend.New(backend.KindTransport, "open_in_ep", d.ID, err)
	}

	var uartConn *serial.Port
	if ep, ok := d.Endpoint("uart"); ok {
		uartConn, err = serial.OpenPort(&serial.Config{Name: ep.Path, Baud: uartBaud, ReadTimeout: time.Second})
		if err != nil {
			intf.Close()
			usbCfg.Close()
			usbDev.Close()
			usbCtx.Close()
			return nil, backend.New(backend.KindTransport, "open_uart", d.ID, err)
		}
	}

	inst := &Instance{
		id:       d.ID,
		cfg:      *cfg,
		mpsse:    mpsse.NewController(mpsse.NewTransport(epOut, epIn)),
		uartConn: uartConn,
		lines:    stream.NewBroadcaster[string](64),
		usbCtx:   usbCtx,
		usbDev:   usbDev,
		usbCfg:   usbCfg,
		usbIntf:  intf,
		port:     nextTelnetPort(cfg.OpenOCDTelnetPortBase),
	}
	if uartConn != nil {
		inst.pumpDone = make(chan struct{})
		go inst.pumpUART()
	}
	return inst, nil
}

// pumpUART reads newline-delimited text off the channel-A UART and
// publishes each line to Lines(), so the coordinator's route sources
// and any other DeviceOutput consumer share one connection
// instead of each opening their own ("concurrent subscriptions with a
// single serial connection").
func (i *Instance) pumpUART() {
	defer close(i.pumpDone)
	sc := bufio.NewScanner(i.uartConn)
	for sc.Scan() {
		i.lines.Publish(sc.Text())
	}
}

// Instance is a connected Tigard, exposing both Bus (MPSSE SPI/I2C plus
// channel-A UART) and Debug (OpenOCD-backed JTAG/SWD).
type Instance struct {
	id  string
	cfg config.RuntimeConfig

	mpsse    *mpsse.Controller
	mode     mpsse.Mode
	uartConn *serial.Port
	lines    *stream.Broadcaster[string]
	pumpDone chan struct{}

	usbCtx  *gousb.Context
	usbDev  *gousb.Device
	usbCfg  *gousb.Config
	usbIntf *gousb.Interface

	port int

	mu      sync.Mutex
	session *openOCDSession
}

// Lines implements pool.TextStreamer so the Tigard's UART channel is
// available as a coordinator route source without any consumer
// opening a second connection to the same endpoint.
func (i *Instance) Lines() *stream.Broadcaster[string] { return i.lines }

func (i *Instance) Close() error {
	i.mu.Lock()
	if i.session != nil {
		_ = i.session.close()
		i.session = nil
	}
	i.mu.Unlock()

	i.usbIntf.Close()
	i.usbCfg.Close()
	i.usbDev.Close()
	i.usbCtx.Close()
	if i.uartConn != nil {
		err := i.uartConn.Close()
		if i.pumpDone != nil {
			<-i.pumpDone
		}
		return err
	}
	return nil
}

// Info reports the driver's fixed facts plus whether an OpenOCD session
// is currently live.
func (i *Instance) Info() map[string]string {
	i.mu.Lock()
	openocdLive := i.session != nil
	i.mu.Unlock()
	return map[string]string{
		"driver":       Kind,
		"mpsse":        "channel B",
		"uart":         fmt.Sprintf("%t", i.uartConn != nil),
		"openocd_live": fmt.Sprintf("%t", openocdLive),
		"telnet_port":  fmt.Sprintf("%d", i.port),
	}
}

func (i *Instance) AsBus() (backend.Bus, bool)                     { return (*busAdapter)(i), true }
func (i *Instance) AsDebug() (backend.Debug, bool)                 { return (*debugAdapter)(i), true }
func (i *Instance) AsGlitch() (backend.Glitch, bool)               { return nil, false }
func (i *Instance) AsLogicAnalyzer() (backend.LogicAnalyzer, bool) { return nil, false }

func (i *Instance) ensureOpenOCD(ctx context.Context) (*openOCDSession, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session != nil {
		return i.session, nil
	}
	sess, err := startOpenOCD(ctx, i.cfg, i.port, "swd", "auto")
	if err != nil {
		return nil, backend.New(backend.KindTransport, "openocd_start", i.id, err)
	}
	i.session = sess
	return sess, nil
}

// busAdapter exposes *Instance's MPSSE controller and UART connection as
// backend.Bus.
type busAdapter Instance

func (b *busAdapter) Configure(ctx context.Context, mode string, params map[string]any) error {
	i := (*Instance)(b)
	switch mode {
	case "spi":
		i.mode = mpsse.ModeSPI
		spiMode := asUint32(params["mode"])
		return i.mpsse.Configure(ctx, mpsse.Config{
			Mode:          mpsse.ModeSPI,
			SpeedHz:       asUint32(params["speed_hz"]),
			ClockPolarity: (spiMode>>1)&1 == 1,
			ClockPhase:    spiMode&1 == 1,
		})
	case "i2c":
		i.mode = mpsse.ModeI2C
		return i.mpsse.Configure(ctx, mpsse.Config{Mode: mpsse.ModeI2C, SpeedHz: asUint32(params["speed_hz"])})
	case "uart":
		if i.uartConn == nil {
			return backend.New(backend.KindInvalidConfig, "configure", i.id, fmt.Errorf("descriptor has no uart endpoint"))
		}
		return nil
	default:
		return backend.New(backend.KindInvalidConfig, "configure", i.id, fmt.Errorf("unknown mode %q", mode))
	}
}

func (b *busAdapter) Transfer(ctx context.Context, write []byte, readLen int) ([]byte, error) {
	i := (*Instance)(b)
	data, err := i.mpsse.Transfer(ctx, write, readLen)
	if err != nil {
		return nil, backend.New(backend.KindDevice, "transfer", i.id, err)
	}
	return data, nil
}

func (b *busAdapter) SetPower(ctx context.Context, enabled bool, millivolts uint32) error {
	return backend.New(backend.KindRoleNotSupported, "set_power", (*Instance)(b).id, fmt.Errorf("tigard has no software-controlled target supply"))
}

func (b *busAdapter) SetPullups(ctx context.Context, enabled bool) error {
	return backend.New(backend.KindRoleNotSupported, "set_pullups", (*Instance)(b).id, fmt.Errorf("tigard pullups are jumper-controlled"))
}

// SPI flash command bytes, matching backend_tigard.py's spi_flash_*
// helpers (the same JEDEC set buspirate.go uses).
const (
	cmdFlashReadID    = 0x9F
	cmdFlashRead      = 0x03
	cmdFlashWriteEn   = 0x06
	cmdFlashPageWrite = 0x02
	cmdSectorErase    = 0x20
	cmdBlockErase     = 0xD8
	cmdChipErase      = 0xC7
)

func (b *busAdapter) FlashReadID(ctx context.Context) ([]byte, error) {
	return b.Transfer(ctx, []byte{cmdFlashReadID}, 3)
}

func (b *busAdapter) FlashRead(ctx context.Context, addr uint32, length int) ([]byte, error) {
	cmd := []byte{cmdFlashRead, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	return b.Transfer(ctx, cmd, length)
}

func (b *busAdapter) FlashWrite(ctx context.Context, addr uint32, data []byte) error {
	if _, err := b.Transfer(ctx, []byte{cmdFlashWriteEn}, 0); err != nil {
		return err
	}
	cmd := append([]byte{cmdFlashPageWrite, byte(addr >> 16), byte(addr >> 8), byte(addr)}, data...)
	_, err := b.Transfer(ctx, cmd, 0)
	return err
}

func (b *busAdapter) FlashErase(ctx context.Context, scope backend.FlashScope, addr uint32) error {
	i := (*Instance)(b)
	ctx, cancel := context.WithTimeout(ctx, scope.Timeout())
	defer cancel()

	if _, err := b.Transfer(ctx, []byte{cmdFlashWriteEn}, 0); err != nil {
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
	if _, err := b.Transfer(ctx, cmd, 0); err != nil {
		return backend.New(backend.KindTimeout, "flash_erase", i.id, err)
	}
	return nil
}

// debugAdapter exposes *Instance's lazily-started OpenOCD session as
// backend.Debug.
type debugAdapter Instance

func (g *debugAdapter) halt(ctx context.Context, cmd string) error {
	i := (*Instance)(g)
	sess, err := i.ensureOpenOCD(ctx)
	if err != nil {
		return err
	}
	resp, err := sess.send(cmd)
	if err != nil {
		return backend.New(backend.KindDevice, cmd, i.id, err)
	}
	if containsError(resp) {
		return backend.New(backend.KindDevice, cmd, i.id, fmt.Errorf("openocd: %s", resp))
	}
	return nil
}

func (g *debugAdapter) Halt(ctx context.Context) error   { return g.halt(ctx, "halt") }
func (g *debugAdapter) Resume(ctx context.Context) error { return g.halt(ctx, "resume") }
func (g *debugAdapter) Step(ctx context.Context) error   { return g.halt(ctx, "step") }

func (g *debugAdapter) ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error) {
	i := (*Instance)(g)
	sess, err := i.ensureOpenOCD(ctx)
	if err != nil {
		return nil, err
	}
	words := (length + 3) / 4
	resp, err := sess.send(fmt.Sprintf("mdw 0x%08x %d", addr, words))
	if err != nil {
		return nil, backend.New(backend.KindDevice, "read_memory", i.id, err)
	}
	return parseMdwWords(resp, length), nil
}

func (g *debugAdapter) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	i := (*Instance)(g)
	sess, err := i.ensureOpenOCD(ctx)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += 4 {
		chunk := data[off:min(off+4, len(data))]
		var word [4]byte
		copy(word[:], chunk)
		val := uint32(word[0]) | uint32(word[1])<<8 | uint32(word[2])<<16 | uint32(word[3])<<24
		resp, err := sess.send(fmt.Sprintf("mww 0x%08x 0x%08x", addr+uint32(off), val))
		if err != nil {
			return backend.New(backend.KindDevice, "write_memory", i.id, err)
		}
		if containsError(resp) {
			return backend.New(backend.KindDevice, "write_memory", i.id, fmt.Errorf("openocd: %s", resp))
		}
	}
	return nil
}

func (g *debugAdapter) ReadRegisters(ctx context.Context) (map[string]uint32, error) {
	i := (*Instance)(g)
	sess, err := i.ensureOpenOCD(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := sess.send("reg")
	if err != nil {
		return nil, backend.New(backend.KindDevice, "read_registers", i.id, err)
	}
	return parseRegisters(resp), nil
}

func containsError(resp string) bool {
	return strings.HasPrefix(resp, "Error") || strings.HasPrefix(resp, "error")
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
