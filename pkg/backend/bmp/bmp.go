// Package bmp implements the Debug role over GDB Machine Interface for
// Black Magic Probe-class devices, grounded in
// _examples/original_source/src/hwh/backends/backend_blackmagic.py's
// BlackMagicProbeBackend. The BMP's built-in GDB server means `target
// extended-remote` is the only setup step: no OpenOCD subprocess,
// no telnet port, just one arm-none-eabi-gdb process driven over MI.
package bmp

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"hwh/internal/config"
	"hwh/pkg/backend"
	"hwh/pkg/descriptor"
	"hwh/pkg/stream"
)

// Kind is the registry key for this driver.
const Kind = "bmp"

const uartPassthroughBaud = 115200

// Driver builds the backend.Driver registration for a registry.
func Driver() backend.Driver {
	return backend.Driver{
		Kind:         Kind,
		Capabilities: []descriptor.Capability{descriptor.CapJTAG, descriptor.CapSWD, descriptor.CapDebug, descriptor.CapUART},
		Open:         open,
	}
}

func open(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
	gdbEp, ok := d.Endpoint("gdb")
	if !ok {
		return nil, backend.New(backend.KindInvalidConfig, "open", d.ID, fmt.Errorf("descriptor has no gdb endpoint"))
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, backend.New(backend.KindInvalidConfig, "open", d.ID, err)
	}

	sess, err := startSession(ctx, cfg.SubprocessShutdown)
	if err != nil {
		return nil, backend.New(backend.KindTransport, "start_gdb", d.ID, err)
	}

	// "-target-select extended-remote <port>" is the BMP's only required
	// setup step (backend_blackmagic.py connect(): "the cleanest debug
	// interface to work with"). After it, open runs a best-effort
	// "monitor swdp_scan" and "-target-attach 1"; their failure does not
	// fail open.
	res, err := sess.command(fmt.Sprintf("-target-select extended-remote %s", gdbEp.Path))
	if err != nil {
		_ = sess.close(cfg.SubprocessShutdown)
		return nil, backend.New(backend.KindTransport, "target_select", d.ID, err)
	}
	if res.class != "connected" && res.class != "done" {
		_ = sess.close(cfg.SubprocessShutdown)
		return nil, backend.New(backend.KindDevice, "target_select", d.ID, fmt.Errorf("gdb: %s %s", res.class, res.payload))
	}

	inst := &Instance{
		id:      d.ID,
		sess:    sess,
		cfg:     *cfg,
		lines:   stream.NewBroadcaster[string](64),
		breaks:  make(map[int]string),
		nextBP:  1,
		targets: false,
	}

	if ep, ok := d.Endpoint("uart"); ok {
		conn, err := serial.OpenPort(&serial.Config{Name: ep.Path, Baud: uartPassthroughBaud, ReadTimeout: time.Second})
		if err == nil {
			inst.uartConn = conn
			inst.pumpDone = make(chan struct{})
			go inst.pumpUART()
		}
	}

	if _, err := inst.monitor("swdp_scan"); err == nil {
		if _, err := sess.command("-target-attach 1"); err == nil {
			inst.targets = true
		}
	}

	return inst, nil
}

// Instance is a connected Black Magic Probe, implementing Debug directly.
type Instance struct {
	id   string
	sess *session
	cfg  config.RuntimeConfig

	uartConn *serial.Port
	lines    *stream.Broadcaster[string]
	pumpDone chan struct{}

	mu      sync.Mutex
	targets bool
	breaks  map[int]string // local handle -> gdb breakpoint number
	nextBP  int
}

func (i *Instance) Close() error {
	if i.uartConn != nil {
		_ = i.uartConn.Close()
		<-i.pumpDone
	}
	return i.sess.close(i.cfg.SubprocessShutdown)
}

// Info reports the probe's scan/attach state and whether the UART
// passthrough endpoint is open.
func (i *Instance) Info() map[string]string {
	i.mu.Lock()
	attached := i.targets
	i.mu.Unlock()
	return map[string]string{
		"driver":          Kind,
		"target_attached": fmt.Sprintf("%t", attached),
		"uart":            fmt.Sprintf("%t", i.uartConn != nil),
	}
}

func (i *Instance) AsBus() (backend.Bus, bool)                     { return nil, false }
func (i *Instance) AsDebug() (backend.Debug, bool)                 { return i, true }
func (i *Instance) AsGlitch() (backend.Glitch, bool)               { return nil, false }
func (i *Instance) AsLogicAnalyzer() (backend.LogicAnalyzer, bool) { return nil, false }

// Lines implements pool.TextStreamer over the BMP's UART-passthrough
// endpoint (the probe's second CDC-ACM port).
func (i *Instance) Lines() *stream.Broadcaster[string] { return i.lines }

func (i *Instance) pumpUART() {
	defer close(i.pumpDone)
	sc := bufio.NewScanner(i.uartConn)
	for sc.Scan() {
		i.lines.Publish(sc.Text())
	}
}

// monitor runs a BMP `monitor` command through
// `-interpreter-exec console`, returning the collected console text
// (backend_blackmagic.py's _monitor_command).
func (i *Instance) monitor(cmd string) (string, error) {
	res, err := i.sess.command(fmt.Sprintf(`-interpreter-exec console "monitor %s"`, cmd))
	if err != nil {
		return "", err
	}
	if res.class == "error" {
		return "", fmt.Errorf("gdb: %s", res.payload)
	}
	return strings.TrimSpace(res.console), nil
}

func (i *Instance) requireTarget() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.targets {
		return backend.New(backend.KindNotConnected, "require_target", i.id, fmt.Errorf("no target attached"))
	}
	return nil
}

func (i *Instance) Halt(ctx context.Context) error {
	if err := i.requireTarget(); err != nil {
		return err
	}
	res, err := i.sess.command("-exec-interrupt")
	if err != nil {
		return backend.New(backend.KindTransport, "halt", i.id, err)
	}
	if res.class == "error" {
		return backend.New(backend.KindDevice, "halt", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	return nil
}

func (i *Instance) Resume(ctx context.Context) error {
	if err := i.requireTarget(); err != nil {
		return err
	}
	res, err := i.sess.command("-exec-continue")
	if err != nil {
		return backend.New(backend.KindTransport, "resume", i.id, err)
	}
	if res.class == "error" {
		return backend.New(backend.KindDevice, "resume", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	return nil
}

func (i *Instance) Step(ctx context.Context) error {
	if err := i.requireTarget(); err != nil {
		return err
	}
	res, err := i.sess.command("-exec-step")
	if err != nil {
		return backend.New(backend.KindTransport, "step", i.id, err)
	}
	if res.class == "error" {
		return backend.New(backend.KindDevice, "step", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	return nil
}

// ReadMemory uses -data-read-memory-bytes, matching
// backend_blackmagic.py's read_memory, and parses the returned hex
// "contents" field straight into bytes.
func (i *Instance) ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if err := i.requireTarget(); err != nil {
		return nil, err
	}
	res, err := i.sess.command(fmt.Sprintf("-data-read-memory-bytes 0x%x %d", addr, length))
	if err != nil {
		return nil, backend.New(backend.KindTransport, "read_memory", i.id, err)
	}
	if res.class == "error" {
		return nil, backend.New(backend.KindDevice, "read_memory", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	hexStr, ok := field(res.payload, "contents")
	if !ok {
		return nil, backend.New(backend.KindDevice, "read_memory", i.id, fmt.Errorf("gdb: no contents field in %q", res.payload))
	}
	out := make([]byte, 0, len(hexStr)/2)
	for j := 0; j+1 < len(hexStr); j += 2 {
		var b byte
		if _, err := fmt.Sscanf(hexStr[j:j+2], "%02x", &b); err != nil {
			break
		}
		out = append(out, b)
	}
	return out, nil
}

// WriteMemory uses -data-write-memory-bytes with a hex payload, matching
// backend_blackmagic.py's write_memory.
func (i *Instance) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if err := i.requireTarget(); err != nil {
		return err
	}
	var hexBuf strings.Builder
	for _, b := range data {
		fmt.Fprintf(&hexBuf, "%02x", b)
	}
	res, err := i.sess.command(fmt.Sprintf("-data-write-memory-bytes 0x%x %s", addr, hexBuf.String()))
	if err != nil {
		return backend.New(backend.KindTransport, "write_memory", i.id, err)
	}
	if res.class == "error" {
		return backend.New(backend.KindDevice, "write_memory", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	return nil
}

// armCortexMRegisters maps GDB's register-number ordering to names, the
// same fixed table backend_blackmagic.py's read_registers hardcodes for
// ARM Cortex-M.
var armCortexMRegisters = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "xpsr",
}

func (i *Instance) ReadRegisters(ctx context.Context) (map[string]uint32, error) {
	if err := i.requireTarget(); err != nil {
		return nil, err
	}
	res, err := i.sess.command("-data-list-register-values x")
	if err != nil {
		return nil, backend.New(backend.KindTransport, "read_registers", i.id, err)
	}
	if res.class == "error" {
		return nil, backend.New(backend.KindDevice, "read_registers", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	regs := make(map[string]uint32)
	payload := res.payload
	for {
		idx := strings.Index(payload, `number="`)
		if idx < 0 {
			break
		}
		payload = payload[idx+len(`number="`):]
		end := strings.IndexByte(payload, '"')
		if end < 0 {
			break
		}
		num := payload[:end]
		payload = payload[end:]
		n := 0
		fmt.Sscanf(num, "%d", &n)
		val, ok := field(payload, "value")
		if !ok {
			continue
		}
		var v uint32
		fmt.Sscanf(strings.TrimPrefix(val, "0x"), "%x", &v)
		if n >= 0 && n < len(armCortexMRegisters) {
			regs[armCortexMRegisters[n]] = v
		}
		if idx2 := strings.IndexByte(payload, '}'); idx2 >= 0 {
			payload = payload[idx2:]
		} else {
			break
		}
	}
	return regs, nil
}

// BreakpointHandle is the integer handle backend_blackmagic.py's
// set_breakpoint/remove_breakpoint return, kept here as a small
// BMP-specific escape hatch (not part of the generic Debug role contract,
// which has no breakpoint method — the Debug interface covers
// halt/resume/step/memory/registers only).
type BreakpointHandle int

// SetBreakpoint inserts a breakpoint at addr and returns a process-local
// handle mapped to GDB's own breakpoint number, matching
// backend_blackmagic.py's set_breakpoint.
func (i *Instance) SetBreakpoint(addr uint32) (BreakpointHandle, error) {
	if err := i.requireTarget(); err != nil {
		return 0, err
	}
	res, err := i.sess.command(fmt.Sprintf("-break-insert *0x%x", addr))
	if err != nil {
		return 0, backend.New(backend.KindTransport, "set_breakpoint", i.id, err)
	}
	if res.class == "error" {
		return 0, backend.New(backend.KindDevice, "set_breakpoint", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	gdbNum, ok := field(res.payload, "number")
	if !ok {
		return 0, backend.New(backend.KindDevice, "set_breakpoint", i.id, fmt.Errorf("gdb: no bkpt number in %q", res.payload))
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	handle := i.nextBP
	i.nextBP++
	i.breaks[handle] = gdbNum
	return BreakpointHandle(handle), nil
}

// RemoveBreakpoint deletes a breakpoint previously returned by
// SetBreakpoint, matching backend_blackmagic.py's remove_breakpoint.
func (i *Instance) RemoveBreakpoint(h BreakpointHandle) error {
	i.mu.Lock()
	gdbNum, ok := i.breaks[int(h)]
	i.mu.Unlock()
	if !ok {
		return backend.New(backend.KindInvalidConfig, "remove_breakpoint", i.id, fmt.Errorf("unknown handle %d", h))
	}
	res, err := i.sess.command(fmt.Sprintf("-break-delete %s", gdbNum))
	if err != nil {
		return backend.New(backend.KindTransport, "remove_breakpoint", i.id, err)
	}
	if res.class == "error" {
		return backend.New(backend.KindDevice, "remove_breakpoint", i.id, fmt.Errorf("gdb: %s", res.payload))
	}
	i.mu.Lock()
	delete(i.breaks, int(h))
	i.mu.Unlock()
	return nil
}

// TargetPower enables or disables the BMP's tpwr target supply rail,
// matching backend_blackmagic.py's set_target_power.
func (i *Instance) TargetPower(enabled bool) error {
	cmd := "tpwr disable"
	if enabled {
		cmd = "tpwr enable"
	}
	_, err := i.monitor(cmd)
	if err != nil {
		return backend.New(backend.KindDevice, "target_power", i.id, err)
	}
	return nil
}

// HardReset issues the BMP's hard_srst monitor command, matching
// backend_blackmagic.py's reset(halt=False).
func (i *Instance) HardReset() error {
	_, err := i.monitor("hard_srst")
	if err != nil {
		return backend.New(backend.KindDevice, "hard_reset", i.id, err)
	}
	return nil
}
