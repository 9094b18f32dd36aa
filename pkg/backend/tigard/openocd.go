package tigard

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"hwh/internal/config"
)

// openOCDSession owns one OpenOCD subprocess and its telnet control
// socket, grounded in backend_tigard.py's TigardDebugBackend: spawn
// openocd with an interface config and a transport selection, wait for
// it to come up, then drive it entirely through short request/response
// lines over telnet ("the OpenOCD telnet port is process-exclusive
// per device").
type openOCDSession struct {
	cfg  config.RuntimeConfig
	port int

	proc *exec.Cmd
	conn net.Conn
}

// targetConfigs maps a short target name onto the OpenOCD config file
// TigardDebugBackend.TARGET_CONFIGS ships for it. "auto" skips a specific
// target file and just sets an adapter speed.
var targetConfigs = map[string]string{
	"stm32f1": "target/stm32f1x.cfg",
	"stm32f4": "target/stm32f4x.cfg",
	"stm32l4": "target/stm32l4x.cfg",
	"nrf52":   "target/nrf52.cfg",
	"esp32":   "target/esp32.cfg",
	"rp2040":  "target/rp2040.cfg",
	"lpc1768": "target/lpc1768.cfg",
	"samd21":  "target/at91samdXX.cfg",
}

func startOpenOCD(ctx context.Context, cfg config.RuntimeConfig, port int, interfaceName, target string) (*openOCDSession, error) {
	args := []string{
		"-f", "interface/ftdi/tigard.cfg",
		"-c", fmt.Sprintf("transport select %s", interfaceName),
		"-c", fmt.Sprintf("telnet_port %d", port),
		"-c", "gdb_port disabled",
	}
	if cfgFile, ok := targetConfigs[target]; ok {
		args = append(args, "-f", cfgFile)
	} else {
		args = append(args, "-c", "adapter speed 1000")
	}

	cmd := exec.CommandContext(ctx, "openocd", args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("openocd: start: %w", err)
	}

	sess := &openOCDSession{cfg: cfg, port: port, proc: cmd}
	if err := sess.dialTelnet(); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return sess, nil
}

func (s *openOCDSession) dialTelnet() error {
	deadline := time.Now().Add(s.cfg.OpenOCDStartupTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", s.port), 200*time.Millisecond)
		if err == nil {
			s.conn = conn
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.OpenOCDReplyTimeout))
			buf := make([]byte, 1024)
			_, _ = conn.Read(buf) // discard OpenOCD's banner/prompt
			return nil
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("openocd: telnet dial: %w", lastErr)
}

// send writes one command line and collects whatever OpenOCD replies
// with inside the reply timeout, matching _send_command's
// sendall-then-drain-until-timeout shape.
func (s *openOCDSession) send(cmd string) (string, error) {
	if s.conn == nil {
		return "", fmt.Errorf("openocd: not connected")
	}
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("openocd: send %q: %w", cmd, err)
	}

	var out strings.Builder
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.OpenOCDReplyTimeout))
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func (s *openOCDSession) close() error {
	if s.conn != nil {
		_, _ = s.send("shutdown")
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.proc != nil && s.proc.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.proc.Wait() }()
		select {
		case <-done:
		case <-time.After(s.cfg.SubprocessShutdown):
			_ = s.proc.Process.Kill()
			<-done
		}
	}
	return nil
}

// parseMdwWords parses OpenOCD's "mdw" output ("0x20000000: 12345678
// 87654321 ...") into little-endian bytes, mirroring read_memory's
// parser.
func parseMdwWords(response string, size int) []byte {
	data := make([]byte, 0, size)
	sc := bufio.NewScanner(strings.NewReader(response))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		for _, word := range strings.Fields(line[idx+1:]) {
			v, err := strconv.ParseUint(word, 16, 32)
			if err != nil {
				continue
			}
			data = append(data, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		}
	}
	if len(data) > size {
		data = data[:size]
	}
	return data
}

// parseRegisters parses OpenOCD's "reg" output ("r0 (/32): 0x12345678"
// or "r0: 0x12345678" depending on version) into a name->value map,
// mirroring read_registers' line-splitting parser.
func parseRegisters(response string) map[string]uint32 {
	regs := make(map[string]uint32)
	sc := bufio.NewScanner(strings.NewReader(response))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, ":")
		if idx < 0 || !strings.Contains(line, "0x") {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if sp := strings.IndexByte(name, ' '); sp >= 0 {
			name = name[:sp]
		}
		valStr := strings.TrimSpace(line[idx+1:])
		valStr = strings.TrimPrefix(valStr, "0x")
		v, err := strconv.ParseUint(valStr, 16, 32)
		if err != nil {
			continue
		}
		regs[name] = uint32(v)
	}
	return regs
}
