// Package config loads the runtime's process-wide settings from a .env
// file plus environment-variable overrides: enumerator hand-off socket
// path, protocol timeout defaults, OpenOCD telnet port base, scratch
// directory root, and the introspection API bind address.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RuntimeConfig is the process-wide configuration for the core runtime.
type RuntimeConfig struct {
	// EnumeratorSocket is the path the external device enumerator
	// hands device-add/remove events over.
	EnumeratorSocket string

	// Timeout defaults.
	FrameRecvTimeout      time.Duration
	BpioRequestTimeout    time.Duration
	SumpIdentifyTimeout   time.Duration
	SumpCaptureTimeout    time.Duration
	OpenOCDStartupTimeout time.Duration
	OpenOCDReplyTimeout   time.Duration
	SubprocessShutdown    time.Duration

	// OpenOCDTelnetPortBase is the first telnet port assigned to an
	// MPSSE-backed debug driver's OpenOCD subprocess; each concurrently
	// open device is assigned the next free port above it so ports never
	// collide across devices: the OpenOCD telnet port is process-exclusive
	// per device.
	OpenOCDTelnetPortBase int

	// ScratchDir is the process-scoped root for temporary files passed to
	// restore/dump_image-style commands.
	ScratchDir string

	// APIBindAddr is the bind address for the read-only introspection
	// surface.
	APIBindAddr string
}

// Default returns the runtime's built-in timeout table, plus a
// process-scoped scratch directory under os.TempDir().
func Default() RuntimeConfig {
	return RuntimeConfig{
		EnumeratorSocket:      "/run/hwh/enumerator.sock",
		FrameRecvTimeout:      2 * time.Second,
		BpioRequestTimeout:    5 * time.Second,
		SumpIdentifyTimeout:   500 * time.Millisecond,
		SumpCaptureTimeout:    10 * time.Second,
		OpenOCDStartupTimeout: 2 * time.Second,
		OpenOCDReplyTimeout:   1 * time.Second,
		SubprocessShutdown:    5 * time.Second,
		OpenOCDTelnetPortBase: 4444,
		ScratchDir:            filepath.Join(os.TempDir(), "hwh-scratch"),
		APIBindAddr:           "127.0.0.1:8765",
	}
}

var (
	runtimeConfig *RuntimeConfig
	configLoaded  bool
)

// Load reads .env from the project root (if present) over Default(), then
// applies environment-variable overrides, in that precedence order.
func Load() (*RuntimeConfig, error) {
	if runtimeConfig != nil && configLoaded {
		return runtimeConfig, nil
	}

	cfg := Default()

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	applyEnvOverrides(&cfg)

	runtimeConfig = &cfg
	configLoaded = true
	return runtimeConfig, nil
}

func parseEnvFile(content string, cfg *RuntimeConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		setField(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

func applyEnvOverrides(cfg *RuntimeConfig) {
	for _, key := range []string{
		"HWH_ENUMERATOR_SOCKET", "HWH_FRAME_RECV_TIMEOUT_MS", "HWH_BPIO_REQUEST_TIMEOUT_MS",
		"HWH_SUMP_IDENTIFY_TIMEOUT_MS", "HWH_SUMP_CAPTURE_TIMEOUT_MS", "HWH_OPENOCD_STARTUP_TIMEOUT_MS",
		"HWH_OPENOCD_REPLY_TIMEOUT_MS", "HWH_SUBPROCESS_SHUTDOWN_MS", "HWH_OPENOCD_TELNET_PORT_BASE",
		"HWH_SCRATCH_DIR", "HWH_API_BIND_ADDR",
	} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, key, v)
		}
	}
}

func setField(cfg *RuntimeConfig, key, value string) {
	switch key {
	case "HWH_ENUMERATOR_SOCKET":
		cfg.EnumeratorSocket = value
	case "HWH_FRAME_RECV_TIMEOUT_MS":
		cfg.FrameRecvTimeout = msOrKeep(value, cfg.FrameRecvTimeout)
	case "HWH_BPIO_REQUEST_TIMEOUT_MS":
		cfg.BpioRequestTimeout = msOrKeep(value, cfg.BpioRequestTimeout)
	case "HWH_SUMP_IDENTIFY_TIMEOUT_MS":
		cfg.SumpIdentifyTimeout = msOrKeep(value, cfg.SumpIdentifyTimeout)
	case "HWH_SUMP_CAPTURE_TIMEOUT_MS":
		cfg.SumpCaptureTimeout = msOrKeep(value, cfg.SumpCaptureTimeout)
	case "HWH_OPENOCD_STARTUP_TIMEOUT_MS":
		cfg.OpenOCDStartupTimeout = msOrKeep(value, cfg.OpenOCDStartupTimeout)
	case "HWH_OPENOCD_REPLY_TIMEOUT_MS":
		cfg.OpenOCDReplyTimeout = msOrKeep(value, cfg.OpenOCDReplyTimeout)
	case "HWH_SUBPROCESS_SHUTDOWN_MS":
		cfg.SubprocessShutdown = msOrKeep(value, cfg.SubprocessShutdown)
	case "HWH_OPENOCD_TELNET_PORT_BASE":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.OpenOCDTelnetPortBase = n
		}
	case "HWH_SCRATCH_DIR":
		cfg.ScratchDir = value
	case "HWH_API_BIND_ADDR":
		cfg.APIBindAddr = value
	}
}

func msOrKeep(value string, fallback time.Duration) time.Duration {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// MustLoad panics if configuration cannot be established — used by
// cmd/hwhd at startup where a broken environment should fail fast rather
// than run with silently wrong defaults.
func MustLoad() RuntimeConfig {
	cfg, err := Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	return *cfg
}
