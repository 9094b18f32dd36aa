// Package bpio2 implements the typed request/response client for
// Bus-Pirate-class devices over the frame codec.
package bpio2

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind is the BPIO2-layer error taxonomy, mapped onto grpc status codes
// the way internal/driver/device/server.go in the reference module does —
// purely as an error-category vocabulary, never as a real RPC boundary.
type Kind int

const (
	KindTransport Kind = iota
	KindFraming
	KindTimeout
	KindTypeMismatch
	KindDevice
	KindNotConnected
	KindInvalidConfig
)

var kindCodes = map[Kind]codes.Code{
	KindTransport:     codes.Unavailable,
	KindFraming:       codes.DataLoss,
	KindTimeout:       codes.DeadlineExceeded,
	KindTypeMismatch:  codes.FailedPrecondition,
	KindDevice:        codes.Unknown,
	KindNotConnected:  codes.FailedPrecondition,
	KindInvalidConfig: codes.InvalidArgument,
}

// Error is the typed error BPIO2 operations return.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string { return fmt.Sprintf("bpio2: %s: %s", e.Kind, e.Detail) }

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFraming:
		return "framing"
	case KindTimeout:
		return "timeout"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindDevice:
		return "device"
	case KindNotConnected:
		return "not_connected"
	case KindInvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// Code returns the grpc status code this Kind maps onto.
func (k Kind) Code() codes.Code { return kindCodes[k] }

func newErr(k Kind, detail string) error { return &Error{Kind: k, Detail: detail} }

var errNotConnected = newErr(KindNotConnected, "client is not connected")

// Mode selects the bus personality a ConfigureOptions request targets.
type Mode uint8

const (
	ModeHiZ Mode = iota
	ModeSPI
	ModeI2C
	ModeUART
	ModeOneWire
)

// ConfigureOptions mirrors the representative subset of
// bpio_client.py's configuration_request(**kwargs) wired into flatmsg.
type ConfigureOptions struct {
	Mode Mode

	// Mode-parameter fields, meaningful per Mode.
	SpeedHz        uint32
	DataBits       uint8
	Parity         byte
	StopBits       uint8
	ClockPolarity  bool
	ClockPhase     bool
	ChipSelectIdle bool

	PSUEnable  bool
	PSUDisable bool
	PSUSetMV   uint32
	PSUSetMA   uint32

	PullupEnable  bool
	PullupDisable bool

	IODirectionMask uint32
	IODirection     uint32
	IOValueMask     uint32
	IOValue         uint32

	HardwareReset      bool
	HardwareBootloader bool
}

// DataOptions mirrors the DataRequest shape.
type DataOptions struct {
	StartMain bool
	StartAlt  bool
	DataWrite []byte
	BytesRead uint32
	StopMain  bool
	StopAlt   bool
}

// StatusResult is the Go-native projection of StatusResponse: the subset
// of the BPIO2 status fields that flatmsg decodes.
type StatusResult struct {
	VersionFirmwareMajor uint8
	VersionFirmwareMinor uint8
	VersionHardwareMajor uint8
	VersionHardwareMinor uint8
	ModeCurrent          string
	PSUEnabled           bool
	PSUSetMV             uint32
	PSUMeasuredMV        uint32
	PSUMeasuredMA        uint32
	PSUCurrentError      bool
	PullupEnabled        bool
	IODirection          uint32
	IOValue              uint32
	AdcMV                []uint16
}

var errUnsupportedMode = errors.New("bpio2: unsupported mode")
