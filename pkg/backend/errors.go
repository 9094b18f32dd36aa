package backend

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the backend-layer error taxonomy, covering every driver
// regardless of role.
type Kind int

const (
	KindTransport Kind = iota
	KindFraming
	KindTimeout
	KindTypeMismatch
	KindDevice
	KindNotConnected
	KindRoleNotSupported
	KindInvalidConfig
	KindBusBusy
	KindTargetMissing
	KindCancelled
)

var kindCodes = map[Kind]codes.Code{
	KindTransport:        codes.Unavailable,
	KindFraming:          codes.DataLoss,
	KindTimeout:          codes.DeadlineExceeded,
	KindTypeMismatch:     codes.FailedPrecondition,
	KindDevice:           codes.Unknown,
	KindNotConnected:     codes.FailedPrecondition,
	KindRoleNotSupported: codes.Unimplemented,
	KindInvalidConfig:    codes.InvalidArgument,
	KindBusBusy:          codes.ResourceExhausted,
	KindTargetMissing:    codes.NotFound,
	KindCancelled:        codes.Canceled,
}

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
	case KindRoleNotSupported:
		return "role_not_supported"
	case KindInvalidConfig:
		return "invalid_config"
	case KindBusBusy:
		return "bus_busy"
	case KindTargetMissing:
		return "target_missing"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Code returns the grpc status code this Kind maps onto.
func (k Kind) Code() codes.Code { return kindCodes[k] }

// Error is the typed error every backend operation returns, implementing
// GRPCStatus() so it composes with google.golang.org/grpc/status the way
// the reference module's server.go does.
type Error struct {
	Kind    Kind
	Op      string
	Device  string
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("backend: %s: %s(%s): %s", e.Kind, e.Op, e.Device, e.Detail)
	}
	return fmt.Sprintf("backend: %s: %s: %s", e.Kind, e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// GRPCStatus lets status.FromError recover the mapped code without any
// driver needing to depend on grpc directly.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.Code(), e.Error())
}

// New builds a typed error. device may be empty when the failure isn't
// device-scoped (e.g. a pool-level InvalidConfig).
func New(k Kind, op, device string, err error) *Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Error{Kind: k, Op: op, Device: device, Detail: detail, Wrapped: err}
}

// ErrRoleNotSupported reports that a driver was asked for a role it
// doesn't implement.
func ErrRoleNotSupported(device string, role Role) *Error {
	return &Error{Kind: KindRoleNotSupported, Op: "use_role", Device: device, Detail: fmt.Sprintf("role %q not supported", role)}
}
