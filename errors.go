package xdebug

import (
	"errors"
	"fmt"

	"github.com/swdprobe/xdebug/internal/xkind"
)

// Kind represents the stable error taxonomy the transport uses to
// signal the caller what kind of recovery, if any, is appropriate.
// It is an alias of internal/xkind.Kind so that internal/queue, which
// classifies wire-level status bytes into a Kind, does not need to
// import this package (avoiding an import cycle).
type Kind = xkind.Kind

const (
	KindOK          = xkind.OK
	KindFailed      = xkind.Failed
	KindBadParams   = xkind.BadParams
	KindIO          = xkind.IO
	KindOffline     = xkind.Offline
	KindProtocol    = xkind.Protocol
	KindTimeout     = xkind.Timeout
	KindSWDFault    = xkind.SWDFault
	KindSWDParity   = xkind.SWDParity
	KindSWDSilent   = xkind.SWDSilent
	KindSWDBogus    = xkind.SWDBogus
	KindMatch       = xkind.Match
	KindUnsupported = xkind.Unsupported
	KindRemote      = xkind.Remote
	KindDetached    = xkind.Detached
	KindInterrupted = xkind.Interrupted
)

// Error is a structured transport error with context for logging and
// programmatic recovery decisions.
type Error struct {
	Op    string // operation that failed, e.g. "mem_rd32", "core_halt"
	Kind  Kind   // high-level error category
	Addr  uint32 // address or register involved, if applicable (0 if not)
	Msg   string // human-readable detail
	Inner error  // wrapped error, e.g. the Endpoint's I/O error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Addr != 0 {
		parts = append(parts, fmt.Sprintf("addr=%#08x", e.Addr))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("xdebug: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("xdebug: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is allows errors.Is(err, &Error{Kind: KindX}) to match on Kind alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewAddrError creates a structured error naming the register/memory
// address involved.
func NewAddrError(op string, addr uint32, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Addr: addr, Msg: msg}
}

// WrapIOError wraps an Endpoint I/O failure. A nil inner error still
// produces a structured KindIO error naming the operation, since a nil
// Endpoint (offline) is reported via WrapOfflineError instead.
func WrapIOError(op string, inner error) *Error {
	msg := "usb i/o error"
	if inner != nil {
		msg = inner.Error()
	}
	return &Error{Op: op, Kind: KindIO, Msg: msg, Inner: inner}
}

// WrapOfflineError reports that the operation could not run because no
// USB handle is currently open.
func WrapOfflineError(op string) *Error {
	return &Error{Op: op, Kind: KindOffline, Msg: "no usb handle open"}
}

// IsKind reports whether err is a *Error (possibly wrapped) of the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}
