// Package xdebug drives a CMSIS-DAP USB debug probe over SWD to
// attach to, halt, single-step, and read/write the memory and core
// registers of an ARM Cortex-M target, and to invoke a target-resident
// flash agent for programming.
package xdebug

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/gousb"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/dap"
	"github.com/swdprobe/xdebug/internal/interfaces"
	"github.com/swdprobe/xdebug/internal/queue"
	"github.com/swdprobe/xdebug/internal/usbio"
)

// Logger is the optional logging sink a Context reports through.
type Logger = interfaces.Logger

// Observer is the optional telemetry sink a Context reports through.
type Observer = interfaces.Observer

// Endpoint is the byte-stream USB transport a Context drives: one
// write followed by one read per CMSIS-DAP command. internal/usbio
// provides a real gousb-backed implementation; MockEndpoint (in
// testing.go) provides a simulated one for tests.
type Endpoint = interfaces.Endpoint

// Options configures a new Context.
type Options struct {
	// Logger receives debug/info messages, if set.
	Logger Logger

	// Observer receives exec/fault/reconnect telemetry, if set.
	// Defaults to a MetricsObserver wrapping the Context's own Metrics.
	Observer Observer

	// ClockHz sets the SWCLK rate via SWJ_Clock. Zero uses
	// DefaultConfig's rate: New then skips SWJ_Clock, and Periodic's
	// configure step sends the default rate.
	ClockHz uint32

	// IdleCycles, WaitRetry, and MatchRetry configure TransferConfigure,
	// which New and Periodic's configure step always send. IdleCycles is
	// sent as given; a zero WaitRetry or MatchRetry uses DefaultConfig's
	// retry count.
	IdleCycles byte
	WaitRetry  uint16
	MatchRetry uint16

	// TargetSel, if non-nil, selects one DP on a multidrop SWD bus via
	// the SWDv2 selection-alert wake sequence instead of the plain
	// JTAG-to-SWD escape.
	TargetSel *uint32

	// VendorID, ProductID, and SerialNumber select which USB device
	// Periodic's OFFLINE state reopens via usbio.Open after a dropped
	// handle. A zero VendorID means "any vendor-class bulk interface".
	VendorID     gousb.ID
	ProductID    gousb.ID
	SerialNumber string

	// LivenessPoll enables the ATTACHED-state DP.IDR liveness read in
	// Periodic. Defaults to true (see DefaultConfig).
	LivenessPoll *bool
}

// Context is the attached handle to one CMSIS-DAP probe and the
// Cortex-M target behind it. It owns the probe's Endpoint, the
// command layer, the transaction queue, and the lifecycle state
// machine; callers obtain one via New and drive it with the mem/core/
// flash operations and Periodic.
type Context struct {
	ep     Endpoint
	cmds   *dap.Commands
	q      *queue.Queue
	logger Logger

	// reconnectFunc opens a fresh Endpoint for Periodic's OFFLINE
	// state. Defaults to usbio.Open against cfg's selector; tests
	// override it to hand back a MockEndpoint instead of touching
	// real USB.
	reconnectFunc func() (Endpoint, error)

	metrics  *Metrics
	observer Observer

	status    atomic.Int32 // Status, stored as int32 for lock-free reads
	statusCh  chan Status
	attention atomic.Uint64
	cfg       Config

	dpVersion     queue.DPVersion
	memAPBase     uint32
	mapCSWKeep    uint32
	coreHalted    bool
	architecture  Architecture
	targetSel     *uint32
}

// New wraps ep, probing its packet size but performing no SWD activity
// yet; the Context starts OFFLINE and Periodic brings the link up. ep
// is typically a *usbio.Endpoint or a *MockEndpoint.
func New(ep Endpoint, opts *Options) (*Context, error) {
	if ep == nil {
		return nil, NewError("new", KindBadParams, "nil endpoint")
	}
	if opts == nil {
		opts = &Options{}
	}

	metrics := NewMetrics()
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	cmds := dap.New(ep, opts.Logger)

	if pktSize, err := cmds.InfoU32(constants.InfoPacketSize); err == nil && pktSize > 0 {
		cmds.SetMaxPacket(int(pktSize))
	}

	cfg := DefaultConfig()
	if opts.ClockHz != 0 {
		cfg.ClockHz = opts.ClockHz
	}
	cfg.IdleCycles = opts.IdleCycles
	if opts.WaitRetry != 0 {
		cfg.WaitRetries = opts.WaitRetry
	}
	if opts.MatchRetry != 0 {
		cfg.MatchRetries = opts.MatchRetry
	}
	cfg.VendorID = opts.VendorID
	cfg.ProductID = opts.ProductID
	cfg.SerialNumber = opts.SerialNumber
	if opts.LivenessPoll != nil {
		cfg.LivenessPoll = *opts.LivenessPoll
	}

	if err := cmds.TransferConfigure(cfg.IdleCycles, cfg.WaitRetries, cfg.MatchRetries); err != nil {
		return nil, WrapIOError("new", err)
	}
	if opts.ClockHz != 0 {
		if err := cmds.SWJClock(cfg.ClockHz); err != nil {
			return nil, WrapIOError("new", err)
		}
	}

	q := queue.New(cmds, observer, opts.Logger)

	c := &Context{
		ep:        ep,
		cmds:      cmds,
		q:         q,
		logger:    opts.Logger,
		metrics:   metrics,
		observer:  observer,
		statusCh:  make(chan Status, 8),
		cfg:       cfg,
		dpVersion: queue.DPv2,
		memAPBase: constants.DefaultMemAPBaseV3,
		targetSel: opts.TargetSel,
	}
	c.reconnectFunc = func() (Endpoint, error) {
		return usbio.Open(usbio.Selector{
			VendorID:  cfg.VendorID,
			ProductID: cfg.ProductID,
			Serial:    cfg.SerialNumber,
		})
	}
	// Context created → OFFLINE; Periodic's first tick attempts
	// usb_connect/dap_configure before anything is assumed about the
	// Endpoint opened behind it.
	c.status.Store(int32(StatusOffline))
	return c, nil
}

// Metrics returns the Context's Metrics instance (populated even when
// a custom Observer is in use, since New always creates one).
func (c *Context) Metrics() *Metrics {
	return c.metrics
}

// StatusChanges returns the channel status transitions are delivered
// on. Delivery is non-blocking: if the channel is full, the oldest
// unread transition is dropped in favor of the newest, since callers
// only need to know the most recent state, not every transition.
func (c *Context) StatusChanges() <-chan Status {
	return c.statusCh
}

func (c *Context) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	select {
	case c.statusCh <- s:
	default:
		select {
		case <-c.statusCh:
		default:
		}
		select {
		case c.statusCh <- s:
		default:
		}
	}
}

// Status returns the Context's current lifecycle status.
func (c *Context) Status() Status {
	return Status(c.status.Load())
}

// Attention returns the monotonically increasing counter bumped by
// Interrupt, for cooperative cancellation of long-running polling
// loops (core_resume/wait, flash erase/write) alongside ctx.Done.
func (c *Context) Attention() uint64 {
	return c.attention.Load()
}

// Interrupt requests that any in-progress polling loop return
// KindInterrupted at its next poll, regardless of which goroutine
// initiated the operation.
func (c *Context) Interrupt() {
	c.attention.Add(1)
}

// interrupted reports whether snapshot (an Attention() value captured
// at the start of an operation) has been superseded, or ctx has been
// canceled.
func (c *Context) interrupted(ctx context.Context, snapshot uint64) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.attention.Load() != snapshot
}

// Close releases the underlying Endpoint. It does not attempt a clean
// Disconnect first; call Detach for that.
func (c *Context) Close() error {
	if c.ep == nil {
		return nil
	}
	return c.ep.Close()
}

// flush is the shared Exec-and-translate path used by every op in
// mem.go/core.go/flash.go: it runs the queue, and on a queue.Error
// rewrites it into the root package's *Error taxonomy so callers never
// see the internal/queue type.
func (c *Context) flush(op string) error {
	err := c.q.Exec()
	if err == nil {
		return nil
	}
	var qe *queue.Error
	if asQueueError(err, &qe) {
		return NewError(op, qe.Kind, qe.Msg)
	}
	if c.ep == nil {
		return WrapOfflineError(op)
	}
	return WrapIOError(op, err)
}

// asQueueError is a direct type check for *queue.Error, used by flush;
// unlike errors.As it does not unwrap err.
func asQueueError(err error, target **queue.Error) bool {
	qe, ok := err.(*queue.Error)
	if !ok {
		return false
	}
	*target = qe
	return true
}

// Architecture identifies the Cortex-M variant attached, which governs
// which core-debug register layout and reset convention apply.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchCortexM0Plus
	ArchCortexM3
	ArchCortexM4
	ArchCortexM7
	ArchCortexM33
)

func (a Architecture) String() string {
	switch a {
	case ArchCortexM0Plus:
		return "cortex-m0+"
	case ArchCortexM3:
		return "cortex-m3"
	case ArchCortexM4:
		return "cortex-m4"
	case ArchCortexM7:
		return "cortex-m7"
	case ArchCortexM33:
		return "cortex-m33"
	default:
		return "unknown"
	}
}

// SetArchitecture records the target architecture, used by flash.go's
// invocation convention and core.go's reset handling. It does not
// touch the wire.
func (c *Context) SetArchitecture(a Architecture) {
	c.architecture = a
}

// fmtAddr is a small helper shared by mem.go/core.go for consistent
// error messages naming an address.
func fmtAddr(addr uint32) string {
	return fmt.Sprintf("%#08x", addr)
}
