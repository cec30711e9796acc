package xdebug

import (
	"context"
	"time"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/dap"
	"github.com/swdprobe/xdebug/internal/queue"
)

// Status is the Context's lifecycle state, driven by Periodic.
type Status int32

const (
	// StatusOffline means no USB handle is open (or the last one
	// failed); Periodic will keep attempting to reconnect.
	StatusOffline Status = iota
	// StatusUnconfig means a probe is open but TransferConfigure/
	// Connect have not yet succeeded.
	StatusUnconfig
	// StatusDetached means the probe is configured and SWD-connected
	// but no successful power-up handshake with a target has occurred.
	StatusDetached
	// StatusAttached means the power-up handshake succeeded and
	// mem/core/flash operations may be issued.
	StatusAttached
	// StatusFailure means the ATTACHED-state liveness check failed;
	// Periodic's next tick moves to StatusOffline and reconnects from
	// scratch.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusUnconfig:
		return "unconfig"
	case StatusDetached:
		return "detached"
	case StatusAttached:
		return "attached"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Periodic advances the lifecycle state machine by one tick and
// returns how long the caller should wait before calling it again.
// Callers are expected to loop on this (in their own goroutine, on
// their own ticker) for the life of the Context. Each call runs one
// state's step, which can take several USB round trips (a DETACHED
// tick runs the whole attach sequence).
func (c *Context) Periodic(ctx context.Context) time.Duration {
	switch c.Status() {
	case StatusOffline:
		if err := c.reconnect(ctx); err != nil {
			c.debugf("periodic: reconnect failed: %v", err)
			return constants.OfflineRetryDelay
		}
		c.setStatus(StatusUnconfig)
		return constants.OfflineReconnectedDelay

	case StatusUnconfig:
		if err := c.configure(); err != nil {
			c.debugf("periodic: configure failed: %v", err)
			c.setStatus(StatusOffline)
			return constants.OfflineRetryDelay
		}
		if c.observer != nil {
			c.observer.ObserveReconnect()
		}
		c.setStatus(StatusDetached)
		return constants.DetachedPollDelay

	case StatusDetached:
		attached, err := c.tryAttach(ctx)
		if err != nil {
			c.debugf("periodic: attach attempt failed: %v", err)
			c.setStatus(StatusOffline)
			return constants.OfflineRetryDelay
		}
		if attached {
			c.setStatus(StatusAttached)
			return constants.AttachedPollDelay
		}
		return constants.DetachedPollDelay

	case StatusAttached:
		if err := c.livenessCheck(); err != nil {
			c.debugf("periodic: liveness check failed: %v", err)
			c.setStatus(StatusFailure)
			return constants.DetachedPollDelay
		}
		return constants.AttachedPollDelay

	case StatusFailure:
		c.setStatus(StatusOffline)
		return constants.OfflineRetryDelay

	default:
		return constants.DetachedPollDelay
	}
}

func (c *Context) debugf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}

// reconnect drives OFFLINE's usb_connect step. If the existing
// Endpoint still answers a cheap Info probe, that's enough — no need
// to reopen. Otherwise the handle is considered dropped (unplugged,
// I/O error mid-session): it's closed and reconnectFunc (usbio.Open
// against cfg's VendorID/ProductID/SerialNumber selector, by default)
// is used to open a fresh one, rebuilding the command/queue layers on
// top of it.
func (c *Context) reconnect(ctx context.Context) error {
	if c.ep != nil {
		if pktSize, err := c.cmds.InfoU32(constants.InfoPacketSize); err == nil {
			if pktSize > 0 {
				c.cmds.SetMaxPacket(int(pktSize))
			}
			return nil
		}
		c.ep.Close()
		c.ep = nil
	}

	ep, err := c.reconnectFunc()
	if err != nil {
		return WrapIOError("reconnect", err)
	}

	c.ep = ep
	c.cmds = dap.New(ep, c.logger)
	c.q = queue.New(c.cmds, c.observer, c.logger)
	if pktSize, err := c.cmds.InfoU32(constants.InfoPacketSize); err == nil && pktSize > 0 {
		c.cmds.SetMaxPacket(int(pktSize))
	}
	return nil
}

// configure issues TransferConfigure, SWJ_Clock, and Connect(SWD),
// entering the DETACHED state on success. TransferConfigure/SWJ_Clock
// are reapplied here (not just once in New) because reconnect may have
// rebuilt c.cmds on top of a freshly reopened Endpoint that has never
// seen them.
func (c *Context) configure() error {
	if err := c.cmds.TransferConfigure(c.cfg.IdleCycles, c.cfg.WaitRetries, c.cfg.MatchRetries); err != nil {
		return err
	}
	if c.cfg.ClockHz != 0 {
		if err := c.cmds.SWJClock(c.cfg.ClockHz); err != nil {
			return err
		}
	}
	if _, err := c.cmds.Connect(constants.PortSWD); err != nil {
		return err
	}
	c.q.Init(c.dpVersion, c.memAPBase)
	return nil
}

// livenessCheck performs a cheap DP.IDR read to confirm the link is
// still alive while ATTACHED, unless cfg.LivenessPoll has disabled it
// for targets where the read itself is disruptive.
func (c *Context) livenessCheck() error {
	if !c.cfg.LivenessPoll {
		return nil
	}
	var idr uint32
	if err := c.q.DPRead(constants.DPIDR, &idr); err != nil {
		return err
	}
	return c.flush("periodic_liveness")
}
