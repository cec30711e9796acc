package xdebug

import (
	"context"
)

// ReadDP reads one Debug Port register (e.g. constants.DPIDR,
// constants.DPTargetID, constants.DPCS), queuing the DP.SELECT bank
// write the address needs if the shadow doesn't already reflect it.
func (c *Context) ReadDP(ctx context.Context, addr byte) (uint32, error) {
	if ctx.Err() != nil {
		return 0, NewError("dp_rd", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("dp_rd"); err != nil {
		return 0, err
	}
	var value uint32
	if err := c.q.DPRead(addr, &value); err != nil {
		return 0, err
	}
	if err := c.flush("dp_rd"); err != nil {
		return 0, err
	}
	return value, nil
}

// WriteDP writes one Debug Port register.
func (c *Context) WriteDP(ctx context.Context, addr byte, value uint32) error {
	if ctx.Err() != nil {
		return NewError("dp_wr", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("dp_wr"); err != nil {
		return err
	}
	if err := c.q.DPWrite(addr, value); err != nil {
		return err
	}
	return c.flush("dp_wr")
}

// ReadAP reads one Access Port register off the currently selected AP
// (constants.MAPIDR, constants.MAPCFG, constants.MAPBASE, ...), as
// distinct from MemRead32 which targets MAP.DRW through a caller-chosen
// address via TAR.
func (c *Context) ReadAP(ctx context.Context, addr byte) (uint32, error) {
	if ctx.Err() != nil {
		return 0, NewError("ap_rd", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("ap_rd"); err != nil {
		return 0, err
	}
	var value uint32
	if err := c.q.APRead(addr, &value); err != nil {
		return 0, err
	}
	if err := c.flush("ap_rd"); err != nil {
		return 0, err
	}
	return value, nil
}

// WriteAP writes one Access Port register off the currently selected AP.
func (c *Context) WriteAP(ctx context.Context, addr byte, value uint32) error {
	if ctx.Err() != nil {
		return NewError("ap_wr", KindInterrupted, ctx.Err().Error())
	}
	if err := c.requireAttached("ap_wr"); err != nil {
		return err
	}
	if err := c.q.APWrite(addr, value); err != nil {
		return err
	}
	return c.flush("ap_wr")
}
