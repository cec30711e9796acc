// Package usbio implements internal/interfaces.Endpoint over a real
// USB bulk interface using github.com/google/gousb, selecting devices
// the same way the reference CMSIS-DAP host tooling does: an exact
// VID/PID match if given, or a vendor-class (0xFF) scan otherwise,
// requiring exactly one bulk-in/bulk-out endpoint pair. Open does not
// check the interface string for "CMSIS-DAP".
package usbio

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/gousb"

	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/interfaces"
)

// Selector names the probe to open. VendorID/ProductID of zero means
// "any vendor-class bulk interface"; Serial, if non-empty, further
// restricts the match to a device whose serial-number string matches.
type Selector struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Serial    string
}

// Endpoint is a gousb-backed internal/interfaces.Endpoint: one claimed
// USB interface with a single bulk-out and bulk-in endpoint pair.
type Endpoint struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	iface *gousb.Interface
	out   *gousb.OutEndpoint
	in    *gousb.InEndpoint
}

// Open enumerates attached USB devices and opens the first one
// matching sel, claiming its vendor-class bulk interface.
func Open(sel Selector) (*Endpoint, error) {
	ctx := gousb.NewContext()

	var matched *gousb.Device
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if matched != nil {
			return false
		}
		if sel.VendorID != 0 {
			if desc.Vendor != sel.VendorID || desc.Product != sel.ProductID {
				return false
			}
			return true
		}
		// Wildcard: accept any vendor-class candidate; validated
		// (serial, endpoint shape) after opening.
		return true
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbio: enumerate devices: %w", err)
	}

	var chosen *gousb.Device
	for _, d := range devs {
		if chosen != nil {
			d.Close()
			continue
		}
		if ok, err := matchesAndClaim(d, sel); err == nil && ok {
			chosen = d
		} else {
			d.Close()
		}
	}
	if chosen == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbio: no matching CMSIS-DAP device found")
	}
	matched = chosen

	ep, err := claim(ctx, matched)
	if err != nil {
		matched.Close()
		ctx.Close()
		return nil, err
	}
	return ep, nil
}

// matchesAndClaim performs the cheap pre-checks (serial, descriptor
// shape) that don't require claiming an interface, so rejected
// candidates can be closed without side effects.
func matchesAndClaim(d *gousb.Device, sel Selector) (bool, error) {
	if sel.Serial != "" {
		serial, err := d.SerialNumber()
		if err != nil || serial != sel.Serial {
			return false, nil
		}
	}
	return findVendorBulkInterface(d) != nil, nil
}

// vendorIfaceMatch describes a located candidate interface.
type vendorIfaceMatch struct {
	cfgNum   int
	ifaceNum int
	outAddr  gousb.EndpointAddress
	inAddr   gousb.EndpointAddress
}

// findVendorBulkInterface scans d's configuration descriptors for a
// single-altsetting, vendor-class (0xFF) interface with exactly one
// bulk-in and one bulk-out endpoint, mirroring get_vendor_bulk_ifc.
// Real CMSIS-DAP probes expose exactly one configuration, so the first
// one found is used without querying the device for its active config.
func findVendorBulkInterface(d *gousb.Device) *vendorIfaceMatch {
	for cfgNum, cfgDesc := range d.Desc.Configs {
		for _, ifDesc := range cfgDesc.Interfaces {
			if len(ifDesc.AltSettings) != 1 {
				continue
			}
			alt := ifDesc.AltSettings[0]
			if alt.Class != gousb.ClassVendor {
				continue
			}
			if len(alt.Endpoints) != 2 {
				continue
			}
			var out, in *gousb.EndpointDesc
			for addr, epDesc := range alt.Endpoints {
				epDesc := epDesc
				if epDesc.TransferType != gousb.TransferTypeBulk {
					continue
				}
				if addr.Direction() == gousb.EndpointDirectionIn {
					in = &epDesc
				} else {
					out = &epDesc
				}
			}
			if out == nil || in == nil {
				continue
			}
			return &vendorIfaceMatch{
				cfgNum:   cfgNum,
				ifaceNum: ifDesc.Number,
				outAddr:  out.Address,
				inAddr:   in.Address,
			}
		}
	}
	return nil
}

func claim(ctx *gousb.Context, d *gousb.Device) (*Endpoint, error) {
	m := findVendorBulkInterface(d)
	if m == nil {
		return nil, fmt.Errorf("usbio: no vendor-class bulk interface on selected device")
	}

	cfg, err := d.Config(m.cfgNum)
	if err != nil {
		return nil, fmt.Errorf("usbio: claim config %d: %w", m.cfgNum, err)
	}
	iface, err := cfg.Interface(m.ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("usbio: claim interface %d: %w", m.ifaceNum, err)
	}
	out, err := iface.OutEndpoint(int(m.outAddr.Number()))
	if err != nil {
		iface.Close()
		cfg.Close()
		return nil, fmt.Errorf("usbio: open out endpoint: %w", err)
	}
	in, err := iface.InEndpoint(int(m.inAddr.Number()))
	if err != nil {
		iface.Close()
		cfg.Close()
		return nil, fmt.Errorf("usbio: open in endpoint: %w", err)
	}

	return &Endpoint{ctx: ctx, dev: d, cfg: cfg, iface: iface, out: out, in: in}, nil
}

// Write implements interfaces.Endpoint.
func (e *Endpoint) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.USBTimeout)
	defer cancel()
	return e.out.WriteContext(ctx, p)
}

// Read implements interfaces.Endpoint.
func (e *Endpoint) Read(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.USBTimeout)
	defer cancel()
	return e.in.ReadContext(ctx, buf)
}

// Close releases the claimed interface, config, device handle, and
// USB context, in that order.
func (e *Endpoint) Close() error {
	e.iface.Close()
	e.cfg.Close()
	err := e.dev.Close()
	e.ctx.Close()
	return err
}

// InterfaceHasCMSISDAPString reports whether d's interface string
// descriptor contains "CMSIS-DAP". Open does not call it.
func InterfaceHasCMSISDAPString(d *gousb.Device, ifaceNum int) bool {
	s, err := d.GetStringDescriptor(ifaceNum)
	if err != nil {
		return false
	}
	return strings.Contains(s, "CMSIS-DAP")
}

var _ interfaces.Endpoint = (*Endpoint)(nil)
