package xdebug

import (
	"github.com/google/gousb"
)

// Config is the persisted probe-selection and tuning configuration a
// Context keeps across the life of the process, distinct from Options
// (a one-shot constructor argument): Periodic's OFFLINE state needs it
// to reopen a dropped USB handle long after New has returned.
type Config struct {
	// VendorID/ProductID/SerialNumber select which USB device
	// usb_connect opens. A zero VendorID means "any vendor-class
	// bulk interface" (see internal/usbio.Selector).
	VendorID     gousb.ID
	ProductID    gousb.ID
	SerialNumber string

	// ClockHz sets the SWCLK rate via SWJ_Clock on each (re)configure.
	ClockHz uint32

	// IdleCycles, WaitRetries, MatchRetries configure TransferConfigure.
	IdleCycles   byte
	WaitRetries  uint16
	MatchRetries uint16

	// LivenessPoll enables the ATTACHED-state DP.IDR liveness read in
	// Periodic; disable it for targets where that read itself is
	// disruptive (e.g. low-power cores that treat any AP access as a
	// wake event).
	LivenessPoll bool
}

// DefaultConfig returns the source's defaults: a 4MHz SWCLK (the
// middle of the typical 1-10MHz SWD range), 64-iteration WAIT/match
// retry budgets matching constants.HaltPollIterations, and liveness
// polling enabled.
func DefaultConfig() Config {
	return Config{
		ClockHz:      4_000_000,
		WaitRetries:  64,
		MatchRetries: 64,
		LivenessPoll: true,
	}
}
