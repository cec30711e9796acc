// Command xdebug-probe attaches to a CMSIS-DAP probe and dumps the
// target's identification registers, mirroring the smoke test every
// new port of this transport runs first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gousb"

	"github.com/swdprobe/xdebug"
	"github.com/swdprobe/xdebug/internal/constants"
	"github.com/swdprobe/xdebug/internal/logging"
	"github.com/swdprobe/xdebug/internal/usbio"
)

func main() {
	var (
		vid       = flag.Uint("vid", 0, "USB vendor ID (0 = match any vendor-class bulk interface)")
		pid       = flag.Uint("pid", 0, "USB product ID (0 = match any)")
		serial    = flag.String("serial", "", "USB serial number to match")
		clockHz   = flag.Uint("clock", 4_000_000, "initial SWCLK rate in Hz")
		verbose   = flag.Bool("v", false, "verbose output")
		attachTO  = flag.Duration("attach-timeout", 5*time.Second, "time to wait for the target to attach")
		dumpWords = flag.Int("dump", 0, "dump this many words of memory starting at -addr")
		dumpAddr  = flag.Uint("addr", 0x20000000, "address to dump memory from, if -dump is nonzero")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ep, err := usbio.Open(usbio.Selector{
		VendorID:  gousb.ID(*vid),
		ProductID: gousb.ID(*pid),
		Serial:    *serial,
	})
	if err != nil {
		logger.Error("failed to open probe", "error", err)
		os.Exit(1)
	}
	defer ep.Close()

	dc, err := xdebug.New(ep, &xdebug.Options{
		Logger:       logger,
		ClockHz:      uint32(*clockHz),
		VendorID:     gousb.ID(*vid),
		ProductID:    gousb.ID(*pid),
		SerialNumber: *serial,
	})
	if err != nil {
		logger.Error("failed to create transport context", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, interrupting")
		dc.Interrupt()
		cancel()
	}()

	if err := driveToAttached(ctx, dc, *attachTO); err != nil {
		logger.Error("attach failed", "error", err)
		os.Exit(1)
	}
	logger.Info("attached")

	if err := dumpIdentity(ctx, dc); err != nil {
		logger.Error("identity dump failed", "error", err)
		os.Exit(1)
	}

	if *dumpWords > 0 {
		if err := dumpMemory(ctx, dc, uint32(*dumpAddr), *dumpWords); err != nil {
			logger.Error("memory dump failed", "error", err)
			os.Exit(1)
		}
	}
}

// driveToAttached calls Periodic until the context reaches ATTACHED or
// timeout elapses, the same loop a long-lived host would run forever.
func driveToAttached(ctx context.Context, dc *xdebug.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for dc.Status() != xdebug.StatusAttached {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting to attach (last status: %s)", dc.Status())
		}
		delay := dc.Periodic(ctx)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dumpIdentity prints DP.DPIDR, DP.TARGETID, DP.DLPIDR, and the
// selected AP's MAP.IDR/CSW/CFG/CFG1/BASE, the same register set the
// original C smoke test dumps on a fresh attach.
func dumpIdentity(ctx context.Context, dc *xdebug.Context) error {
	dp := []struct {
		name string
		addr byte
	}{
		{"DP.DPIDR", constants.DPIDR},
		{"DP.TARGETID", constants.DPTargetID},
		{"DP.DLPIDR", constants.DPDLPIDR},
	}
	for _, r := range dp {
		v, err := dc.ReadDP(ctx, r.addr)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		fmt.Printf("%-12s %08x\n", r.name, v)
	}

	ap := []struct {
		name string
		addr byte
	}{
		{"MAP.IDR", constants.MAPIDR},
		{"MAP.CSW", constants.MAPCSW},
		{"MAP.CFG", constants.MAPCFG},
		{"MAP.CFG1", constants.MAPCFG1},
		{"MAP.BASE", constants.MAPBASE},
	}
	for _, r := range ap {
		v, err := dc.ReadAP(ctx, r.addr)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		fmt.Printf("%-12s %08x\n", r.name, v)
	}
	return nil
}

// dumpMemory reads n words starting at addr and prints them four per
// line, matching the original smoke test's dump() helper.
func dumpMemory(ctx context.Context, dc *xdebug.Context, addr uint32, n int) error {
	words := make([]uint32, n)
	if err := dc.MemReadWords(ctx, addr, words); err != nil {
		return err
	}
	for i := 0; i < len(words); i += 4 {
		end := i + 4
		if end > len(words) {
			end = len(words)
		}
		fmt.Printf("%08x:", addr+uint32(i*4))
		for _, w := range words[i:end] {
			fmt.Printf(" %08x", w)
		}
		fmt.Println()
	}
	return nil
}
