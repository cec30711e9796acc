// Package interfaces provides internal interface definitions shared
// between the root package and its internal subpackages. These are
// separate from the public interfaces to avoid circular imports
// between the root package and internal packages.
package interfaces

// Endpoint is the byte-stream USB transport the debug transport drives:
// one write followed by one read per CMSIS-DAP command, against a
// single bulk-out/bulk-in endpoint pair.
type Endpoint interface {
	// Write sends one command packet.
	Write(p []byte) (n int, err error)

	// Read receives one response packet into buf.
	Read(buf []byte) (n int, err error)

	// Close releases the underlying USB handle.
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for queue/transport telemetry.
// Implementations must be thread-safe as methods may be called from
// more than one context if an application shares an Observer.
type Observer interface {
	// ObserveExec is called after every queue flush with the batch
	// size (number of queued ops), the wire round-trip latency, and
	// whether the batch succeeded.
	ObserveExec(ops int, latencyNs uint64, success bool)

	// ObserveFault is called whenever a batch completes with SWD_FAULT.
	ObserveFault()

	// ObserveReconnect is called on every OFFLINE->DETACHED transition.
	ObserveReconnect()
}
