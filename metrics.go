package xdebug

import (
	"sync/atomic"
	"time"

	"github.com/swdprobe/xdebug/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering a single USB round-trip (tens of microseconds) up to a
// stalled probe (multiple seconds), log-spaced.
var LatencyBuckets = []uint64{
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	5_000_000_000,  // 5s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a
// transport Context.
type Metrics struct {
	// Batch counters (one "op" is one queued DP/AP transaction)
	Execs     atomic.Uint64 // Total q_exec flushes
	ExecOps   atomic.Uint64 // Total queued ops across all flushes
	ExecFails atomic.Uint64 // Flushes that returned an error

	// Fault/recovery counters
	Faults      atomic.Uint64 // SWD_FAULT occurrences
	Reconnects  atomic.Uint64 // OFFLINE->DETACHED transitions
	Disconnects atomic.Uint64 // transitions into OFFLINE

	// Byte counters (memory access layer)
	MemReadBytes  atomic.Uint64
	MemWriteBytes atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordExec records the outcome of one queue flush.
func (m *Metrics) RecordExec(ops int, latencyNs uint64, success bool) {
	m.Execs.Add(1)
	m.ExecOps.Add(uint64(ops))
	if !success {
		m.ExecFails.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFault records one SWD_FAULT occurrence.
func (m *Metrics) RecordFault() {
	m.Faults.Add(1)
}

// RecordReconnect records one OFFLINE->DETACHED transition.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Add(1)
}

// RecordDisconnect records one transition into OFFLINE.
func (m *Metrics) RecordDisconnect() {
	m.Disconnects.Add(1)
}

// RecordMemRead records bytes returned by a memory read.
func (m *Metrics) RecordMemRead(n uint64) {
	m.MemReadBytes.Add(n)
}

// RecordMemWrite records bytes accepted by a memory write.
func (m *Metrics) RecordMemWrite(n uint64) {
	m.MemWriteBytes.Add(n)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for
// logging or display.
type MetricsSnapshot struct {
	Execs      uint64
	ExecOps    uint64
	ExecFails  uint64
	Faults     uint64
	Reconnects uint64

	MemReadBytes  uint64
	MemWriteBytes uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Execs:         m.Execs.Load(),
		ExecOps:       m.ExecOps.Load(),
		ExecFails:     m.ExecFails.Load(),
		Faults:        m.Faults.Load(),
		Reconnects:    m.Reconnects.Load(),
		MemReadBytes:  m.MemReadBytes.Load(),
		MemWriteBytes: m.MemWriteBytes.Load(),
	}

	if snap.Execs > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / snap.Execs
	}
	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// Reset zeroes all counters. Useful for testing.
func (m *Metrics) Reset() {
	m.Execs.Store(0)
	m.ExecOps.Store(0)
	m.ExecFails.Store(0)
	m.Faults.Store(0)
	m.Reconnects.Store(0)
	m.Disconnects.Store(0)
	m.MemReadBytes.Store(0)
	m.MemWriteBytes.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveExec(int, uint64, bool) {}
func (NoOpObserver) ObserveFault()                 {}
func (NoOpObserver) ObserveReconnect()              {}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveExec(ops int, latencyNs uint64, success bool) {
	o.metrics.RecordExec(ops, latencyNs, success)
}

func (o *MetricsObserver) ObserveFault() {
	o.metrics.RecordFault()
}

func (o *MetricsObserver) ObserveReconnect() {
	o.metrics.RecordReconnect()
}

// Compile-time interface checks.
var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
