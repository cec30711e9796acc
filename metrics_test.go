package xdebug

import "testing"

func TestMetricsRecordExecAndMemCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordExec(3, 100_000, true)
	m.RecordExec(1, 20_000_000, false)
	m.RecordMemRead(4)
	m.RecordMemWrite(8)
	m.RecordFault()
	m.RecordReconnect()

	snap := m.Snapshot()
	if snap.Execs != 2 {
		t.Errorf("expected 2 execs, got %d", snap.Execs)
	}
	if snap.ExecOps != 4 {
		t.Errorf("expected 4 total ops, got %d", snap.ExecOps)
	}
	if snap.ExecFails != 1 {
		t.Errorf("expected 1 failed exec, got %d", snap.ExecFails)
	}
	if snap.MemReadBytes != 4 {
		t.Errorf("expected 4 read bytes, got %d", snap.MemReadBytes)
	}
	if snap.MemWriteBytes != 8 {
		t.Errorf("expected 8 write bytes, got %d", snap.MemWriteBytes)
	}
	if snap.Faults != 1 {
		t.Errorf("expected 1 fault, got %d", snap.Faults)
	}
	if snap.Reconnects != 1 {
		t.Errorf("expected 1 reconnect, got %d", snap.Reconnects)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordExec(5, 1000, true)
	m.Reset()

	snap := m.Snapshot()
	if snap.Execs != 0 || snap.ExecOps != 0 {
		t.Errorf("expected zeroed counters after Reset, got %+v", snap)
	}
}

func TestMetricsObserverRecordsIntoMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveExec(2, 50_000, true)
	obs.ObserveFault()
	obs.ObserveReconnect()

	snap := m.Snapshot()
	if snap.Execs != 1 || snap.Faults != 1 || snap.Reconnects != 1 {
		t.Errorf("expected observer calls to be recorded, got %+v", snap)
	}
}
