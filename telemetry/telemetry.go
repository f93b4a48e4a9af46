// Package telemetry implements the shared, process-wide snapshot (spec
// §4.7): the single record the session machine writes (copying in the
// converter driver's readings each tick; MeterKW is not set by any writer)
// and everyone else (publisher, history writer, API) reads. The non-blocking try-read/try-write shape is grounded directly on
// spec §5's "telemetry MUST NEVER stall the 100 ms control loop" ordering
// guarantee, implemented with sync.Mutex.TryLock rather than a channel so
// a busy reader never backs up the writers.
package telemetry

import "sync"

// Snapshot is the {SoC, V, A, temp, fan, requested_A, meter_kW, mode}
// record named in spec §4.7, plus the session machine's own State (Idle/
// .../Teardown, spec §4.5) so collaborators like the history writer can
// gate on "session is active" without importing the session package's
// full state-machine surface.
type Snapshot struct {
	SoC          int
	VoltsV       float64
	AmpsA        float64
	TempC        float64
	FanDutyPct   int
	RequestedA   float64
	MeterKW      float64
	Mode         string
	SessionState string
}

// Store is the single-owner mutable record. Zero value is ready to use.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
}

// TryWrite applies fn to the stored snapshot in place, but only if the
// lock is uncontended; it reports whether the write happened. A false
// return means another goroutine (reader or writer) holds the lock — the
// caller logs and elides rather than blocking
// (spec §5 deadlock-avoidance rule: no try_read/try_write ever blocks).
func (s *Store) TryWrite(fn func(*Snapshot)) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	fn(&s.snap)
	return true
}

// TryRead copies the current snapshot into dst, reporting whether the
// read succeeded without blocking.
func (s *Store) TryRead(dst *Snapshot) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	*dst = s.snap
	return true
}

// Read blocks briefly for the lock; used by collaborators (publisher,
// history writer) that run on their own slow cadence and can afford to
// wait out a momentary writer instead of skipping a whole cycle.
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
