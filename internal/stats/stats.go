// Package stats holds the process-wide additive counters the bridge
// exposes, and an optional Prometheus exporter for them.
package stats

import "sync/atomic"

// Counter is an additive, possibly-negative monotonic-ish counter updated
// from multiple goroutines with relaxed atomics. Exact cross-counter
// consistency is not required.
type Counter struct {
	v atomic.Int64
}

// Add adds delta (may be negative, e.g. audio drift) to the counter.
func (c *Counter) Add(delta int64) {
	c.v.Add(delta)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.v.Load()
}

// Stats is the flat set of counters described in §3 of the data model.
type Stats struct {
	Audio struct {
		Drift    Counter
		Underrun Counter
		Overrun  Counter
	}
	RTP struct {
		Resynced  Counter
		Packets   Counter
		Reordered Counter
		Skipped   Counter
	}
	PTP struct {
		Masters  Counter
		Requests Counter
		General  Counter
		Event    Counter
	}
}

// New returns a fresh, zeroed counter set. One Stats instance lives for the
// life of the process, held by the Bridge and passed by reference to every
// component that needs to bump a counter.
func New() *Stats {
	return &Stats{}
}

// Snapshot is a point-in-time copy used for the SIGUSR1 stats report and
// for the Prometheus exporter's scrape.
type Snapshot struct {
	AudioDrift    int64
	AudioUnderrun int64
	AudioOverrun  int64

	RTPResynced  int64
	RTPPackets   int64
	RTPReordered int64
	RTPSkipped   int64

	PTPMasters  int64
	PTPRequests int64
	PTPGeneral  int64
	PTPEvent    int64
}

// Snapshot reads every counter once, without attempting cross-counter
// consistency (matching the source's relaxed-atomics contract).
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		AudioDrift:    s.Audio.Drift.Load(),
		AudioUnderrun: s.Audio.Underrun.Load(),
		AudioOverrun:  s.Audio.Overrun.Load(),
		RTPResynced:   s.RTP.Resynced.Load(),
		RTPPackets:    s.RTP.Packets.Load(),
		RTPReordered:  s.RTP.Reordered.Load(),
		RTPSkipped:    s.RTP.Skipped.Load(),
		PTPMasters:    s.PTP.Masters.Load(),
		PTPRequests:   s.PTP.Requests.Load(),
		PTPGeneral:    s.PTP.General.Load(),
		PTPEvent:      s.PTP.Event.Load(),
	}
}
