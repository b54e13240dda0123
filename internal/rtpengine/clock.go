// Package rtpengine implements the RTP sender/receiver goroutines and the
// shared atomic sample clock they publish to the PTP slave and the clock
// reconciler.
package rtpengine

import (
	"sync/atomic"

	"github.com/markmandel/aes67link/internal/stats"
)

// Clock is the single free-running sample-domain counter shared between
// the RTP sender (which advances it by S per packet) and the PTP slave
// (which corrects it via Offset). It is safe for concurrent use by exactly
// one writer of each kind, per §4.5/§5.
type Clock struct {
	v     atomic.Uint64
	stats *stats.Stats

	samplesPerPacket uint32
}

// NewClock creates a clock that ignores PTP offsets smaller than
// 2*samplesPerPacket, per §4.5.
func NewClock(samplesPerPacket uint32, s *stats.Stats) *Clock {
	return &Clock{samplesPerPacket: samplesPerPacket, stats: s}
}

// Now returns the current sample count.
func (c *Clock) Now() int64 {
	return int64(c.v.Load())
}

// Advance is called once per sent packet by the RTP sender, adding S.
func (c *Clock) Advance(samples uint32) uint64 {
	return c.v.Add(uint64(samples)) - uint64(samples)
}

// Offset is called by the PTP slave with a signed correction in
// audio-sample units. Offsets within +/-2*samplesPerPacket of zero are
// considered acceptable phase error and ignored; larger offsets are
// applied directly to the clock and bump rtp.resynced.
func (c *Clock) Offset(delta int64) {
	bound := int64(2 * c.samplesPerPacket)
	if delta >= -bound && delta <= bound {
		return
	}
	for {
		old := c.v.Load()
		next := uint64(int64(old) - delta)
		if c.v.CompareAndSwap(old, next) {
			break
		}
	}
	c.stats.RTP.Resynced.Add(1)
}
