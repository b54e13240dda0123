// Package reorder implements the fixed-horizon RTP reorder window described
// in §4.3: a ring-indexed buffer of H slots that reassembles a strictly
// ascending delivery order from packets that may arrive up to H places out
// of sequence.
package reorder

import "github.com/markmandel/aes67link/internal/stats"

// Horizon is H, the fixed reorder window size.
const Horizon = 6

type slot struct {
	occupied bool
	seq      uint16
	payload  []byte
}

// Deliverer receives payloads in the final, strictly ascending order the
// reorder buffer has reconstructed.
type Deliverer interface {
	Deliver(payload []byte)
}

// DeliverFunc adapts a function to Deliverer.
type DeliverFunc func(payload []byte)

// Deliver calls f.
func (f DeliverFunc) Deliver(payload []byte) { f(payload) }

// Buffer is the receiver-side reorder window. It is owned by a single RTP
// receiver goroutine; it is not safe for concurrent use.
type Buffer struct {
	slots   [Horizon]slot
	next    uint16
	used    int
	started bool

	out   Deliverer
	stats *stats.Stats
}

// New creates an empty reorder buffer that delivers in-order payloads to
// out and bumps counters on s.
func New(out Deliverer, s *stats.Stats) *Buffer {
	return &Buffer{out: out, stats: s}
}

// Admit feeds one received (seq, payload) pair through the admission
// rules of §4.3. payload is retained by the buffer until delivered or
// overwritten by a stale slot, so callers must pass an owned copy.
func (b *Buffer) Admit(seq uint16, payload []byte) {
	if !b.started {
		// First packet of a run establishes rtp_next without running the
		// far-future/gap machinery against an arbitrary zero value.
		b.started = true
		b.next = seq
	}

	delta := int16(seq - b.next)

	switch {
	case abs16(delta) > 2*Horizon:
		// resync: treat as new head.
		b.clearAll()
		b.deliver(payload)
		b.next = seq + 1
		b.stats.RTP.Resynced.Add(1)
		b.scan()

	case delta < 0:
		// stale: discard silently.

	case delta == 0:
		b.deliver(payload)
		b.next = seq + 1
		b.scan()

	case int(delta) > Horizon:
		// gap too large for the buffer: give up on the missing packet.
		b.stats.RTP.Skipped.Add(1)
		b.next++
		b.scan()
		if b.next == seq {
			b.deliver(payload)
			b.next++
			b.scan()
		}

	default: // 0 < delta <= Horizon
		idx := seq % Horizon
		b.slots[idx] = slot{occupied: true, seq: seq, payload: payload}
		b.used++
		b.stats.RTP.Reordered.Add(1)
	}
}

func (b *Buffer) scan() {
	for i := 0; i < Horizon && b.used > 0; i++ {
		idx := b.next % Horizon
		s := &b.slots[idx]
		if !s.occupied || s.seq != b.next {
			return
		}
		b.deliver(s.payload)
		s.occupied = false
		s.payload = nil
		b.used--
		b.next++
	}
}

func (b *Buffer) clearAll() {
	for i := range b.slots {
		b.slots[i] = slot{}
	}
	b.used = 0
}

func (b *Buffer) deliver(payload []byte) {
	if b.out != nil {
		b.out.Deliver(payload)
	}
}

func abs16(v int16) int {
	w := int(v)
	if w < 0 {
		return -w
	}
	return w
}

// Next returns the currently expected sequence number, mostly for tests.
func (b *Buffer) Next() uint16 { return b.next }

// Used returns the number of currently occupied slots, mostly for tests.
func (b *Buffer) Used() int { return b.used }
