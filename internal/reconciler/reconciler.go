// Package reconciler implements the clock-reconciliation layer ("rubber
// banding") described in §4.6: a comparator that accumulates the drift
// between the PTP-derived network clock and the local free-running sample
// clock, and a per-host-audio-callback bias generator that inserts or drops
// one sample every ~10000 frames to keep the two aligned.
package reconciler

import (
	"sync/atomic"

	"github.com/markmandel/aes67link/internal/stats"
)

const trigger = 10000

// Clock is the minimal view of the RTP engine's free-running sample clock
// the comparator needs to read on every PTP SYNC.
type Clock interface {
	Now() int64
}

// Reconciler tracks jack_error (named for its origin: the host-audio
// callback side) and the 10000-frame bias counter.
type Reconciler struct {
	clock Clock
	stats *stats.Stats

	jackError atomic.Int64

	jackLast int64
	ptpLast  int64

	counter uint32
}

// New creates a reconciler reading the RTP engine's sample clock through
// clock, and bumping s.Audio.Drift on each emitted bias.
func New(clock Clock, s *stats.Stats) *Reconciler {
	return &Reconciler{clock: clock, stats: s}
}

// Compare is the comparator hook the PTP slave calls on every SYNC with the
// newly computed PTP-sample-domain timestamp. It is not safe for
// concurrent calls (the PTP slave's event/general goroutines must
// serialize calls to it, which they naturally do since only one of them
// finalizes a SYNC at a time).
func (r *Reconciler) Compare(ptpNow int64) {
	jackNow := r.clock.Now()

	jackDiff := jackNow - r.jackLast
	ptpDiff := ptpNow - r.ptpLast

	r.jackLast = jackNow
	r.ptpLast = ptpNow

	delta := ptpDiff - jackDiff
	if delta < -16 || delta > 16 {
		return
	}
	r.jackError.Add(delta)
}

// Bias is called once per host-audio callback with the number of frames F
// it processed. It returns -1, 0, or +1: the number of samples to insert
// (+1) or drop (-1) this callback, per the 10000-frame rubber-banding
// window.
func (r *Reconciler) Bias(frames uint32) int {
	r.counter += frames
	if r.counter < trigger {
		return 0
	}
	r.counter -= trigger

	bias := 0
	switch {
	case r.jackError.Load() < 0:
		bias = -1
	case r.jackError.Load() > 0:
		bias = 1
	}

	if bias != 0 {
		r.stats.Audio.Drift.Add(int64(bias))
		r.jackError.Add(-int64(bias))
	}
	return bias
}

// InterpolateSend applies the sender-side (source) interpolation rule of
// §4.6 to one channel's de-interleaved F-frame slice "in", writing F+bias
// frames to out (out must have capacity for len(in)+1). Mirrors jack.c's
// jack_send channel loop exactly.
func InterpolateSend(in []float64, bias int, out []float64) []float64 {
	switch bias {
	case 1:
		out = out[:len(in)+1]
		out[0] = in[0]
		out[1] = (in[0] + in[1]) / 2
		copy(out[2:], in[1:])
		return out
	case -1:
		out = out[:len(in)-1]
		out[0] = (in[0] + in[1]) / 2
		copy(out[1:], in[2:])
		return out
	default:
		out = out[:len(in)]
		copy(out, in)
		return out
	}
}

// InterpolateRecv applies the receiver-side (sink) interpolation rule of
// §4.6. "in" has F+bias frames (already read from the ring buffer at the
// adjusted count); out receives F frames for one channel. Mirrors jack.c's
// jack_recv channel loop exactly, where the direction of averaging
// differs from the send side: the receiver interpolates once the samples
// are already de-interleaved from a stride-channels source.
func InterpolateRecv(in []float64, channels, bias int, out []float64) {
	switch bias {
	case 1:
		out[0] = (in[0] + in[channels]) / 2
		for i, o := 1, channels*2; i < len(out); i, o = i+1, o+channels {
			out[i] = in[o]
		}
	case -1:
		out[0] = in[0]
		out[1] = (in[0] + in[channels]) / 2
		for i, o := 2, channels; i < len(out); i, o = i+1, o+channels {
			out[i] = in[o]
		}
	default:
		for i, o := 0, 0; i < len(out); i, o = i+1, o+channels {
			out[i] = in[o]
		}
	}
}
