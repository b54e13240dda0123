// Package ring implements the audio-rate single-producer/single-consumer
// byte FIFO shared between the real-time host-audio callback and the RTP
// network goroutines. Write and Read never block and never take a lock, so
// either side can sit on a real-time callback thread, matching the
// original's jack_ringbuffer_t: the only synchronization is the pair of
// monotonically increasing atomic cursors and a single-slot doorbell
// channel used solely to wake ReadBlocking's non-real-time waiter.
package ring

import (
	"context"
	"sync/atomic"
)

// Buffer is a byte-granular SPSC FIFO. Exactly one goroutine calls Write,
// one (possibly different) goroutine calls Read/ReadBlocking. Capacity is
// fixed at construction.
type Buffer struct {
	buf []byte

	w atomic.Uint64 // producer-owned monotonic write cursor
	r atomic.Uint64 // consumer-owned monotonic read cursor

	notify chan struct{} // single-slot doorbell for ReadBlocking

	Underrun Counter
	Overrun  Counter
}

// Counter is a minimal additive counter interface so ring can bump
// statistics without importing internal/stats and creating an import
// cycle; internal/stats.Counter satisfies it.
type Counter interface {
	Add(int64)
}

// New allocates a ring buffer of the given byte capacity.
func New(capacity int, underrun, overrun Counter) *Buffer {
	return &Buffer{
		buf:      make([]byte, capacity),
		notify:   make(chan struct{}, 1),
		Underrun: underrun,
		Overrun:  overrun,
	}
}

func (b *Buffer) bump(c Counter) {
	if c != nil {
		c.Add(1)
	}
}

// wake pokes any ReadBlocking waiter without blocking the writer: the
// channel holds at most one pending notification, which is all a
// level-triggered waiter that always re-checks the cursors needs.
func (b *Buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Write stores up to len(data) bytes, rounded down to whole frames of
// stride bytes. A short write (not all of data fits)
// increments the overrun counter and returns the number of bytes actually
// written, which may be zero. Never blocks; safe to call from a real-time
// audio callback.
func (b *Buffer) Write(data []byte, stride int) int {
	r := b.r.Load()
	w := b.w.Load()

	free := len(b.buf) - int(w-r)
	n := len(data)
	if n > free {
		n = free
	}
	n -= n % stride
	if n < len(data) {
		b.bump(b.Overrun)
	}
	if n == 0 {
		return 0
	}

	capacity := len(b.buf)
	for i := 0; i < n; i++ {
		b.buf[(int(w)+i)%capacity] = data[i]
	}
	b.w.Store(w + uint64(n))
	b.wake()
	return n
}

// Read is non-blocking. If fewer than len(out) bytes are available it
// zero-fills out, increments underrun, and returns 0; otherwise it reads
// exactly len(out) bytes and returns len(out). Safe to call from a
// real-time audio callback.
func (b *Buffer) Read(out []byte) int {
	r := b.r.Load()
	w := b.w.Load()

	if int(w-r) < len(out) {
		for i := range out {
			out[i] = 0
		}
		b.bump(b.Underrun)
		return 0
	}
	b.drain(r, out)
	return len(out)
}

// ReadBlocking waits until at least len(out) bytes are available (or ctx is
// done), then reads exactly that many. Used by the RTP sender, a
// non-real-time goroutine, to assemble whole packets from the ring buffer;
// it is the only caller allowed to wait, via the doorbell channel Write
// pokes on every successful write.
func (b *Buffer) ReadBlocking(ctx context.Context, out []byte) error {
	for {
		r := b.r.Load()
		w := b.w.Load()
		if int(w-r) >= len(out) {
			b.drain(r, out)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}
	}
}

func (b *Buffer) drain(r uint64, out []byte) {
	capacity := len(b.buf)
	for i := range out {
		out[i] = b.buf[(int(r)+i)%capacity]
	}
	b.r.Store(r + uint64(len(out)))
}

// Available reports how many bytes are currently readable.
func (b *Buffer) Available() int {
	return int(b.w.Load() - b.r.Load())
}

// Cap returns the buffer's fixed byte capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Size computes the ring buffer capacity per §3: stride * max(samplesPerPacket*(H+1), hostFrames*2).
func Size(stride int, samplesPerPacket, horizon, hostFrames int) int {
	a := samplesPerPacket * (horizon + 1)
	c := hostFrames * 2
	if a > c {
		return stride * a
	}
	return stride * c
}
