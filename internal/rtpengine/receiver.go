package rtpengine

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link/internal/reorder"
	"github.com/markmandel/aes67link/internal/ring"
	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

// ReceiverConfig describes one receiver-mode RTP engine instance.
type ReceiverConfig struct {
	Depth    wire.Depth
	Channels int

	Ring  *ring.Buffer
	Stats *stats.Stats
	Log   zerolog.Logger

	Conn net.PacketConn
}

// readDeadline bounds each blocking read so context cancellation is
// observed promptly, the portable equivalent of asynchronous thread
// cancellation (§9).
const readDeadline = 500 * time.Millisecond

// Receiver validates incoming RTP packets, feeds them through the reorder
// buffer, and lands decoded float frames in the audio ring buffer.
type Receiver struct {
	cfg ReceiverConfig
	rob *reorder.Buffer
}

// NewReceiver builds a receiver whose reorder buffer decodes and writes
// directly into cfg.Ring on every in-order delivery.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	r := &Receiver{cfg: cfg}
	r.rob = reorder.New(reorder.DeliverFunc(r.deliver), cfg.Stats)
	return r
}

// deliver is called by the reorder buffer with payloads in strictly
// ascending sequence order; payload is already host-format float32 bytes
// (see Run), so it is written straight into the ring buffer.
func (r *Receiver) deliver(payload []byte) {
	r.cfg.Ring.Write(payload, ring.FloatStride(r.cfg.Channels))
}

// Run reads datagrams until ctx is canceled.
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, 8192)

	type deadliner interface {
		SetReadDeadline(time.Time) error
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if dl, ok := r.cfg.Conn.(deadliner); ok {
			_ = dl.SetReadDeadline(time.Now().Add(readDeadline))
		}

		n, _, err := r.cfg.Conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.cfg.Log.Warn().Err(err).Msg("rtp: recv failed")
			continue
		}

		pkt, frames, err := wire.DecodePacket(buf[:n], r.cfg.Depth, r.cfg.Channels)
		if err != nil {
			continue // malformed packet: silently skipped, no counter is bumped
		}
		r.cfg.Stats.RTP.Packets.Add(1)

		// Convert wire-depth integer samples back to host-format floats
		// here, mirroring the original's cvt_int_clip: the ring never sees
		// the network bit depth, only the audio-domain float.
		raw := make([]byte, len(frames)*ring.BytesPerFloat)
		for i, f := range frames {
			ring.PutFloat32(raw[i*ring.BytesPerFloat:], float32(f))
		}
		r.rob.Admit(pkt.SequenceNumber, raw)
	}
}
