package rtpengine

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link/internal/ring"
	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

// SenderConfig describes one sender-mode RTP engine instance.
type SenderConfig struct {
	Depth            wire.Depth
	Channels         int
	SamplesPerPacket uint32
	PTimeMicros      uint32

	Ring  *ring.Buffer
	Clock *Clock
	Stats *stats.Stats
	Log   zerolog.Logger

	Conn net.Conn // connected multicast UDP socket
}

// Sender drains the audio ring buffer, quantizes with dither, and paces
// RTP packets onto the network, per §4.5.
type Sender struct {
	cfg SenderConfig

	seq     uint16
	ssrc    uint32
	shapers []*wire.Shaper
}

// NewSender builds a sender with a random initial sequence and SSRC
// (crypto/rand-seeded, per SPEC_FULL.md §4.5).
func NewSender(cfg SenderConfig) (*Sender, error) {
	seq, err := randomUint32()
	if err != nil {
		return nil, err
	}
	ssrc, err := randomUint32()
	if err != nil {
		return nil, err
	}

	rngSeed, err := randomUint32()
	if err != nil {
		return nil, err
	}
	// A single process-wide deterministic PRNG drives every channel's
	// dither, mirroring the original's one-off srand48 seeding; shapers
	// share this *rand.Rand rather than each getting their own source.
	rng := rand.New(rand.NewSource(int64(rngSeed)))

	shapers := make([]*wire.Shaper, cfg.Channels)
	for i := range shapers {
		shapers[i] = wire.NewShaper(cfg.Depth, rng)
	}

	return &Sender{
		cfg:     cfg,
		seq:     uint16(seq),
		ssrc:    ssrc,
		shapers: shapers,
	}, nil
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Run drains full packets from the ring buffer and sends them until ctx is
// canceled.
func (s *Sender) Run(ctx context.Context) error {
	payloadFrames := int(s.cfg.SamplesPerPacket) * s.cfg.Channels
	raw := make([]byte, payloadFrames*ring.BytesPerFloat)
	frames := make([]float64, payloadFrames)

	sleep := time.Duration(s.cfg.PTimeMicros) * 900 * time.Nanosecond

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.cfg.Ring.ReadBlocking(ctx, raw); err != nil {
			return err
		}

		// The ring always carries host-format float32 audio; the wire's
		// integer depth only governs the dithered quantization EncodePacket
		// applies below, matching the original's mai_audio_read_int (which
		// pulls floats out of the ring and only then converts to wire ints).
		for i := range frames {
			frames[i] = float64(ring.GetFloat32(raw[i*ring.BytesPerFloat:]))
		}

		ts := s.cfg.Clock.Advance(s.cfg.SamplesPerPacket)

		pkt, err := wire.EncodePacket(s.seq, uint32(ts), s.ssrc, s.cfg.Depth, s.cfg.Channels, frames, s.shapers)
		if err != nil {
			return err
		}
		s.seq++

		buf, err := pkt.Marshal()
		if err != nil {
			s.cfg.Log.Error().Err(err).Msg("rtp: marshal failed")
			continue
		}
		if _, err := s.cfg.Conn.Write(buf); err != nil {
			s.cfg.Log.Warn().Err(err).Msg("rtp: send failed")
			continue
		}
		s.cfg.Stats.RTP.Packets.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
