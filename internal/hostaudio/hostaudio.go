// Package hostaudio drives local audio I/O through PortAudio, applying the
// clock-reconciliation bias from internal/reconciler on every callback and
// moving samples to or from the audio ring buffer, per §4.6. Only one
// direction is ever active for a given Stream: sender mode captures from
// PortAudio into the send ring, receiver mode drains the receive ring into
// PortAudio playback, mirroring the original's jack_send/jack_recv split
// where only one of the two is ever registered as the JACK process
// callback for a given run.
package hostaudio

import (
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link/internal/reconciler"
	"github.com/markmandel/aes67link/internal/ring"
	"github.com/markmandel/aes67link/internal/stats"
)

// Clock is the host-audio-callback-rate frame counter: the equivalent of
// JACK's jack_frame_time(). It counts frames a Stream's callback has
// processed, a different rate and domain than the RTP engine's network
// sample clock, and is what reconciler.Reconciler.Compare treats as
// "jack_now" on every PTP SYNC. It must be constructed before the
// reconciler that reads it, since reconciler.New takes it as a dependency,
// and then handed to Open so the callback can advance the same instance.
type Clock struct {
	frames atomic.Int64
}

// NewClock returns a zeroed frame counter.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current local frame count.
func (c *Clock) Now() int64 {
	return c.frames.Load()
}

func (c *Clock) advance(n int) {
	c.frames.Add(int64(n))
}

// Config describes one PortAudio stream bound to either the send or
// receive ring buffer. Clock must be the same instance passed to
// reconciler.New when constructing Reconciler, so Compare reads the frame
// count this stream actually advances.
type Config struct {
	Sender   bool
	Channels int
	Rate     float64

	Ring       *ring.Buffer
	Clock      *Clock
	Reconciler *reconciler.Reconciler
	ClientName string
	Stats      *stats.Stats
	Log        zerolog.Logger
}

// scratchFrames is the initial per-channel scratch capacity; callbacks with
// more frames than this simply grow the slice, same as append would.
const scratchFrames = 4096

// Stream owns a running PortAudio stream plus the scratch buffers the
// callback needs to de-interleave and re-interleave audio around the
// reconciler's per-channel calls.
type Stream struct {
	cfg Config
	ps  *portaudio.Stream

	deint  [][]float64 // per-channel de-interleaved scratch
	interp [][]float64 // per-channel post-interpolation scratch
}

// Open initializes PortAudio and opens an input-only stream in sender mode
// or an output-only stream in receiver mode, matching the original's
// single-direction JACK port registration (§4.6, §5).
func Open(cfg Config) (*Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("hostaudio: init: %w", err)
	}

	s := &Stream{cfg: cfg}
	s.deint = make([][]float64, cfg.Channels)
	s.interp = make([][]float64, cfg.Channels)
	for c := range s.deint {
		s.deint[c] = make([]float64, 0, scratchFrames)
		s.interp[c] = make([]float64, 0, scratchFrames+1)
	}

	var (
		ps  *portaudio.Stream
		err error
	)
	if cfg.Sender {
		ps, err = s.openCapture()
	} else {
		ps, err = s.openPlayback()
	}
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	s.ps = ps
	return s, nil
}

func (s *Stream) openCapture() (*portaudio.Stream, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("hostaudio: default input device: %w", err)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      s.cfg.Rate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
	return portaudio.OpenStream(params, s.captureCallback)
}

func (s *Stream) openPlayback() (*portaudio.Stream, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("hostaudio: default output device: %w", err)
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      s.cfg.Rate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
	return portaudio.OpenStream(params, s.playbackCallback)
}

// Start begins streaming.
func (s *Stream) Start() error {
	return s.ps.Start()
}

// Close stops the stream and releases PortAudio.
func (s *Stream) Close() error {
	stopErr := s.ps.Stop()
	closeErr := s.ps.Close()
	portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// captureCallback is PortAudio's input-only callback for sender mode. It
// mirrors jack_send: de-interleave the host buffer per channel, apply the
// reconciler's insert/drop bias per channel, re-interleave, and write the
// result into the send ring as host-format float32 frames.
func (s *Stream) captureCallback(in []float32) {
	channels := s.cfg.Channels
	frames := len(in) / channels
	if frames == 0 {
		return
	}

	bias := s.cfg.Reconciler.Bias(uint32(frames))

	for c := 0; c < channels; c++ {
		if cap(s.deint[c]) < frames {
			s.deint[c] = make([]float64, frames)
		}
		ch := s.deint[c][:frames]
		for i := 0; i < frames; i++ {
			ch[i] = float64(in[i*channels+c])
		}
		s.deint[c] = ch
	}

	outFrames := frames + bias
	if cap(s.interp[0]) < outFrames {
		for c := range s.interp {
			s.interp[c] = make([]float64, 0, outFrames)
		}
	}
	for c := 0; c < channels; c++ {
		s.interp[c] = reconciler.InterpolateSend(s.deint[c], bias, s.interp[c][:cap(s.interp[c])])
	}

	raw := make([]byte, outFrames*ring.FloatStride(channels))
	stride := ring.BytesPerFloat
	for i := 0; i < outFrames; i++ {
		for c := 0; c < channels; c++ {
			ring.PutFloat32(raw[(i*channels+c)*stride:], float32(s.interp[c][i]))
		}
	}
	s.cfg.Ring.Write(raw, ring.FloatStride(channels))

	s.cfg.Clock.advance(frames)
}

// playbackCallback is PortAudio's output-only callback for receiver mode.
// It mirrors jack_recv: read frames+bias frames from the receive ring
// (zero-filled on underrun, never blocking the real-time thread), then
// apply the reconciler's insert/drop bias per channel and interleave the
// result into the host output buffer.
func (s *Stream) playbackCallback(out []float32) {
	channels := s.cfg.Channels
	frames := len(out) / channels
	if frames == 0 {
		return
	}

	bias := s.cfg.Reconciler.Bias(uint32(frames))
	inFrames := frames + bias

	raw := make([]byte, inFrames*ring.FloatStride(channels))
	s.cfg.Ring.Read(raw)

	interleaved := make([]float64, inFrames*channels)
	stride := ring.BytesPerFloat
	for i := range interleaved {
		interleaved[i] = float64(ring.GetFloat32(raw[i*stride:]))
	}

	for c := 0; c < channels; c++ {
		if cap(s.deint[c]) < frames {
			s.deint[c] = make([]float64, frames)
		}
		reconciler.InterpolateRecv(interleaved[c:], channels, bias, s.deint[c][:frames])
	}

	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = float32(s.deint[c][i])
		}
	}

	s.cfg.Clock.advance(frames)
}
