package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDepthValid(t *testing.T) {
	assert.True(t, Depth16.Valid())
	assert.True(t, Depth24.Valid())
	assert.True(t, Depth32.Valid())
	assert.False(t, Depth(20).Valid())
}

func TestNewDepth(t *testing.T) {
	d, err := NewDepth(24)
	require.NoError(t, err)
	assert.Equal(t, Depth24, d)

	_, err = NewDepth(20)
	assert.Error(t, err)
}

func TestEncodeDecodeSampleRoundTrip(t *testing.T) {
	for _, d := range []Depth{Depth16, Depth24, Depth32} {
		buf := make([]byte, d.Bytes())
		// max positive magnitude round-trips without clamping drift
		EncodeSample(d, int32(d.full()), buf)
		got := DecodeSample(d, buf)
		assert.InDelta(t, 1.0, got, 1e-6)

		EncodeSample(d, -int32(d.full()), buf)
		got = DecodeSample(d, buf)
		assert.InDelta(t, -1.0, got, 1e-6)

		EncodeSample(d, 0, buf)
		assert.Equal(t, 0.0, DecodeSample(d, buf))
	}
}

// TestShaperEncodeStaysInRange checks the dither/noise-shaping encoder
// never produces a quantized value outside the depth's representable
// range, for any sequence of in-range inputs.
func TestShaperEncodeStaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		depth := rapid.SampledFrom([]Depth{Depth16, Depth24, Depth32}).Draw(t, "depth")
		rng := rand.New(rand.NewSource(1))
		shaper := NewShaper(depth, rng)

		n := rapid.IntRange(1, 64).Draw(t, "n")
		k := int32(depth.full())
		for i := 0; i < n; i++ {
			x := rapid.Float64Range(-1, 1).Draw(t, "x")
			q := shaper.Encode(x)
			assert.LessOrEqual(t, q, k)
			assert.GreaterOrEqual(t, q, -k)
		}
	})
}

func TestShaperEncodeDCTracksInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	shaper := NewShaper(Depth16, rng)

	var sum int64
	const n = 20000
	for i := 0; i < n; i++ {
		sum += int64(shaper.Encode(0.5))
	}
	avg := float64(sum) / n
	want := 0.5 * Depth16.full()
	assert.InDelta(t, want, avg, want*0.02)
}
