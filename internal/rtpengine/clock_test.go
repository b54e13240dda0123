package rtpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markmandel/aes67link/internal/stats"
)

func TestClockAdvance(t *testing.T) {
	c := NewClock(48, stats.New())
	prev := c.Advance(48)
	assert.Equal(t, uint64(0), prev)
	assert.Equal(t, int64(48), c.Now())

	prev = c.Advance(48)
	assert.Equal(t, uint64(48), prev)
	assert.Equal(t, int64(96), c.Now())
}

func TestOffsetIgnoresSmallDelta(t *testing.T) {
	s := stats.New()
	c := NewClock(48, s)
	c.Advance(1000)

	c.Offset(96) // exactly the bound, still ignored
	assert.Equal(t, int64(1000), c.Now())
	assert.Equal(t, int64(0), s.RTP.Resynced.Load())
}

func TestOffsetAppliesLargeDelta(t *testing.T) {
	s := stats.New()
	c := NewClock(48, s)
	c.Advance(1000)

	c.Offset(200) // beyond the +-96 bound
	assert.Equal(t, int64(800), c.Now())
	assert.Equal(t, int64(1), s.RTP.Resynced.Load())
}

func TestOffsetAppliesNegativeDelta(t *testing.T) {
	s := stats.New()
	c := NewClock(48, s)
	c.Advance(1000)

	c.Offset(-200)
	assert.Equal(t, int64(1200), c.Now())
	assert.Equal(t, int64(1), s.RTP.Resynced.Load())
}
