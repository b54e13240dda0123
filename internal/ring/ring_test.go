package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int64 }

func (c *counter) Add(d int64) { c.n += d }

func TestWriteReadRoundTrip(t *testing.T) {
	under, over := &counter{}, &counter{}
	b := New(12, under, over)

	n := b.Write([]byte{1, 2, 3, 4}, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, b.Available())

	out := make([]byte, 4)
	got := b.Read(out)
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
	assert.Equal(t, int64(0), under.n)
}

func TestWriteOverrunOnShortWrite(t *testing.T) {
	under, over := &counter{}, &counter{}
	b := New(4, under, over)

	n := b.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(1), over.n)
}

func TestReadUnderrunZeroFills(t *testing.T) {
	under, over := &counter{}, &counter{}
	b := New(8, under, over)

	out := []byte{9, 9, 9, 9}
	got := b.Read(out)
	assert.Equal(t, 0, got)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
	assert.Equal(t, int64(1), under.n)
}

func TestReadBlockingWaitsForData(t *testing.T) {
	b := New(8, &counter{}, &counter{})
	out := make([]byte, 4)

	done := make(chan error, 1)
	go func() {
		done <- b.ReadBlocking(context.Background(), out)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Write([]byte{1, 2, 3, 4}, 4)

	err := <-done
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestReadBlockingCancelledByContext(t *testing.T) {
	b := New(8, &counter{}, &counter{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.ReadBlocking(ctx, make([]byte, 4))
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSize(t *testing.T) {
	// samplesPerPacket*(H+1) dominates.
	assert.Equal(t, 8*48*7, Size(8, 48, 6, 10))
	// hostFrames*2 dominates.
	assert.Equal(t, 8*2000, Size(8, 1, 1, 1000))
}
