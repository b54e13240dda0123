package aes67

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markmandel/aes67link/internal/config"
	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:     config.ModeSender,
		Address:  "239.1.2.3",
		Port:     5004,
		Bits:     wire.Depth24,
		Rate:     48000,
		Channels: 2,
		PTime:    1000,
	}
}

func TestWithLoggerOption(t *testing.T) {
	b := &Bridge{stats: stats.New()}
	log := zerolog.Nop()
	WithLogger(log)(b)
	assert.Equal(t, log, b.log)
}

func TestInitClocksWiresIndependentCounters(t *testing.T) {
	b := &Bridge{cfg: testConfig(), stats: stats.New()}
	b.initClocks()

	require.NotNil(t, b.rtpClock)
	require.NotNil(t, b.hostClock)
	require.NotNil(t, b.reconciler)

	assert.Equal(t, int64(0), b.hostClock.Now())
	b.rtpClock.Advance(48)
	assert.Equal(t, int64(48), b.rtpClock.Now())
	// hostClock and rtpClock are distinct counters: advancing one must not
	// move the other.
	assert.Equal(t, int64(0), b.hostClock.Now())
}

func TestStatsReturnsSharedCounterSet(t *testing.T) {
	s := stats.New()
	b := &Bridge{stats: s}
	assert.Same(t, s, b.Stats())
}

func TestCloseSocketsClosesEveryNonNilConn(t *testing.T) {
	event := &fakeCloserConn{}
	general := &fakeCloserConn{}
	b := &Bridge{
		eventConn:   event,
		generalConn: general,
		// reqConn, rtpConn, rtpSendConn, sapConn left nil: closeSockets must
		// tolerate a receiver-mode bridge where only some sockets opened.
	}
	b.closeSockets()

	assert.True(t, event.closed)
	assert.True(t, general.closed)
}

// fakeCloserConn is a minimal net.PacketConn that only tracks Close calls;
// every other method is unused by closeSockets.
type fakeCloserConn struct {
	closed bool
}

func (f *fakeCloserConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, nil }
func (f *fakeCloserConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	return len(p), nil
}
func (f *fakeCloserConn) Close() error                       { f.closed = true; return nil }
func (f *fakeCloserConn) LocalAddr() net.Addr                { return nil }
func (f *fakeCloserConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeCloserConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeCloserConn) SetWriteDeadline(t time.Time) error { return nil }
