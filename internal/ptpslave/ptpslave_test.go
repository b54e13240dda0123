package ptpslave

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	ptp "github.com/facebook/time/ptp/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

const testRate = 48000

type fakeOffset struct{ got atomic.Int64 }

func (f *fakeOffset) Offset(delta int64) { f.got.Store(delta) }

type fakeCompare struct{ calls atomic.Int64 }

func (f *fakeCompare) Compare(ptpNow int64) { f.calls.Add(1) }

type fakeLocalClock struct{ v atomic.Int64 }

func (f *fakeLocalClock) Now() int64 { return f.v.Load() }

func masterIdentity(t *testing.T) ptp.PortIdentity {
	t.Helper()
	mac := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	id, err := wire.SourceIdentity(mac)
	require.NoError(t, err)
	return id
}

func headerFor(t *testing.T, msgType ptp.MessageType, source ptp.PortIdentity, seq uint16, twoStep bool) []byte {
	t.Helper()
	hdr := wire.NewHeader(msgType, source, seq)
	if twoStep {
		hdr.FlagField |= ptp.FlagTwoStep
	}
	pkt := &ptp.SyncDelayReq{Header: hdr}
	buf, err := pkt.MarshalBinary()
	require.NoError(t, err)
	return buf[:34]
}

func TestOneStepSyncUpdatesMasterAndComparator(t *testing.T) {
	eventListener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer eventListener.Close()
	generalListener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer generalListener.Close()

	masterEvent, err := net.DialUDP("udp4", nil, eventListener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer masterEvent.Close()

	compare := &fakeCompare{}
	clock := &fakeLocalClock{}

	slave := New(Config{
		Rate:        testRate,
		Sender:      false,
		Source:      masterIdentity(t),
		EventConn:   eventListener,
		GeneralConn: generalListener,
		Compare:     compare,
		Clock:       clock,
		Stats:       stats.New(),
		Log:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go slave.runEvent(ctx)

	header := headerFor(t, ptp.MessageSync, masterIdentity(t), 1, false)
	payload := make([]byte, 10) // zeroed origin timestamp, 0 seconds 0 nsec
	_, err = masterEvent.Write(append(header, payload...))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return compare.calls.Load() > 0
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return slave.SourceString() != ""
	}, time.Second, 10*time.Millisecond)
}

func TestTwoStepSyncWaitsForFollowUp(t *testing.T) {
	eventListener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer eventListener.Close()
	generalListener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer generalListener.Close()

	masterEvent, err := net.DialUDP("udp4", nil, eventListener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer masterEvent.Close()
	masterGeneral, err := net.DialUDP("udp4", nil, generalListener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer masterGeneral.Close()

	compare := &fakeCompare{}
	clock := &fakeLocalClock{}

	slave := New(Config{
		Rate:        testRate,
		Sender:      false,
		Source:      masterIdentity(t),
		EventConn:   eventListener,
		GeneralConn: generalListener,
		Compare:     compare,
		Clock:       clock,
		Stats:       stats.New(),
		Log:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go slave.runEvent(ctx)
	go slave.runGeneral(ctx)

	syncHeader := headerFor(t, ptp.MessageSync, masterIdentity(t), 7, true)
	_, err = masterEvent.Write(append(syncHeader, make([]byte, 10)...))
	require.NoError(t, err)

	// The comparator fires off the SYNC's own stamp immediately, same as
	// mai_jack_clock(stamp) in the original's ptp_event, before the
	// two-step branch is even checked.
	require.Eventually(t, func() bool {
		return compare.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	followUpHeader := headerFor(t, ptp.MessageFollowUp, masterIdentity(t), 7, false)
	_, err = masterGeneral.Write(append(followUpHeader, stampPayload(1, 0)...))
	require.NoError(t, err)

	// The FOLLOW_UP only refines the stored T1/T'1 pair for the next
	// DELAY_REQ/DELAY_RESP round trip; it must not call Compare again.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), compare.calls.Load())
}

func stampPayload(seconds uint64, nsec uint32) []byte {
	b := make([]byte, 10)
	b[0] = byte(seconds >> 40)
	b[1] = byte(seconds >> 32)
	b[2] = byte(seconds >> 24)
	b[3] = byte(seconds >> 16)
	b[4] = byte(seconds >> 8)
	b[5] = byte(seconds)
	b[6] = byte(nsec >> 24)
	b[7] = byte(nsec >> 16)
	b[8] = byte(nsec >> 8)
	b[9] = byte(nsec)
	return b
}
