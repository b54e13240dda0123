package reorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markmandel/aes67link/internal/stats"
)

func collector() (*Buffer, *[]uint16) {
	var got []uint16
	out := DeliverFunc(func(payload []byte) {
		got = append(got, uint16(payload[0])|uint16(payload[1])<<8)
	})
	return New(out, stats.New()), &got
}

func seqPayload(seq uint16) []byte {
	return []byte{byte(seq), byte(seq >> 8)}
}

func TestInOrderDelivery(t *testing.T) {
	b, got := collector()
	for _, seq := range []uint16{10, 11, 12, 13} {
		b.Admit(seq, seqPayload(seq))
	}
	assert.Equal(t, []uint16{10, 11, 12, 13}, *got)
	assert.Equal(t, uint16(14), b.Next())
}

func TestReordersWithinHorizon(t *testing.T) {
	b, got := collector()
	b.Admit(10, seqPayload(10))
	b.Admit(12, seqPayload(12))
	b.Admit(11, seqPayload(11))
	b.Admit(13, seqPayload(13))
	require.Equal(t, []uint16{10, 11, 12, 13}, *got)
	assert.Equal(t, 0, b.Used())
}

func TestStaleDuplicateDiscarded(t *testing.T) {
	b, got := collector()
	b.Admit(10, seqPayload(10))
	b.Admit(9, seqPayload(9)) // stale
	b.Admit(10, seqPayload(10)) // stale duplicate
	b.Admit(11, seqPayload(11))
	assert.Equal(t, []uint16{10, 11}, *got)
}

func TestGapBeyondHorizonIsSkipped(t *testing.T) {
	b, got := collector()
	b.Admit(10, seqPayload(10))
	// Gap of Horizon+1: rtp_next is 11 after delivering 10, then 18 (delta=7 > 6).
	b.Admit(18, seqPayload(18))
	assert.Equal(t, []uint16{10}, *got)
	assert.Equal(t, uint16(12), b.Next())
}

func TestGapOnlyAdvancesNextByOnePerAdmit(t *testing.T) {
	// A gap just past the horizon advances rtp_next by exactly one slot per
	// Admit call (the preserved post-skip re-test only fires when that
	// single advance lands exactly on the new packet's sequence number).
	b, got := collector()
	b.Admit(0, seqPayload(0))
	// rtp_next is 1 after delivering 0, so Horizon+2 is delta=Horizon+1.
	b.Admit(Horizon+2, seqPayload(Horizon+2))
	assert.Equal(t, []uint16{0}, *got)
	assert.Equal(t, uint16(2), b.Next())
}

func TestResyncOnFarFutureJump(t *testing.T) {
	b, got := collector()
	b.Admit(10, seqPayload(10))
	b.Admit(12, seqPayload(12)) // buffered, awaiting 11
	b.Admit(5000, seqPayload(5000))
	assert.Equal(t, []uint16{10, 5000}, *got)
	assert.Equal(t, uint16(5001), b.Next())
	assert.Equal(t, 0, b.Used())
}

func TestFirstPacketEstablishesNext(t *testing.T) {
	b, got := collector()
	b.Admit(65530, seqPayload(65530))
	assert.Equal(t, []uint16{65530}, *got)
	assert.Equal(t, uint16(65531), b.Next())
}
