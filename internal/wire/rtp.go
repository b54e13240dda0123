package wire

import (
	"fmt"

	"github.com/pion/rtp"
)

// PayloadType is the dynamic RTP payload type AES67 senders advertise.
const PayloadType = 96

// SamplesPerPacket computes S, the samples-per-channel carried by one RTP
// packet, from the ptime (microseconds) and network rate.
func SamplesPerPacket(ptimeMicros, rate uint32) uint32 {
	clock := uint32(48000)
	if rate == 96000 {
		clock = 96000
	}
	return (ptimeMicros * clock) / 1000000
}

// PayloadSize is the number of payload bytes one packet carries.
func PayloadSize(samples uint32, channels uint32, d Depth) int {
	return int(samples) * int(channels) * d.Bytes()
}

// EncodePacket builds an RTP packet with the given header fields and a
// payload of S*C interleaved samples quantized from frames (S frames of C
// channels, frames[i*channels+c]). shapers must have one *Shaper per
// channel, carrying dither state across calls.
func EncodePacket(seq uint16, timestamp, ssrc uint32, d Depth, channels int, frames []float64, shapers []*Shaper) (*rtp.Packet, error) {
	if len(shapers) != channels {
		return nil, fmt.Errorf("wire: need %d shapers, got %d", channels, len(shapers))
	}
	samples := len(frames) / channels
	payload := make([]byte, samples*channels*d.Bytes())
	bw := d.Bytes()
	for i := 0; i < samples; i++ {
		for c := 0; c < channels; c++ {
			x := frames[i*channels+c]
			q := shapers[c].Encode(x)
			EncodeSample(d, q, payload[(i*channels+c)*bw:])
		}
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    PayloadType,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}, nil
}

// DecodePacket validates an incoming RTP packet's version bits and unpacks
// its payload into interleaved float frames at the given depth/channels.
// pion/rtp.Header.Unmarshal already walks past any CSRC list and extension
// header per RFC 3550, so the returned Payload is exactly the sample data.
func DecodePacket(buf []byte, d Depth, channels int) (pkt rtp.Packet, frames []float64, err error) {
	if len(buf) < 1 || buf[0]>>6 != 2 {
		return rtp.Packet{}, nil, fmt.Errorf("wire: not an RTP v2 packet")
	}
	if err := pkt.Unmarshal(buf); err != nil {
		return rtp.Packet{}, nil, fmt.Errorf("wire: unmarshal rtp: %w", err)
	}
	bw := d.Bytes()
	stride := channels * bw
	if stride == 0 || len(pkt.Payload)%stride != 0 {
		return pkt, nil, fmt.Errorf("wire: payload %d not a multiple of frame stride %d", len(pkt.Payload), stride)
	}
	n := len(pkt.Payload) / stride
	frames = make([]float64, n*channels)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * bw
			frames[i*channels+c] = DecodeSample(d, pkt.Payload[off:off+bw])
		}
	}
	return pkt, frames, nil
}
