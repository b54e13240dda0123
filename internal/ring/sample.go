package ring

import (
	"encoding/binary"
	"math"
)

// BytesPerFloat is the wire size of one ring-buffer sample: the ring always
// carries host-format float32 audio (as the original's jack_ringbuffer_t
// does), regardless of the network wire depth, which is applied only at
// the RTP encode/decode boundary (internal/wire).
const BytesPerFloat = 4

// FloatStride returns the byte stride of one all-channel frame in the ring.
func FloatStride(channels int) int {
	return channels * BytesPerFloat
}

// PutFloat32 writes v as 4 bytes into b.
func PutFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// GetFloat32 reads a float32 sample from the first 4 bytes of b.
func GetFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
