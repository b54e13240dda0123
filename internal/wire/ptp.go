package wire

import (
	"fmt"
	"net"

	ptp "github.com/facebook/time/ptp/protocol"
)

// PTPMulticastGroup and well-known ports, per AES67/PTP profile defaults.
const (
	PTPMulticastGroup = "224.0.1.129"
	PTPEventPort      = 319
	PTPGeneralPort    = 320
)

// Domain is the only PTP domain this bridge accepts.
const Domain = 0

// SourcePortNumber is the PortNumber used when deriving a PortIdentity from
// a local MAC address (the distilled spec's "append 00 02" trailer).
const SourcePortNumber = 2

// SourceIdentity builds the 10-byte PTP source identity for a local
// interface's MAC address: EUI-64 expansion of the 6-byte MAC, followed by
// the fixed port number. protocol.NewClockIdentity performs exactly the
// "insert FF FE between bytes 3 and 4" transform described in the wire
// format; what remains is attaching the port number, which PortIdentity
// already serializes as the trailing two bytes.
func SourceIdentity(mac net.HardwareAddr) (ptp.PortIdentity, error) {
	id, err := ptp.NewClockIdentity(mac)
	if err != nil {
		return ptp.PortIdentity{}, fmt.Errorf("wire: derive clock identity: %w", err)
	}
	return ptp.PortIdentity{ClockIdentity: id, PortNumber: SourcePortNumber}, nil
}

// SourceString renders a PortIdentity the way the slave logs a newly
// adopted master: "AA-BB-CC-DD-EE-FF-GG-HH:0".
func SourceString(id ptp.PortIdentity) string {
	ci := uint64(id.ClockIdentity)
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X-%02X-%02X:0",
		byte(ci>>56), byte(ci>>48), byte(ci>>40), byte(ci>>32),
		byte(ci>>24), byte(ci>>16), byte(ci>>8), byte(ci))
}

// StampToSamples converts a PTP Timestamp into audio-sample-domain units at
// network rate R_n: stamp = sec*R_n + (nsec*R_n)/1e9.
func StampToSamples(ts ptp.Timestamp, rate uint32) int64 {
	sec := int64(ts.Seconds.Seconds())
	nsec := int64(ts.Nanoseconds)
	return sec*int64(rate) + (nsec*int64(rate))/1_000_000_000
}

// StampFromBytes parses a 10-byte PTP origin timestamp (48-bit seconds,
// 32-bit nanoseconds, both big-endian) directly out of a SYNC/FOLLOW_UP/
// DELAY_RESP payload and converts it to sample-domain units at rate,
// exactly as the original's ptp_stamp does.
func StampFromBytes(b []byte, rate uint32) (int64, error) {
	if len(b) < 10 {
		return 0, fmt.Errorf("wire: ptp timestamp truncated (%d bytes)", len(b))
	}
	var sec ptp.PTPSeconds
	copy(sec[:], b[0:6])
	nsec := uint32(b[6])<<24 | uint32(b[7])<<16 | uint32(b[8])<<8 | uint32(b[9])
	ts := ptp.Timestamp{Seconds: sec, Nanoseconds: nsec}
	return StampToSamples(ts, rate), nil
}

// NewHeader builds a common 34-byte PTP header for an outgoing message.
func NewHeader(msgType ptp.MessageType, source ptp.PortIdentity, seq uint16) ptp.Header {
	return ptp.Header{
		SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(msgType, 0),
		Version:            2,
		DomainNumber:       Domain,
		SourcePortIdentity: source,
		SequenceID:         seq,
	}
}

// NewDelayReq builds the DELAY_REQ packet the sender side transmits on the
// event-send socket. Its origin timestamp is left zeroed, matching the
// original's memset-then-fill-only-the-header construction: the master
// never reads this field, only the receive timestamp it stamps into the
// resulting DELAY_RESP.
func NewDelayReq(source ptp.PortIdentity, seq uint16) *ptp.SyncDelayReq {
	return &ptp.SyncDelayReq{
		Header: NewHeader(ptp.MessageDelayReq, source, seq),
	}
}

// PeekHeader reads just enough of a raw PTP datagram to decide message
// type, version, domain and sequence, without committing to one of the
// typed message bodies (SYNC/FOLLOW_UP/DELAY_RESP share the same 34-byte
// header but diverge after it).
func PeekHeader(b []byte) (msgType ptp.MessageType, version, domain uint8, seq uint16, twoStep bool, err error) {
	if len(b) < 34 {
		return 0, 0, 0, 0, false, fmt.Errorf("wire: ptp header truncated (%d bytes)", len(b))
	}
	msgType = ptp.SdoIDAndMsgType(b[0]).MsgType()
	version = b[1] & 0x0F
	domain = b[4]
	flags := uint16(b[6])<<8 | uint16(b[7])
	seq = uint16(b[30])<<8 | uint16(b[31])
	twoStep = flags&ptp.FlagTwoStep != 0
	return msgType, version, domain, seq, twoStep, nil
}
