// Package sap implements the sender-mode SAP/SDP announcer described in
// §6: a periodic (every 300s) multicast announcement of the stream's SDP
// description to 239.255.255.255:9875, with a final deletion packet sent
// on shutdown.
package sap

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link/internal/wire"
)

const (
	// MulticastGroup and Port are the well-known SAP announcement address.
	MulticastGroup = "239.255.255.255"
	Port           = 9875

	mimeType = "application/sdp\x00"

	announceInterval = 300 * time.Second
)

// SourceProvider supplies the currently tracked PTP master's identity
// string for the a=ts-refclk line. Before a first SYNC has arrived it may
// return "".
type SourceProvider interface {
	SourceString() string
}

// Session describes the stream this announcer advertises.
type Session struct {
	Name      string // mai.args.session: SDP s= line
	Title     string // mai.args.title: SDP i= line
	Group     string // multicast group the stream itself uses (c= line)
	Port      uint16 // RTP port (m= line)
	Bits      uint32
	Rate      uint32
	Channels  uint32
	PTimeMicros uint32
}

// ptimeTable mirrors sap.c's switch on mai.args.ptime, selecting the
// 44.1kHz-specific string when the network rate is 44100.
var ptimeTable = map[uint32][2]string{
	4000: {"4", "4.35"},
	1000: {"1", "1.09"},
	333:  {"0.33", "0.36"},
	250:  {"0.25", "0.27"},
	125:  {"0.12", "0.13"},
}

func ptimeString(ptimeMicros, rate uint32) (string, bool) {
	v, ok := ptimeTable[ptimeMicros]
	if !ok {
		return "", false
	}
	if rate == 44100 {
		return v[1], true
	}
	return v[0], true
}

// Announcer periodically sends a SAP packet describing Session, and a
// deletion packet when its Run loop exits.
type Announcer struct {
	conn    net.Conn
	source  SourceProvider
	session Session
	localIP net.IP
	log     zerolog.Logger

	hash   uint16
	origin int64 // o= origin/version, fixed for the announcer's lifetime
}

// New creates an announcer that sends over conn (already connected to
// 239.255.255.255:9875) using localIP as the SAP source address field and
// source.SourceString() for the PTP refclk line. The SDP o= origin/version
// is captured once here and reused for every announce and the deletion
// packet, mirroring the original building its whole packet once before the
// 300s send loop rather than recomputing it per send.
func New(conn net.Conn, localIP net.IP, session Session, source SourceProvider, log zerolog.Logger) *Announcer {
	return &Announcer{
		conn:    conn,
		source:  source,
		session: session,
		localIP: localIP,
		log:     log,
		hash:    uint16(os.Getpid()),
		origin:  time.Now().Unix(),
	}
}

// Run sends an announcement immediately, then every 300 seconds, and sends
// one deletion packet when ctx is canceled, mirroring the original's
// 1-second sleep loop gated on "lp % 300 == 0" plus a shutdown deletion.
func (a *Announcer) Run(ctx context.Context) error {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	if err := a.send(false); err != nil {
		a.log.Warn().Err(err).Msg("sap: announce send failed")
	} else {
		a.log.Debug().Msg("sap: sent announce packet")
	}

	for {
		select {
		case <-ctx.Done():
			if err := a.send(true); err != nil {
				a.log.Warn().Err(err).Msg("sap: delete send failed")
			} else {
				a.log.Debug().Msg("sap: sent delete packet")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := a.send(false); err != nil {
				a.log.Warn().Err(err).Msg("sap: announce send failed")
			} else {
				a.log.Debug().Msg("sap: sent announce packet")
			}
		}
	}
}

func (a *Announcer) send(deletion bool) error {
	pkt := a.buildPacket(deletion)
	_, err := a.conn.Write(pkt)
	return err
}

func (a *Announcer) buildPacket(deletion bool) []byte {
	var vartec byte = 0b00100000 // V=1
	if deletion {
		vartec |= 0b00000100 // T=1: delete session
	}

	buf := make([]byte, 0, 512)
	buf = append(buf, vartec, 0) // vartec, authlen=0
	buf = append(buf, byte(a.hash>>8), byte(a.hash))

	v4 := a.localIP.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	buf = append(buf, v4...)
	buf = append(buf, mimeType...)
	buf = append(buf, a.sdpBody()...)
	return buf
}

func (a *Announcer) sdpBody() string {
	s := a.session

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- %d %d IN IP4 %s\r\n", a.origin, a.origin, a.localIP.String())
	fmt.Fprintf(&b, "s=%s\r\n", s.Name)
	fmt.Fprintf(&b, "c=IN IP4 %s/32\r\n", s.Group)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", s.Port, wire.PayloadType)
	fmt.Fprintf(&b, "i=%s\r\n", s.Title)
	fmt.Fprintf(&b, "a=rtpmap:%d L%d/%d/%d\r\n", wire.PayloadType, s.Bits, s.Rate, s.Channels)
	fmt.Fprintf(&b, "a=recvonly\r\n")
	if pt, ok := ptimeString(s.PTimeMicros, s.Rate); ok {
		fmt.Fprintf(&b, "a=ptime:%s\r\n", pt)
	}
	fmt.Fprintf(&b, "a=ts-refclk:ptp=IEEE1588-2008:%s\r\n", a.source.SourceString())
	fmt.Fprintf(&b, "a=mediaclk:direct=0\r\n")
	return b.String()
}
