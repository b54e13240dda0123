// Package ptpslave implements the PTP slave-only clock described in §4.4:
// it tracks a single master across the event (319) and general (320)
// multicast ports, answers with DELAY_REQ at most once every two seconds of
// network-sample time, and publishes the phase offset (to the RTP engine's
// sample clock) on every matching DELAY_RESP and the rate comparison (to the
// clock reconciler) on every SYNC.
package ptpslave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ptp "github.com/facebook/time/ptp/protocol"

	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

// Offsetter receives the computed PTP-to-RTP-clock phase correction.
type Offsetter interface {
	Offset(delta int64)
}

// Comparator receives the PTP-sample-domain timestamp of every SYNC so the
// reconciler can compare local and network clock rates.
type Comparator interface {
	Compare(ptpNow int64)
}

// LocalClock is the RTP engine's free-running sample clock, the source of
// every "local receive instant" (T'1, T2) the slave stamps, exactly as the
// original reads mai_rtp_clock() at each of those call sites.
type LocalClock interface {
	Now() int64
}

// Config wires one Slave to its sockets and collaborators.
type Config struct {
	Rate   uint32 // audio network sample rate (44100, 48000 or 96000)
	Sender bool   // DELAY_REQ only makes sense in sender mode, per ptp_update

	Source ptp.PortIdentity // local EUI-64 source identity

	EventConn   net.PacketConn // joined to 224.0.1.129:319
	GeneralConn net.PacketConn // joined to 224.0.1.129:320
	ReqConn     net.Conn       // connected to 224.0.1.129:319, for sending DELAY_REQ

	Offset     Offsetter
	Compare    Comparator
	Clock      LocalClock
	Stats      *stats.Stats
	Log        zerolog.Logger
}

// delayReqInterval is the minimum spacing between DELAY_REQ transmissions,
// expressed in seconds of network-sample time (ptp_update's "2 seconds").
const delayReqInterval = 2

const readDeadline = 500 * time.Millisecond

// Slave runs the event and general receive loops and sends the rate-limited
// delay requests. All mutable state is guarded by mu, since the event and general
// goroutines both read and write the two-step handshake fields.
type Slave struct {
	cfg Config

	mu       sync.Mutex
	source   ptp.PortIdentity
	haveSrc  bool
	sourceStr string

	ptpRecv int64 // T'1: local receive time of the SYNC
	ptpSync int64 // T1:  master's SYNC origin timestamp (the FOLLOW_UP's, for a two-step master)

	clkSeq  uint16 // two-step: sequence of the pending SYNC
	clkRecv int64  // two-step: local receive time of the pending SYNC

	reqSeq  uint16
	reqSent int64 // T2: local send time of our last DELAY_REQ
	reqSync int64 // T'2: master's receive time of our last DELAY_REQ

	masters int
}

// New creates a slave bound to cfg.
func New(cfg Config) *Slave {
	return &Slave{cfg: cfg}
}

// Run starts the event and general receive loops, blocking until ctx is
// canceled or one of them fails irrecoverably. Meanwhile it polls once a
// second for a first master (logging a "waiting" line every 5s); if none
// has appeared after about 60 seconds it cancels both loops and returns an
// error. It does not signal callers when the first master appears.
func (s *Slave) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.runEvent(runCtx) }()
	go func() { errCh <- s.runGeneral(runCtx) }()

	if err := s.waitForMaster(runCtx); err != nil {
		cancel()
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Slave) waitForMaster(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for count := 1; ; count++ {
		s.mu.Lock()
		n := s.masters
		s.mu.Unlock()
		if n > 0 {
			return nil
		}

		if count%5 == 0 {
			s.cfg.Log.Info().Msg("ptp: waiting for master")
		}
		if count > 60 {
			return fmt.Errorf("ptpslave: timed out waiting for a PTP master")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runGeneral handles FOLLOW_UP and DELAY_RESP messages on port 320.
func (s *Slave) runGeneral(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		setReadDeadline(s.cfg.GeneralConn)

		n, err := readPacket(s.cfg.GeneralConn, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				continue
			}
			s.cfg.Log.Warn().Err(err).Msg("ptp: general recv failed")
			continue
		}

		msgType, version, domain, seq, _, err := wire.PeekHeader(buf[:n])
		if err != nil || version != 2 || domain != wire.Domain {
			continue
		}
		s.cfg.Stats.PTP.General.Add(1)

		const headerSize = 34
		switch msgType {
		case ptp.MessageFollowUp:
			s.handleFollowUp(seq, buf[headerSize:n])
		case ptp.MessageDelayResp:
			s.handleDelayResp(seq, buf[headerSize:n])
		}
	}
}

func (s *Slave) handleFollowUp(seq uint16, payload []byte) {
	s.mu.Lock()
	if seq != s.clkSeq {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	stamp, err := wire.StampFromBytes(payload, s.cfg.Rate)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.ptpRecv = s.clkRecv
	s.ptpSync = stamp
	s.mu.Unlock()

	s.maybeSendDelayReq()
}

func (s *Slave) handleDelayResp(seq uint16, payload []byte) {
	s.mu.Lock()
	if seq != s.reqSeq {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	stamp, err := wire.StampFromBytes(payload, s.cfg.Rate)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.reqSync = stamp
	ptpRecv, ptpSync, reqSent := s.ptpRecv, s.ptpSync, s.reqSent
	s.mu.Unlock()

	offset := (ptpRecv - ptpSync - stamp + reqSent) / 2
	if s.cfg.Offset != nil {
		s.cfg.Offset.Offset(offset)
	}
}

// runEvent handles SYNC messages on port 319.
func (s *Slave) runEvent(ctx context.Context) error {
	buf := make([]byte, 2048)
	const headerSize = 34
	const minPayload = 10
	const minLen = headerSize + minPayload

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		setReadDeadline(s.cfg.EventConn)

		n, err := readPacket(s.cfg.EventConn, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				continue
			}
			s.cfg.Log.Warn().Err(err).Msg("ptp: event recv failed")
			continue
		}

		msgType, version, domain, seq, twoStep, err := wire.PeekHeader(buf[:n])
		if err != nil || version != 2 || domain != wire.Domain {
			continue
		}
		s.cfg.Stats.PTP.Event.Add(1)

		if n < minLen || msgType != ptp.MessageSync {
			continue
		}

		srcID := sourceFromHeader(buf)
		s.noteSource(srcID)

		stamp, err := wire.StampFromBytes(buf[headerSize:n], s.cfg.Rate)
		if err != nil {
			continue
		}

		if s.cfg.Compare != nil {
			s.cfg.Compare.Compare(stamp)
		}

		if twoStep {
			s.mu.Lock()
			s.clkSeq = seq
			s.clkRecv = s.cfg.Clock.Now()
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.ptpRecv = s.cfg.Clock.Now()
		s.ptpSync = stamp
		s.mu.Unlock()

		s.maybeSendDelayReq()
	}
}

// noteSource logs and counts a master change the way ptp_event does,
// comparing against the last-seen 10-byte source identity.
func (s *Slave) noteSource(id ptp.PortIdentity) {
	s.mu.Lock()
	changed := !s.haveSrc || id != s.source
	if changed {
		s.source = id
		s.haveSrc = true
		s.masters++
		s.sourceStr = wire.SourceString(id)
		n := s.masters
		str := s.sourceStr
		s.mu.Unlock()
		s.cfg.Stats.PTP.Masters.Add(1)
		s.cfg.Log.Info().Str("source", str).Msg(fmt.Sprintf("ptp: new master (#%d)", n))
		return
	}
	s.mu.Unlock()
}

// SourceString returns the text form of the currently tracked master's
// identity, for SAP/SDP announcements, or "" before the first SYNC.
func (s *Slave) SourceString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceStr
}

// maybeSendDelayReq implements ptp_update: only in sender mode, only once
// ptp_sync has advanced past the last request's response by at least
// delayReqInterval seconds of network-sample time.
func (s *Slave) maybeSendDelayReq() {
	if !s.cfg.Sender {
		return
	}

	s.mu.Lock()
	if s.reqSync > s.ptpSync || (s.ptpSync-s.reqSync) < int64(delayReqInterval)*int64(s.cfg.Rate) {
		s.mu.Unlock()
		return
	}
	s.reqSeq++
	seq := s.reqSeq
	s.mu.Unlock()

	req := wire.NewDelayReq(s.cfg.Source, seq)
	buf, err := req.MarshalBinary()
	if err != nil {
		s.cfg.Log.Error().Err(err).Msg("ptp: marshal delay_req failed")
		return
	}
	if _, err := s.cfg.ReqConn.Write(buf); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("ptp: send delay_req failed")
		return
	}

	s.mu.Lock()
	s.reqSent = s.cfg.Clock.Now()
	s.mu.Unlock()
	s.cfg.Stats.PTP.Requests.Add(1)
}

func sourceFromHeader(buf []byte) ptp.PortIdentity {
	var id ptp.PortIdentity
	id.ClockIdentity = ptp.ClockIdentity(
		uint64(buf[20])<<56 | uint64(buf[21])<<48 | uint64(buf[22])<<40 | uint64(buf[23])<<32 |
			uint64(buf[24])<<24 | uint64(buf[25])<<16 | uint64(buf[26])<<8 | uint64(buf[27]),
	)
	id.PortNumber = uint16(buf[28])<<8 | uint16(buf[29])
	return id
}

func setReadDeadline(conn net.PacketConn) {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
}

func readPacket(conn net.PacketConn, buf []byte) (int, error) {
	n, _, err := conn.ReadFrom(buf)
	return n, err
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

