// Package aes67 wires together the PTP slave clock, the RTP engine, the
// clock reconciler, the SAP announcer and host audio into one running
// sender or receiver bridge, per §5's lifecycle ordering.
package aes67

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link/internal/config"
	"github.com/markmandel/aes67link/internal/hostaudio"
	"github.com/markmandel/aes67link/internal/netiface"
	"github.com/markmandel/aes67link/internal/ptpslave"
	"github.com/markmandel/aes67link/internal/reconciler"
	"github.com/markmandel/aes67link/internal/ring"
	"github.com/markmandel/aes67link/internal/rtpengine"
	"github.com/markmandel/aes67link/internal/sap"
	"github.com/markmandel/aes67link/internal/stats"
	"github.com/markmandel/aes67link/internal/wire"
)

// ringHorizon matches internal/reorder.Horizon: the ring must hold at
// least H+1 packets' worth of audio so a fully-reordered window still
// fits, per §3's sizing formula.
const ringHorizon = 6

// Option customizes a Bridge beyond what Config determines. Most runs need
// none; Option exists for tests that want to substitute a fake clock or
// logger.
type Option func(*Bridge)

// WithLogger overrides the default stderr logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// Bridge owns every long-lived component of one sender or receiver run.
type Bridge struct {
	cfg   *config.Config
	iface *netiface.Interface
	log   zerolog.Logger
	stats *stats.Stats

	audioRing  *ring.Buffer
	rtpClock   *rtpengine.Clock
	hostClock  *hostaudio.Clock
	reconciler *reconciler.Reconciler

	slave    *ptpslave.Slave
	sender   *rtpengine.Sender
	receiver *rtpengine.Receiver
	announce *sap.Announcer
	audio    *hostaudio.Stream
	metrics  *stats.PrometheusExporter

	eventConn   net.PacketConn
	generalConn net.PacketConn
	reqConn     net.Conn
	rtpConn     net.PacketConn
	rtpSendConn net.Conn
	sapConn     net.Conn
}

// New resolves the configured interface and wires every component
// together, opening sockets and sizing buffers but not yet starting any
// goroutine, matching §5's "PTP (open sockets) → RTP (open socket, size
// buffers) → SAP → host-audio" init order.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		cfg:   cfg,
		log:   zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger(),
		stats: stats.New(),
	}
	for _, o := range opts {
		o(b)
	}
	if cfg.Verbose {
		b.log = b.log.Level(zerolog.DebugLevel)
	} else {
		b.log = b.log.Level(zerolog.InfoLevel)
	}

	iface, err := netiface.Resolve(cfg.Interface)
	if err != nil {
		return nil, err
	}
	b.iface = iface

	b.initClocks()
	if err := b.initPTP(); err != nil {
		b.closeSockets()
		return nil, err
	}
	if err := b.initRTP(); err != nil {
		b.closeSockets()
		return nil, err
	}
	if cfg.Mode == config.ModeSender {
		if err := b.initSAP(); err != nil {
			b.closeSockets()
			return nil, err
		}
	}
	if err := b.initHostAudio(); err != nil {
		b.closeSockets()
		return nil, err
	}
	if cfg.MetricsAddr != "" {
		b.metrics = stats.NewPrometheusExporter(b.stats, cfg.MetricsAddr, 5*time.Second)
	}

	return b, nil
}

// initClocks builds the two independent free-running counters and the
// reconciler that compares them, before any socket opens: the RTP engine's
// sample clock (corrected by the PTP slave, advanced by the RTP sender)
// and the host-audio frame clock (advanced by the PortAudio callback,
// read by the reconciler as the "jack_now" side of Compare).
func (b *Bridge) initClocks() {
	samplesPerPacket := wire.SamplesPerPacket(b.cfg.PTime, b.cfg.Rate)
	b.rtpClock = rtpengine.NewClock(samplesPerPacket, b.stats)
	b.hostClock = hostaudio.NewClock()
	b.reconciler = reconciler.New(b.hostClock, b.stats)
}

func (b *Bridge) initPTP() error {
	eventConn, err := netiface.OpenRecv(b.iface, wire.PTPMulticastGroup, wire.PTPEventPort)
	if err != nil {
		return fmt.Errorf("aes67: open ptp event socket: %w", err)
	}
	generalConn, err := netiface.OpenRecv(b.iface, wire.PTPMulticastGroup, wire.PTPGeneralPort)
	if err != nil {
		return fmt.Errorf("aes67: open ptp general socket: %w", err)
	}
	b.eventConn = eventConn
	b.generalConn = generalConn

	var reqConn net.Conn
	if b.cfg.Mode == config.ModeSender {
		reqConn, err = netiface.OpenSend(b.iface, wire.PTPMulticastGroup, wire.PTPEventPort)
		if err != nil {
			return fmt.Errorf("aes67: open ptp delay-req socket: %w", err)
		}
		b.reqConn = reqConn
	}

	source, err := wire.SourceIdentity(b.iface.MAC)
	if err != nil {
		return fmt.Errorf("aes67: derive ptp source identity: %w", err)
	}

	b.slave = ptpslave.New(ptpslave.Config{
		Rate:        b.cfg.Rate,
		Sender:      b.cfg.Mode == config.ModeSender,
		Source:      source,
		EventConn:   eventConn,
		GeneralConn: generalConn,
		ReqConn:     reqConn,
		Offset:      b.rtpClock,
		Compare:     b.reconciler,
		Clock:       b.rtpClock,
		Stats:       b.stats,
		Log:         b.log,
	})
	return nil
}

func (b *Bridge) initRTP() error {
	depth := b.cfg.Bits
	channels := int(b.cfg.Channels)
	samplesPerPacket := wire.SamplesPerPacket(b.cfg.PTime, b.cfg.Rate)

	// The payload plus the 40 bytes of IP, UDP and RTP headers must fit the
	// interface MTU.
	if size := wire.PayloadSize(samplesPerPacket, b.cfg.Channels, depth); size > b.iface.MTU-40 {
		return fmt.Errorf("aes67: rtp payload of %d bytes exceeds %s MTU %d minus 40", size, b.iface.Name, b.iface.MTU)
	}

	stride := ring.FloatStride(channels)
	capacity := ring.Size(stride, int(samplesPerPacket), ringHorizon, int(samplesPerPacket)*4)
	b.audioRing = ring.New(capacity, &b.stats.Audio.Underrun, &b.stats.Audio.Overrun)

	if b.cfg.Mode == config.ModeSender {
		conn, err := netiface.OpenSend(b.iface, b.cfg.Address, b.cfg.Port)
		if err != nil {
			return fmt.Errorf("aes67: open rtp send socket: %w", err)
		}
		b.rtpSendConn = conn
		sender, err := rtpengine.NewSender(rtpengine.SenderConfig{
			Depth:            depth,
			Channels:         channels,
			SamplesPerPacket: samplesPerPacket,
			PTimeMicros:      b.cfg.PTime,
			Ring:             b.audioRing,
			Clock:            b.rtpClock,
			Stats:            b.stats,
			Log:              b.log,
			Conn:             conn,
		})
		if err != nil {
			return fmt.Errorf("aes67: build rtp sender: %w", err)
		}
		b.sender = sender
		return nil
	}

	conn, err := netiface.OpenRecv(b.iface, b.cfg.Address, b.cfg.Port)
	if err != nil {
		return fmt.Errorf("aes67: open rtp recv socket: %w", err)
	}
	b.rtpConn = conn
	b.receiver = rtpengine.NewReceiver(rtpengine.ReceiverConfig{
		Depth:    depth,
		Channels: channels,
		Ring:     b.audioRing,
		Stats:    b.stats,
		Log:      b.log,
		Conn:     conn,
	})
	return nil
}

func (b *Bridge) initSAP() error {
	conn, err := netiface.OpenSend(b.iface, sap.MulticastGroup, sap.Port)
	if err != nil {
		return fmt.Errorf("aes67: open sap socket: %w", err)
	}
	b.sapConn = conn

	b.announce = sap.New(conn, b.iface.Addr, sap.Session{
		Name:        b.cfg.Session,
		Title:       b.cfg.Title,
		Group:       b.cfg.Address,
		Port:        b.cfg.Port,
		Bits:        uint32(b.cfg.Bits),
		Rate:        b.cfg.Rate,
		Channels:    b.cfg.Channels,
		PTimeMicros: b.cfg.PTime,
	}, b.slave, b.log)
	return nil
}

func (b *Bridge) initHostAudio() error {
	audio, err := hostaudio.Open(hostaudio.Config{
		Sender:     b.cfg.Mode == config.ModeSender,
		Channels:   int(b.cfg.Channels),
		Rate:       float64(b.cfg.Rate),
		Ring:       b.audioRing,
		Clock:      b.hostClock,
		Reconciler: b.reconciler,
		ClientName: b.cfg.ClientName,
		Stats:      b.stats,
		Log:        b.log,
	})
	if err != nil {
		return fmt.Errorf("aes67: open host audio: %w", err)
	}
	b.audio = audio
	return nil
}

// Run starts host audio and the optional metrics exporter, then launches the
// PTP, RTP and SAP goroutines together: the RTP and SAP goroutines do not
// wait for the PTP slave's first master, and Run returns the slave's error
// if no master appears within about 60 seconds. It blocks until ctx is
// canceled or a component returns, then tears everything down in reverse.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.closeSockets()

	if err := b.audio.Start(); err != nil {
		return fmt.Errorf("aes67: start host audio: %w", err)
	}
	defer func() {
		if err := b.audio.Close(); err != nil {
			b.log.Warn().Err(err).Msg("aes67: host audio close failed")
		}
	}()

	if b.metrics != nil {
		if err := b.metrics.Start(runCtx); err != nil {
			return fmt.Errorf("aes67: start metrics exporter: %w", err)
		}
	}

	errCh := make(chan error, 3)

	go func() { errCh <- b.slave.Run(runCtx) }()

	if b.sender != nil {
		go func() { errCh <- b.sender.Run(runCtx) }()
	}
	if b.receiver != nil {
		go func() { errCh <- b.receiver.Run(runCtx) }()
	}
	if b.announce != nil {
		go func() { errCh <- b.announce.Run(runCtx) }()
	}

	select {
	case <-ctx.Done():
		cancel()
		return nil
	case err := <-errCh:
		cancel()
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

// Stats returns the shared counter set, for the SIGUSR1 report.
func (b *Bridge) Stats() *stats.Stats {
	return b.stats
}

// closeSockets releases every socket opened during init, run after the
// goroutines reading/writing them have observed context cancellation.
func (b *Bridge) closeSockets() {
	conns := []interface{ Close() error }{
		b.eventConn, b.generalConn, b.reqConn, b.rtpConn, b.rtpSendConn, b.sapConn,
	}
	for _, c := range conns {
		if c == nil {
			continue
		}
		_ = c.Close()
	}
}
