package stats

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// PrometheusExporter periodically scrapes a Stats snapshot into a set of
// gauges served on /metrics, mirroring the scrape-and-republish shape of
// facebook-time's sptp stats exporter.
type PrometheusExporter struct {
	stats    *Stats
	addr     string
	interval time.Duration

	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

// NewPrometheusExporter builds an exporter that listens on addr (e.g.
// ":9479") and refreshes its gauges every interval.
func NewPrometheusExporter(s *Stats, addr string, interval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		stats:    s,
		addr:     addr,
		interval: interval,
		registry: prometheus.NewRegistry(),
		gauges:   map[string]prometheus.Gauge{},
	}
}

func (p *PrometheusExporter) gauge(name string) prometheus.Gauge {
	g, ok := p.gauges[name]
	if ok {
		return g
	}
	g = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aes67link",
		Name:      name,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return g
}

func (p *PrometheusExporter) scrape() {
	snap := p.stats.Snapshot()
	p.gauge("audio_drift").Set(float64(snap.AudioDrift))
	p.gauge("audio_underrun_total").Set(float64(snap.AudioUnderrun))
	p.gauge("audio_overrun_total").Set(float64(snap.AudioOverrun))
	p.gauge("rtp_resynced_total").Set(float64(snap.RTPResynced))
	p.gauge("rtp_packets_total").Set(float64(snap.RTPPackets))
	p.gauge("rtp_reordered_total").Set(float64(snap.RTPReordered))
	p.gauge("rtp_skipped_total").Set(float64(snap.RTPSkipped))
	p.gauge("ptp_masters_total").Set(float64(snap.PTPMasters))
	p.gauge("ptp_requests_total").Set(float64(snap.PTPRequests))
	p.gauge("ptp_general_total").Set(float64(snap.PTPGeneral))
	p.gauge("ptp_event_total").Set(float64(snap.PTPEvent))
}

// Start launches the scrape loop and the HTTP server in background
// goroutines. It returns once the listener is bound, or an error if it
// couldn't bind.
func (p *PrometheusExporter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: p.addr, Handler: mux}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("stats: listen %s: %w", p.addr, err)
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.scrape()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("stats: metrics server stopped")
		}
	}()

	return nil
}
