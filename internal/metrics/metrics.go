// Package metrics exposes the server's operational counters over an
// optional Prometheus HTTP endpoint. This is a separate listening
// surface from the game's single UDP port; it exists purely for
// operators and is off unless MetricsAddr is configured.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lockstepd/internal/logging"
)

// Metrics holds every gauge/counter the transport and room layers
// report into.
type Metrics struct {
	ActivePeers     prometheus.Gauge
	ActiveRooms     prometheus.Gauge
	FramesCommitted prometheus.Counter
	Retransmits     prometheus.Counter
	PacketsDropped  prometheus.Counter
	Heartbeats      prometheus.Counter

	reg *prometheus.Registry
}

// New registers every metric against its own registry, so multiple
// Endpoints/Schedulers in the same test binary don't collide on the
// global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		ActivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lockstepd",
			Name:      "active_peers",
			Help:      "Number of peers currently tracked by the transport.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lockstepd",
			Name:      "active_rooms",
			Help:      "Number of rooms currently registered.",
		}),
		FramesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstepd",
			Name:      "frames_committed_total",
			Help:      "Total frames committed across all rooms.",
		}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstepd",
			Name:      "retransmits_total",
			Help:      "Total reliable-packet retransmissions sent.",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstepd",
			Name:      "packets_dropped_total",
			Help:      "Total inbound datagrams dropped (malformed or rate-limited).",
		}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lockstepd",
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeat packets sent.",
		}),
	}

	m.reg = reg
	return m
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs a /metrics HTTP listener on addr until ctx is canceled.
// A non-nil error other than http.ErrServerClosed is fatal to the
// caller; shutdown itself is always nil.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logging.WithFields(logging.Fields{"addr": addr}).Info("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
