// Package metrics exposes process-level Prometheus counters for the VITA
// transport and control link, wired in strictly additively: nothing in
// internal/transport, internal/controllink or internal/pipeline depends on
// this package, and a nil *Metrics (what callers hold when metrics are
// disabled and New was never called) makes every recorder method a no-op.
//
// Grounded on the USA-RedDragon-DMRHub and madpsy-ka9q_ubersdr corpus
// entries, the two pack repos that expose a Prometheus endpoint: same
// CounterVec/Gauge shape and the same promhttp.Handler()-on-/metrics
// server pattern, scaled down to the handful of series this process's
// domain actually has (packet counts, drops, modem errors, pipeline
// state) rather than carrying over DMRHub's KV-store-shaped metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 3 * time.Second

// Metrics holds every series this process records. A nil *Metrics is
// valid: every method below guards against it so components can take an
// unconditional *Metrics field and simply not record when metrics are
// disabled.
type Metrics struct {
	packetsIn  *prometheus.CounterVec
	packetsOut *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	modemError prometheus.Counter
	state      prometheus.Gauge
}

// New builds and registers the process's metrics against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps repeated construction in tests from panicking on double
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freedv_waveform_vita_packets_in_total",
			Help: "VITA packets received from the radio, by category.",
		}, []string{"category"}),
		packetsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freedv_waveform_vita_packets_out_total",
			Help: "VITA packets emitted to the radio, by category.",
		}, []string{"category"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freedv_waveform_vita_packets_dropped_total",
			Help: "VITA packets dropped on receipt, by reason.",
		}, []string{"reason"}),
		modemError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freedv_waveform_modem_errors_total",
			Help: "Frames the FreeDV modem failed to process.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freedv_waveform_pipeline_state",
			Help: "Current Sample Pipeline state (0=READY 1=RECEIVE 2=PTT_REQUESTED 3=TRANSMITTING 4=UNKEY_REQUESTED).",
		}),
	}
	reg.MustRegister(m.packetsIn, m.packetsOut, m.dropped, m.modemError, m.state)
	return m
}

// IncPacketsIn records one received VITA packet in category (e.g.
// "waveform-in", "meter", "discovery").
func (m *Metrics) IncPacketsIn(category string) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(category).Inc()
}

// IncPacketsOut records one emitted VITA packet in category (e.g.
// "rx-audio", "tx-audio", "meter").
func (m *Metrics) IncPacketsOut(category string) {
	if m == nil {
		return
	}
	m.packetsOut.WithLabelValues(category).Inc()
}

// IncDropped records one packet dropped on receipt for reason (e.g.
// "short", "wrong-oui", "unrecognized-category").
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// IncModemError records one frame the modem failed to process (§7
// "Modem error").
func (m *Metrics) IncModemError() {
	if m == nil {
		return
	}
	m.modemError.Inc()
}

// SetPipelineState records the pipeline's current state as its ordinal
// value, matching pipeline.State's iota ordering.
func (m *Metrics) SetPipelineState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// Serve runs a dedicated HTTP server exposing /metrics on addr until ctx
// is canceled, matching CreateMetricsServer's shape in the DMRHub
// teacher-adjacent repo but as a cancelable goroutine rather than a
// blocking panic-on-error call, since this process's metrics endpoint is
// optional diagnostic surface, not load-bearing like DMRHub's.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}
