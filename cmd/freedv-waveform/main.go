// Command freedv-waveform is the thin process wrapper the teacher's
// cmd/bridge/main.go models: parse configuration, discover or connect to
// a radio, build the waveform, and run until a termination signal
// arrives. All of the actual logic lives in internal/waveform and the
// packages it composes — per SPEC_FULL.md §2, this file stays a bootstrap
// shell around that, matching §6's three-entry-point process surface
// (Start/Stop/signal hook) and §9's instruction to keep former globals
// behind an explicit context value rather than package state.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tmiw/smartsdr-codec2/internal/apilog"
	"github.com/tmiw/smartsdr-codec2/internal/config"
	"github.com/tmiw/smartsdr-codec2/internal/controllink"
	"github.com/tmiw/smartsdr-codec2/internal/discovery"
	"github.com/tmiw/smartsdr-codec2/internal/freedv"
	"github.com/tmiw/smartsdr-codec2/internal/metrics"
	"github.com/tmiw/smartsdr-codec2/internal/waveform"
)

// shutdownGrace bounds how long Stop's teardown (waveform removal, link
// close) is given before the process exits anyway.
const shutdownGrace = 5 * time.Second

// fanoutLogger forwards one formatted line to every sink named, letting a
// single value satisfy the Printf-shaped Logger interface each of
// controllink/transport/discovery/waveform declares independently while
// still reaching both stderr and the optional apilog file.
type fanoutLogger []interface{ Printf(string, ...any) }

func (f fanoutLogger) Printf(format string, args ...any) {
	for _, sink := range f {
		if sink != nil {
			sink.Printf(format, args...)
		}
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	stderr := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

	apiLogger, err := apilog.New(cfg.APILogFile)
	if err != nil {
		stderr.Printf("apilog: %v", err)
		return 1
	}
	defer apiLogger.Close()

	defaultMode, ok := freedv.ParseMode(cfg.DefaultMode)
	if !ok {
		stderr.Printf("config: unknown --default-mode %q", cfg.DefaultMode)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	radioHost, radioPort, err := resolveRadio(ctx, cfg, stderr)
	if err != nil {
		stderr.Printf("discovery: %v", err)
		return 1
	}

	link, err := controllink.Dial(ctx, radioHost, radioPort)
	if err != nil {
		stderr.Printf("controllink: %v", err)
		return 1
	}
	link.SetLogger(fanoutLogger{stderr, apiLogger.NewConnection(link.ID(), radioHost, radioPort)})

	linkErr := make(chan error, 1)
	go func() { linkErr <- link.Run(ctx) }()

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				stderr.Printf("metrics: %v", err)
			}
		}()
		stderr.Printf("[main] metrics listening on %s", cfg.MetricsAddr)
	}

	wf := waveform.New(link, radioHost)
	wf.SetLogger(stderr)
	wf.SetDefaultMode(defaultMode)
	if m != nil {
		wf.SetMetrics(m)
	}

	if err := wf.Start(ctx); err != nil {
		stderr.Printf("waveform: start: %v", err)
		_ = link.Close()
		return 1
	}
	stderr.Printf("[main] connected to radio at %s, waveform ready", fmt.Sprintf("%s:%d", radioHost, radioPort))

	select {
	case <-ctx.Done():
		stderr.Printf("[main] termination signal received, shutting down")
	case err := <-linkErr:
		if err != nil {
			stderr.Printf("[main] control link closed unexpectedly: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	stopped := make(chan struct{})
	go func() {
		wf.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		stderr.Printf("[main] waveform teardown timed out")
	}

	_ = link.Close()
	return 0
}

// resolveRadio returns the radio's control-link address: the --radio-host/
// --radio-port override if set, or the first address the discovery
// broadcast listener resolves otherwise (§6 "the core accepts a resolved
// (ip, port) as input").
func resolveRadio(ctx context.Context, cfg config.Config, logger discovery.Logger) (string, int, error) {
	if cfg.RadioHost != "" {
		return cfg.RadioHost, cfg.RadioPort, nil
	}
	radio, err := discovery.Discover(ctx, cfg.DiscoveryPort, logger)
	if err != nil {
		return "", 0, err
	}
	return radio.Host, radio.Port, nil
}
