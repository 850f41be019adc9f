// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept requests.
type ReadinessChecker func() bool

// storeOutages is a package-level counter for backing store failures.
// This allows callers to increment the metric without needing access to the
// Server instance.
var storeOutages = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "allclear_store_outages_total",
		Help: "Total number of backing store unavailability errors",
	},
)

// RecordStoreOutage increments the backing store outage counter.
func RecordStoreOutage() {
	storeOutages.Inc()
}

// Metrics contains custom Prometheus metrics for AllClear.
type Metrics struct {
	LoginsTotal            *prometheus.CounterVec
	RegistrationsTotal     *prometheus.CounterVec
	TicketRedemptionsTotal *prometheus.CounterVec
	SessionsActive         prometheus.Gauge
}

// NewMetrics creates and registers custom AllClear metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allclear_logins_total",
				Help: "Total number of credential logins by account kind and result",
			},
			[]string{"kind", "result"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allclear_registrations_total",
				Help: "Total number of registration confirmations by result",
			},
			[]string{"result"},
		),
		TicketRedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allclear_ticket_redemptions_total",
				Help: "Total number of one-time-code redemptions by protocol and result",
			},
			[]string{"protocol", "result"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "allclear_sessions_active",
				Help: "Sessions created minus sessions removed since start",
			},
		),
	}

	reg.MustRegister(m.LoginsTotal)
	reg.MustRegister(m.RegistrationsTotal)
	reg.MustRegister(m.TicketRedemptionsTotal)
	reg.MustRegister(m.SessionsActive)
	reg.MustRegister(storeOutages)

	return m
}

// Label values shared by the event counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	ProtocolRegistration = "registration"
	ProtocolPhoneToken   = "phone_token"
)

func resultLabel(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// RecordLogin counts a credential login outcome by account kind.
func (m *Metrics) RecordLogin(kind string, success bool) {
	m.LoginsTotal.WithLabelValues(kind, resultLabel(success)).Inc()
}

// RecordRegistration counts a registration confirmation outcome.
func (m *Metrics) RecordRegistration(success bool) {
	m.RegistrationsTotal.WithLabelValues(resultLabel(success)).Inc()
}

// RecordTicketRedemption counts a one-time-code redemption outcome.
func (m *Metrics) RecordTicketRedemption(protocol string, success bool) {
	m.TicketRedemptionsTotal.WithLabelValues(protocol, resultLabel(success)).Inc()
}

// SessionOpened moves the active-sessions gauge up by one.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
}

// SessionClosed moves the active-sessions gauge down by one.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9090", ":9090" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register custom metrics
	metrics := NewMetrics(registry)

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}

	return s
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Create buffered error channel so the goroutine doesn't block
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
// This is a simple check that the process is alive.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept requests,
// or 503 if not ready.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
