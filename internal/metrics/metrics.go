// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package metrics exports bridge activity as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "process_bridge"

type Metrics struct {
	registry *prometheus.Registry

	deliveries     *prometheus.CounterVec   // endpoint, outcome
	handleDuration *prometheus.HistogramVec // endpoint, action
	logins         *prometheus.CounterVec   // outcome
	signalVersions *prometheus.CounterVec   // endpoint, result
	activeSessions prometheus.GaugeFunc
}

// New creates the collectors on a private registry. sessions, when non-nil,
// reports the number of cached engine sessions.
func New(sessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries handled per endpoint, by outcome (ok, failed, panic)",
		}, []string{"endpoint", "outcome"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_action_duration_seconds",
			Help:      "Time spent running the engine action for one message",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "action"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_logins_total",
			Help:      "Session cache lookups, by outcome (ok, failed)",
		}, []string{"outcome"}),
		signalVersions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_versions_total",
			Help:      "Definitions versions visited by signal fan-out, by result (triggered, not_found)",
		}, []string{"endpoint", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveries,
		m.handleDuration,
		m.logins,
		m.signalVersions,
	)

	if sessions != nil {
		m.activeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_sessions",
			Help:      "Engine sessions currently cached",
		}, func() float64 { return float64(sessions()) })
		m.registry.MustRegister(m.activeSessions)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Delivery(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ActionDuration(endpoint, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.handleDuration.WithLabelValues(endpoint, action).Observe(d.Seconds())
}

func (m *Metrics) Login(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SignalFanOut(endpoint string, triggered, notFound int) {
	if m == nil {
		return
	}
	m.signalVersions.WithLabelValues(endpoint, "triggered").Add(float64(triggered))
	m.signalVersions.WithLabelValues(endpoint, "not_found").Add(float64(notFound))
}

// Server serves /metrics, /health and whatever else is mounted with Handle.
type Server struct {
	srv    *http.Server
	mux    *http.ServeMux
	logger *slog.Logger
}

func NewServer(addr string, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		mux:    mux,
		logger: logger.With("component", "metrics"),
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Handle mounts h on pattern. Call it before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
