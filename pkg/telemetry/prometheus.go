// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder keeps measurements in a Prometheus registry.
type PrometheusRecorder struct {
	registry    *prom.Registry
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	oracleTotal *prom.CounterVec
	oracleSecs  *prom.HistogramVec
	runTotal    *prom.CounterVec
	runSteps    prom.Histogram
}

// NewPrometheusRecorder registers the collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prom.NewRegistry(),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "kopl_tool_calls_total",
			Help: "Total number of tool invocations",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "kopl_tool_call_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		oracleTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "kopl_oracle_calls_total",
			Help: "Total number of oracle requests",
		}, []string{"success"}),
		oracleSecs: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "kopl_oracle_call_seconds",
			Help:    "Oracle request duration in seconds",
			Buckets: prom.ExponentialBuckets(0.1, 2, 10),
		}, []string{"success"}),
		runTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "kopl_agent_runs_total",
			Help: "Total number of agent runs by termination",
		}, []string{"termination"}),
		runSteps: prom.NewHistogram(prom.HistogramOpts{
			Name:    "kopl_agent_run_steps",
			Help:    "Executed steps per agent run",
			Buckets: prom.LinearBuckets(1, 1, 12),
		}),
	}
	p.registry.MustRegister(p.toolTotal, p.toolSeconds, p.oracleTotal, p.oracleSecs, p.runTotal, p.runSteps)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom exporters.
func (p *PrometheusRecorder) Gatherer() prom.Gatherer { return p.registry }

// ToolCall implements Recorder.
func (p *PrometheusRecorder) ToolCall(_ context.Context, tool string, success bool, seconds float64) {
	label := strconv.FormatBool(success)
	p.toolTotal.WithLabelValues(tool, label).Inc()
	p.toolSeconds.WithLabelValues(tool, label).Observe(seconds)
}

// OracleCall implements Recorder.
func (p *PrometheusRecorder) OracleCall(_ context.Context, success bool, seconds float64) {
	label := strconv.FormatBool(success)
	p.oracleTotal.WithLabelValues(label).Inc()
	p.oracleSecs.WithLabelValues(label).Observe(seconds)
}

// AgentRun implements Recorder.
func (p *PrometheusRecorder) AgentRun(_ context.Context, termination string, steps int) {
	p.runTotal.WithLabelValues(termination).Inc()
	p.runSteps.Observe(float64(steps))
}

// ServePrometheus starts an HTTP server exposing /metrics and /healthz on
// addr (default ":9090") backed by a new PrometheusRecorder.
func ServePrometheus(addr string) (*PrometheusRecorder, ShutdownFunc, error) {
	if addr == "" {
		addr = ":9090"
	}
	rec := NewPrometheusRecorder()
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry.prometheus.serve", "addr", addr, "error", err)
		}
	}()
	return rec, srv.Shutdown, nil
}
