// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters/histograms for the scheduler's
// task/layer loop and the event bus's fan-out, as promised by spec.md
// §6's Domain Stack section.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	layerDuration   prometheus.Histogram
	escalations     prometheus.Counter
	eventsEmitted   *prometheus.CounterVec
	handlersPerType prometheus.Gauge
}

// NewMetrics builds a Metrics collector under the given Prometheus
// namespace (e.g. "dagforge").
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Total number of task executions, by terminal status.",
	}, []string{"status"})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"status"})

	m.layerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "layer_duration_seconds",
		Help:      "Wall-clock duration of one DAG layer's concurrent execution.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 15),
	})

	m.escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "permission_escalations_total",
		Help:      "Total number of deferred permission escalations raised.",
	})

	m.eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "events_emitted_total",
		Help:      "Total number of events emitted on the bus, by event type.",
	}, []string{"type"})

	m.handlersPerType = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "handlers_registered",
		Help:      "Current number of subscribed handlers across all event types.",
	})

	m.registry.MustRegister(
		m.tasksTotal, m.taskDuration, m.layerDuration,
		m.escalations, m.eventsEmitted, m.handlersPerType,
	)
	return m
}

// RecordTask records one settled task's status and duration.
func (m *Metrics) RecordTask(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordLayer records one DAG layer's total concurrent-execution wall time.
func (m *Metrics) RecordLayer(d time.Duration) {
	if m == nil {
		return
	}
	m.layerDuration.Observe(d.Seconds())
}

// RecordEscalation increments the deferred-permission-escalation counter.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// RecordEvent increments the emitted-event counter for eventType.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// SetHandlerCount reports the bus's current subscriber count.
func (m *Metrics) SetHandlerCount(n int) {
	if m == nil {
		return
	}
	m.handlersPerType.Set(float64(n))
}

// Handler exposes the collected metrics for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
