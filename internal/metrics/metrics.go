// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "uniqueness"

type Metrics interface {
	Registry() *prometheus.Registry
}

type metricsManager struct {
	ctx             context.Context
	metricsRegistry *prometheus.Registry
}

func NewMetricsManager(ctx context.Context) Metrics {
	return &metricsManager{
		ctx:             ctx,
		metricsRegistry: prometheus.NewRegistry(),
	}
}

func (mm *metricsManager) Registry() *prometheus.Registry {
	return mm.metricsRegistry
}

type CheckerMetrics interface {
	IncResult(kind string)
	ObserveCheck(duration time.Duration)
	IncReplay()
}

type checkerMetrics struct {
	results  *prometheus.CounterVec
	duration prometheus.Histogram
	replays  prometheus.Counter
}

func InitCheckerMetrics(ctx context.Context, registry *prometheus.Registry) CheckerMetrics {
	m := &checkerMetrics{}
	m.results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "checker", Name: "results_total",
		Help: "Uniqueness check decisions by result kind",
	}, []string{"kind"})
	m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Subsystem: "checker", Name: "check_seconds",
		Help:    "Time taken to decide a uniqueness check",
		Buckets: prometheus.DefBuckets,
	})
	m.replays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "checker", Name: "replays_total",
		Help: "Uniqueness checks answered from a previously recorded decision",
	})
	registry.MustRegister(m.results, m.duration, m.replays)
	return m
}

func (m *checkerMetrics) IncResult(kind string) {
	m.results.With(prometheus.Labels{"kind": kind}).Inc()
}

func (m *checkerMetrics) ObserveCheck(duration time.Duration) {
	m.duration.Observe(duration.Seconds())
}

func (m *checkerMetrics) IncReplay() {
	m.replays.Inc()
}

type ClientMetrics interface {
	IncRequest(outcome string)
}

type clientMetrics struct {
	requests *prometheus.CounterVec
}

func InitClientMetrics(ctx context.Context, registry *prometheus.Registry) ClientMetrics {
	m := &clientMetrics{}
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "client", Name: "requests_total",
		Help: "Uniqueness check requests by outcome",
	}, []string{"outcome"})
	registry.MustRegister(m.requests)
	return m
}

func (m *clientMetrics) IncRequest(outcome string) {
	m.requests.With(prometheus.Labels{"outcome": outcome}).Inc()
}

type BusMetrics interface {
	IncRedelivery()
}

type busMetrics struct {
	redeliveries prometheus.Counter
}

func InitBusMetrics(ctx context.Context, registry *prometheus.Registry) BusMetrics {
	m := &busMetrics{}
	m.redeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace, Subsystem: "bus", Name: "redeliveries_total",
		Help: "Request deliveries returned to the bus for another attempt",
	})
	registry.MustRegister(m.redeliveries)
	return m
}

func (m *busMetrics) IncRedelivery() {
	m.redeliveries.Inc()
}
