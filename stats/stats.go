/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package stats keeps the processing statistics of flows and transactions
// and exposes them as Prometheus metrics on a private registry.
package stats

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

// DefaultNamespace metric namespace used when none is given.
const DefaultNamespace = "mulego"

var _ types.FlowStatistics = (*FlowStatistics)(nil)

// Collector owns the metrics of one Mule context.
//
// Collector 统计收集器
type Collector struct {
	registry       *prometheus.Registry
	received       *prometheus.CounterVec
	processed      *prometheus.CounterVec
	executionError *prometheus.CounterVec
	fatalError     *prometheus.CounterVec
	processingTime *prometheus.HistogramVec
	transactions   *prometheus.CounterVec

	lock  sync.Mutex
	flows map[string]*FlowStatistics
}

// NewCollector creates a collector whose metrics are registered under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_events_received_total",
			Help:      "Total number of events received by a flow.",
		}, []string{"flow"}),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_events_processed_total",
			Help:      "Total number of events a flow processed without error.",
		}, []string{"flow"}),
		executionError: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_execution_errors_total",
			Help:      "Total number of failures handled by the exception strategy of a flow.",
		}, []string{"flow"}),
		fatalError: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_fatal_errors_total",
			Help:      "Total number of fatal failures of a flow.",
		}, []string{"flow"}),
		processingTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_processing_seconds",
			Help:      "Processing time of the events of a flow.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.5, 1, 5, 10,
			},
		}, []string{"flow"}),
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transaction notifications by kind.",
		}, []string{"kind", "xa"}),
		flows: make(map[string]*FlowStatistics),
	}
}

// Registry the private Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Flow returns the statistics of flow, created on first use.
func (c *Collector) Flow(flow string) *FlowStatistics {
	c.lock.Lock()
	defer c.lock.Unlock()
	if s, ok := c.flows[flow]; ok {
		return s
	}
	s := &FlowStatistics{
		flow:           flow,
		enabled:        1,
		received:       c.received.WithLabelValues(flow),
		processed:      c.processed.WithLabelValues(flow),
		executionError: c.executionError.WithLabelValues(flow),
		fatalError:     c.fatalError.WithLabelValues(flow),
		processingTime: c.processingTime.WithLabelValues(flow),
	}
	c.flows[flow] = s
	return s
}

// Flows snapshots of every flow seen so far.
func (c *Collector) Flows() []Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	var out []Snapshot
	for _, s := range c.flows {
		out = append(out, s.Snapshot())
	}
	return out
}

// WatchTransactions counts the notifications of coordinator. The returned function stops it.
func (c *Collector) WatchTransactions(coordinator *transaction.Coordinator) func() {
	return coordinator.AddListener(func(event transaction.Event) {
		xa := "false"
		if event.XA {
			xa = "true"
		}
		c.transactions.WithLabelValues(string(event.Kind), xa).Inc()
	})
}

// Snapshot the counters of a flow at one point in time.
type Snapshot struct {
	Flow                string        `json:"flow"`
	Received            int64         `json:"received"`
	Processed           int64         `json:"processed"`
	ExecutionErrors     int64         `json:"executionErrors"`
	FatalErrors         int64         `json:"fatalErrors"`
	TotalProcessingTime time.Duration `json:"totalProcessingTime"`
	MaxProcessingTime   time.Duration `json:"maxProcessingTime"`
}

// AverageProcessingTime average over the processed events, 0 when none.
func (s Snapshot) AverageProcessingTime() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.TotalProcessingTime / time.Duration(s.Processed)
}

// FlowStatistics the counters of one flow. Counting can be switched off at runtime.
type FlowStatistics struct {
	flow    string
	enabled int32

	receivedCount  int64
	processedCount int64
	errorCount     int64
	fatalCount     int64
	totalTime      int64
	maxTime        int64

	received       prometheus.Counter
	processed      prometheus.Counter
	executionError prometheus.Counter
	fatalError     prometheus.Counter
	processingTime prometheus.Observer
}

func (s *FlowStatistics) IsEnabled() bool {
	return atomic.LoadInt32(&s.enabled) == 1
}

func (s *FlowStatistics) SetEnabled(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&s.enabled, v)
}

func (s *FlowStatistics) IncReceived() {
	if s.IsEnabled() {
		atomic.AddInt64(&s.receivedCount, 1)
		s.received.Inc()
	}
}

func (s *FlowStatistics) IncProcessed() {
	if s.IsEnabled() {
		atomic.AddInt64(&s.processedCount, 1)
		s.processed.Inc()
	}
}

func (s *FlowStatistics) IncExecutionError() {
	if s.IsEnabled() {
		atomic.AddInt64(&s.errorCount, 1)
		s.executionError.Inc()
	}
}

func (s *FlowStatistics) IncFatalError() {
	if s.IsEnabled() {
		atomic.AddInt64(&s.fatalCount, 1)
		s.fatalError.Inc()
	}
}

func (s *FlowStatistics) AddProcessingTime(d time.Duration) {
	if !s.IsEnabled() {
		return
	}
	atomic.AddInt64(&s.totalTime, int64(d))
	for {
		current := atomic.LoadInt64(&s.maxTime)
		if int64(d) <= current || atomic.CompareAndSwapInt64(&s.maxTime, current, int64(d)) {
			break
		}
	}
	s.processingTime.Observe(d.Seconds())
}

// Snapshot reads the counters.
func (s *FlowStatistics) Snapshot() Snapshot {
	return Snapshot{
		Flow:                s.flow,
		Received:            atomic.LoadInt64(&s.receivedCount),
		Processed:           atomic.LoadInt64(&s.processedCount),
		ExecutionErrors:     atomic.LoadInt64(&s.errorCount),
		FatalErrors:         atomic.LoadInt64(&s.fatalCount),
		TotalProcessingTime: time.Duration(atomic.LoadInt64(&s.totalTime)),
		MaxProcessingTime:   time.Duration(atomic.LoadInt64(&s.maxTime)),
	}
}
