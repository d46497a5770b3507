/*
Copyright 2020 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kuryr_lbaas"

type OpenstackPrometheusMetrics struct {
	Duration *prometheus.HistogramVec
	Total    *prometheus.CounterVec
	Errors   *prometheus.CounterVec
}

// MetricContext indicates the context for OpenStack metrics.
type MetricContext struct {
	Start      time.Time
	Attributes []string
}

// NewMetricContext creates a new MetricContext.
func NewMetricContext(resource string, request string) *MetricContext {
	return &MetricContext{
		Start:      time.Now(),
		Attributes: []string{resource + "_" + request},
	}
}

// ObserveRequest records the request latency and counts the errors.
func (mc *MetricContext) ObserveRequest(err error) error {
	return mc.Observe(APIRequestMetrics, err)
}

// ObserveReconcile records the latency of a driver operation and counts the errors.
func (mc *MetricContext) ObserveReconcile(err error) error {
	return mc.Observe(ReconcileMetrics, err)
}

// Observe records the latency and counts the errors into om.
func (mc *MetricContext) Observe(om *OpenstackPrometheusMetrics, err error) error {
	if om == nil {
		return err
	}

	om.Duration.WithLabelValues(mc.Attributes...).Observe(
		time.Since(mc.Start).Seconds())
	om.Total.WithLabelValues(mc.Attributes...).Inc()
	if err != nil {
		om.Errors.WithLabelValues(mc.Attributes...).Inc()
	}
	return err
}

var (
	APIRequestMetrics = &OpenstackPrometheusMetrics{
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "openstack_api_request_duration_seconds",
				Help:      "Latency of an OpenStack API call",
			}, []string{"request"}),
		Total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "openstack_api_requests_total",
				Help:      "Total number of OpenStack API calls",
			}, []string{"request"}),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "openstack_api_request_errors_total",
				Help:      "Total number of errors for an OpenStack API call",
			}, []string{"request"}),
	}

	ReconcileMetrics = &OpenstackPrometheusMetrics{
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Time taken by a load balancer driver operation",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			}, []string{"request"}),
		Total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_total",
				Help:      "Total number of load balancer driver operations",
			}, []string{"request"}),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_errors_total",
				Help:      "Total number of failed load balancer driver operations",
			}, []string{"request"}),
	}
)

var registerMetrics sync.Once

// RegisterMetrics registers the collectors with reg, once per process.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		for _, m := range []*OpenstackPrometheusMetrics{APIRequestMetrics, ReconcileMetrics} {
			reg.MustRegister(m.Duration, m.Total, m.Errors)
		}
	})
}
