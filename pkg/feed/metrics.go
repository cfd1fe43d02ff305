/*
 * Copyright 2026 LinkScope Contributors.
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

package feed

import "github.com/prometheus/client_golang/prometheus"

const (
	metricNamespace = "linkscope"
	metricSubsystem = "feed"
)

// Failure reason labels for the connect-failures counter.
const (
	reasonProbeUnreachable = "probe_unreachable"
	reasonDialFailed       = "dial_failed"
	reasonStreamClosed     = "stream_closed"
	reasonFetchFailed      = "fetch_failed"
)

// Metrics holds the feed manager's instrumentation. All collectors work
// unregistered, so a nil Registerer simply keeps them process-local.
type Metrics struct {
	ConnectAttempts prometheus.Counter
	ConnectFailures *prometheus.CounterVec
	Snapshots       *prometheus.CounterVec
	ConnectionState prometheus.Gauge
	Devices         prometheus.Gauge
}

// NewMetrics creates the feed metric set and registers it with reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "connect_attempts_total",
			Help:      "Number of stream connection attempts.",
		}),
		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "connect_failures_total",
			Help:      "Number of failed stream connection attempts by reason.",
		}, []string{"reason"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "snapshots_ingested_total",
			Help:      "Number of device snapshots applied by transport.",
		}, []string{"transport"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=probing 2=connecting 3=connected 4=reconnecting 5=fallback).",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "devices",
			Help:      "Device count in the current snapshot.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.ConnectFailures, m.Snapshots, m.ConnectionState, m.Devices)
	}

	return m
}
