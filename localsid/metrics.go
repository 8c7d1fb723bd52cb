// Copyright 2025 The seg6 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package localsid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics defines the engine metrics, registered with the default registry.
type Metrics struct {
	ProcessedPacketsTotal *prometheus.CounterVec
	BuildStatesTotal      *prometheus.CounterVec
}

// theMetrics is shared by all engines; the behavior label keeps tunnels
// apart well enough and avoids re-registration churn on reconfiguration.
var theMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		ProcessedPacketsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seg6_local_processed_pkts_total",
				Help: "Total number of packets processed by local SID behaviors",
			},
			[]string{"behavior", "disposition"},
		),
		BuildStatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seg6_local_build_states_total",
				Help: "Total number of tunnel state builds",
			},
			[]string{"behavior", "result"},
		),
	}
}

func (m *Metrics) ProcessedPackets(a Action, disposition string) prometheus.Counter {
	return m.ProcessedPacketsTotal.WithLabelValues(a.String(), disposition)
}

func (m *Metrics) BuildStates(a Action, result string) prometheus.Counter {
	return m.BuildStatesTotal.WithLabelValues(a.String(), result)
}
