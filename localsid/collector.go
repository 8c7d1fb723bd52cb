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
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
)

// Tunnel pairs a local SID prefix with its built tunnel state.
type Tunnel struct {
	SID   netip.Prefix
	State *State
}

// TunnelLister provides the counters collector with the live tunnel set.
type TunnelLister interface {
	Tunnels() []Tunnel
}

// CountersCollector exposes the per-tunnel traffic counters of states built
// with the counters attribute. Tunnels without counters are skipped.
type CountersCollector struct {
	lister  TunnelLister
	packets *prometheus.Desc
	bytes   *prometheus.Desc
	errors  *prometheus.Desc
}

// NewCountersCollector creates a collector over the given tunnel set.
func NewCountersCollector(lister TunnelLister) *CountersCollector {
	labels := []string{"sid", "behavior"}
	return &CountersCollector{
		lister: lister,
		packets: prometheus.NewDesc(
			"seg6_local_tunnel_pkts_total",
			"Total packets processed by the tunnel.",
			labels, nil,
		),
		bytes: prometheus.NewDesc(
			"seg6_local_tunnel_bytes_total",
			"Total bytes processed by the tunnel.",
			labels, nil,
		),
		errors: prometheus.NewDesc(
			"seg6_local_tunnel_errors_total",
			"Total packets dropped by the tunnel.",
			labels, nil,
		),
	}
}

func (c *CountersCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.bytes
	ch <- c.errors
}

func (c *CountersCollector) Collect(ch chan<- prometheus.Metric) {
	for _, tun := range c.lister.Tunnels() {
		snap, ok := tun.State.Counters()
		if !ok {
			continue
		}
		sid, behavior := tun.SID.String(), tun.State.Action().String()
		ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue,
			float64(snap.Packets), sid, behavior)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue,
			float64(snap.Bytes), sid, behavior)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue,
			float64(snap.Errors), sid, behavior)
	}
}
