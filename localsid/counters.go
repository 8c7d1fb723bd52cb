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
	"sync/atomic"
)

// counterCell is one per-processor counter slot. The cells are padded to a
// cache line so concurrent processors never share one. Writers are
// single-threaded per cell; readers snapshot through the sequence counter.
// The counter fields use atomic accesses so concurrent snapshot readers
// never race the writer; the seqcount-retry still provides the consistent
// three-field view.
type counterCell struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
	seq     atomic.Uint64
	_       [32]byte
}

// CounterSnapshot is an aggregated view over all processor cells.
type CounterSnapshot struct {
	Packets uint64
	Bytes   uint64
	Errors  uint64
}

// newCounterCells allocates one cell per processor.
func newCounterCells(n int) []counterCell {
	if n < 1 {
		n = 1
	}
	return make([]counterCell, n)
}

// addOK records a successfully processed packet of the given wire length.
func (c *counterCell) addOK(pktLen int) {
	c.seq.Add(1)
	c.packets.Store(c.packets.Load() + 1)
	c.bytes.Store(c.bytes.Load() + uint64(pktLen))
	c.seq.Add(1)
}

// addError records a packet dropped by the behavior. Only the error counter
// moves; packets and bytes account successful traffic.
func (c *counterCell) addError() {
	c.seq.Add(1)
	c.errors.Store(c.errors.Load() + 1)
	c.seq.Add(1)
}

// read retries until it observes the cell outside a write section.
func (c *counterCell) read() CounterSnapshot {
	for {
		seq := c.seq.Load()
		if seq&1 != 0 {
			continue
		}
		snap := CounterSnapshot{
			Packets: c.packets.Load(),
			Bytes:   c.bytes.Load(),
			Errors:  c.errors.Load(),
		}
		if c.seq.Load() == seq {
			return snap
		}
	}
}

// Counters sums the per-processor cells. It returns the zero snapshot and
// false when counters were not enabled for this tunnel.
func (s *State) Counters() (CounterSnapshot, bool) {
	if s.counters == nil {
		return CounterSnapshot{}, false
	}
	var total CounterSnapshot
	for i := range s.counters {
		snap := s.counters[i].read()
		total.Packets += snap.Packets
		total.Bytes += snap.Bytes
		total.Errors += snap.Errors
	}
	return total, true
}
