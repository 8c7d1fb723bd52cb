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

package slayers

// Ones-complement checksum arithmetic. Running packet checksums are kept as
// folded 16-bit sums; headers removed or added in place are subtracted from
// or combined into the running sum. Block offsets must stay 2-byte aligned
// across edits for the deltas to be valid.

// Checksum returns the folded ones-complement sum of b. An odd trailing byte
// is padded with zero.
func Checksum(b []byte) uint16 {
	var sum uint32
	for len(b) >= 2 {
		sum += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// ChecksumCombine adds two folded checksums.
func ChecksumCombine(a, b uint16) uint16 {
	s := uint32(a) + uint32(b)
	return uint16((s & 0xffff) + (s >> 16))
}

// ChecksumSub removes a folded partial sum b from the running sum a.
func ChecksumSub(a, b uint16) uint16 {
	return ChecksumCombine(a, ^b)
}
