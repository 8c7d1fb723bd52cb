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

import (
	"github.com/gopacket/gopacket"
)

var (
	// LayerTypeSRH is the gopacket layer type of the IPv6 Segment Routing
	// Header (RFC 8754).
	LayerTypeSRH = gopacket.RegisterLayerType(
		1500,
		gopacket.LayerTypeMetadata{
			Name:    "SRH",
			Decoder: gopacket.DecodeFunc(decodeSRH),
		},
	)
	LayerClassSRH gopacket.LayerClass = LayerTypeSRH
)
