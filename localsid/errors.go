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

import "errors"

// Sentinel errors surfaced to the configuration caller. They mirror the
// errno taxonomy of the netlink ABI; build errors wrap exactly one of them
// so callers can map back with errors.Is.
var (
	// ErrInvalid reports a malformed message, missing required attribute or
	// bad flavor geometry. Packet validation failures also resolve to it.
	ErrInvalid = errors.New("invalid argument")
	// ErrNotSupported reports an unknown or forbidden behavior, or an
	// unsupported flavor operation.
	ErrNotSupported = errors.New("operation not supported")
	// ErrNoDevice reports an unresolvable VRF or output device.
	ErrNoDevice = errors.New("no such device")
	// ErrPermission reports that VRF strict mode is unavailable.
	ErrPermission = errors.New("operation not permitted")
	// ErrAddrFamily reports an address family mismatch in a decap behavior.
	ErrAddrFamily = errors.New("address family not supported")
)
