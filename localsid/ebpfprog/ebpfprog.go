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

//go:build linux

// Package ebpfprog resolves End.BPF program file descriptors to loaded eBPF
// programs and runs them against packets.
package ebpfprog

import (
	"bytes"

	"github.com/cilium/ebpf"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// Resolver turns program file descriptors from the configuration into
// running programs. It implements localsid.ProgramResolver.
type Resolver struct{}

// Resolve implements localsid.ProgramResolver. The returned program owns a
// duplicated reference; the caller's descriptor stays valid.
func (Resolver) Resolve(fd int) (localsid.Program, error) {
	prog, err := ebpf.NewProgramFromFD(fd)
	if err != nil {
		return nil, serrors.Wrap("loading program", err, "fd", fd)
	}
	return &program{prog: prog}, nil
}

// program wraps a loaded eBPF program. The slot contract mirrors the kernel:
// a program that rewrites the packet invalidates the published SRH location
// and forces the caller to revalidate.
type program struct {
	prog *ebpf.Program
}

func (p *program) Run(pkt *localsid.Packet, slot *localsid.SRHSlot) (localsid.Verdict, error) {
	in := pkt.Data()
	ret, out, err := p.prog.Test(in)
	if err != nil {
		return localsid.VerdictDrop, serrors.Wrap("running program", err)
	}
	if len(out) != len(in) {
		// The engine's buffers are fixed; a resizing program cannot be
		// honored here.
		return localsid.VerdictDrop, serrors.New("program resized packet",
			"in", len(in), "out", len(out))
	}
	if !bytes.Equal(in, out) {
		copy(in, out)
		slot.Valid = false
	}
	return localsid.Verdict(ret), nil
}

func (p *program) Close() error {
	return p.prog.Close()
}
