// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"
	"runtime"

	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sync"
)

// UserDPL is the descriptor privilege level of user mode. A gate is
// reachable from user mode only if its DPL is UserDPL.
const UserDPL = 3

// NumVectors is the number of interrupt vectors.
const NumVectors = 256

// IntrLevel is the interrupt state a handler runs in.
type IntrLevel int

const (
	// IntrOff handlers run with interrupts disabled: no other IntrOff
	// handler runs at the same time.
	IntrOff IntrLevel = iota

	// IntrOn handlers run with interrupts enabled and may block.
	IntrOn
)

// String implements fmt.Stringer.String.
func (l IntrLevel) String() string {
	if l == IntrOn {
		return "on"
	}
	return "off"
}

// InterruptHandler handles a trap on behalf of t.
type InterruptHandler func(t *Task, f *arch.TrapFrame)

// gate is an interrupt descriptor table entry.
type gate struct {
	dpl     int
	level   IntrLevel
	handler InterruptHandler
	name    string
}

// interruptTable is the kernel's interrupt descriptor table.
type interruptTable struct {
	mu sync.RWMutex

	// +checklocks:mu
	gates [NumVectors]*gate

	// intrOff serializes IntrOff handlers.
	intrOff sync.Mutex
}

// RegisterInterrupt installs handler for vector vec. dpl is the lowest
// privilege allowed to raise it, 3 for user mode. name is used in logs.
// Each vector may be registered once.
func (k *Kernel) RegisterInterrupt(vec uint8, dpl int, level IntrLevel, handler InterruptHandler, name string) {
	if dpl < 0 || dpl > UserDPL {
		panic(fmt.Sprintf("invalid DPL %d for interrupt %#x (%s)", dpl, vec, name))
	}
	k.idt.mu.Lock()
	defer k.idt.mu.Unlock()
	if g := k.idt.gates[vec]; g != nil {
		panic(fmt.Sprintf("interrupt %#x (%s) already registered as %s", vec, name, g.name))
	}
	k.idt.gates[vec] = &gate{dpl: dpl, level: level, handler: handler, name: name}
}

// InterruptName returns the name vec was registered with, or "" if it is
// not registered.
func (k *Kernel) InterruptName(vec uint8) string {
	if g := k.gate(vec); g != nil {
		return g.name
	}
	return ""
}

func (k *Kernel) gate(vec uint8) *gate {
	k.idt.mu.RLock()
	defer k.idt.mu.RUnlock()
	return k.idt.gates[vec]
}

// Trap is the transition from user mode into the kernel through vector
// vec, carrying frame f. It must be called on t's own goroutine.
//
// Trap returns to user mode with f updated, or never returns if the
// process exits during the trap. Trapping into a vector that is not
// registered, or that user mode may not raise, terminates the process.
func (t *Task) Trap(vec uint8, f *arch.TrapFrame) {
	if t.k.Halted() {
		t.forceExit(reasonHalted, "kernel is powering off")
		runtime.Goexit()
	}
	g := t.k.gate(vec)
	switch {
	case g == nil:
		t.forceExit(reasonBadVector, fmt.Sprintf("trap to unregistered vector %#x", vec))
	case g.dpl < UserDPL:
		t.forceExit(reasonBadVector, fmt.Sprintf("trap to privileged vector %#x (%s)", vec, g.name))
	case g.level == IntrOff:
		func() {
			t.k.idt.intrOff.Lock()
			defer t.k.idt.intrOff.Unlock()
			g.handler(t, f)
		}()
	default:
		g.handler(t, f)
	}
	if t.exitRequested {
		runtime.Goexit()
	}
}
