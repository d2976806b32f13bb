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

// Package strace implements the logic to print out the input and the return
// value of each traced syscall.
package strace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/usermem"
)

// DefaultLogMaximumSize is the default LogMaximumSize.
const DefaultLogMaximumSize = 1024

// LogMaximumSize determines the maximum display size for data blobs (read,
// write, etc.).
var LogMaximumSize uint = DefaultLogMaximumSize

// SinkType defines where to send straces to.
type SinkType uint32

// The allowed sink types.
const (
	// SinkTypeLog sends straces to text log.
	SinkTypeLog SinkType = 1 << iota

	// SinkTypeEvent sends strace to event log.
	SinkTypeEvent
)

// Options configures a Tracer.
type Options struct {
	// Syscalls names the calls to trace. Empty means all of them.
	Syscalls []string

	// Sinks selects the outputs. Zero means SinkTypeLog.
	Sinks SinkType

	// Logger receives SinkTypeLog output. If nil, the traced task's own
	// logger is used.
	Logger log.Logger
}

// Tracer is a kernel.Stracer that formats calls with a SyscallMap.
type Tracer struct {
	syscalls SyscallMap
	logger   log.Logger
	sinks    SinkType

	mu sync.RWMutex
	// enabled is the set of traced calls. nil traces everything.
	// +checklocks:mu
	enabled map[uintptr]bool
}

var _ kernel.Stracer = (*Tracer)(nil)

// New returns a Tracer for the calls in m.
func New(m SyscallMap, opts Options) (*Tracer, error) {
	tr := &Tracer{
		syscalls: m,
		logger:   opts.Logger,
		sinks:    opts.Sinks,
	}
	if tr.sinks == 0 {
		tr.sinks = SinkTypeLog
	}
	if len(opts.Syscalls) > 0 {
		if err := tr.Enable(opts.Syscalls); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// Enable restricts tracing to the named calls.
func (tr *Tracer) Enable(names []string) error {
	enabled := make(map[uintptr]bool, len(names))
	for _, name := range names {
		no, err := tr.syscalls.ConvertToSysno(name)
		if err != nil {
			return err
		}
		enabled[no] = true
	}
	tr.mu.Lock()
	tr.enabled = enabled
	tr.mu.Unlock()
	return nil
}

func (tr *Tracer) traced(sysno uintptr) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.enabled == nil || tr.enabled[sysno]
}

// Install creates a Tracer for the Pintos calls and attaches it to table.
func Install(table *kernel.SyscallTable, opts Options) (*Tracer, error) {
	tr, err := New(Pintos, opts)
	if err != nil {
		return nil, err
	}
	table.SetStracer(tr)
	return tr, nil
}

// Uninstall detaches any tracer from table.
func Uninstall(table *kernel.SyscallTable) {
	table.SetStracer(nil)
}

// syscallContext is the private data passed from SyscallEnter to
// SyscallExit.
type syscallContext struct {
	info   SyscallInfo
	args   arch.SyscallArguments
	output []string
	start  time.Time
}

// SyscallEnter implements kernel.Stracer.SyscallEnter.
func (tr *Tracer) SyscallEnter(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) any {
	if !tr.traced(sysno) {
		return nil
	}
	info := tr.syscalls.Info(sysno)
	c := &syscallContext{
		info:   info,
		args:   args,
		output: pre(t, info, args),
		start:  time.Now(),
	}
	tr.emit(t, "enter", fmt.Sprintf("E %s(%s)", info.name, strings.Join(c.output, ", ")), map[string]any{
		"name": info.name,
		"args": strings.Join(c.output, ", "),
	})
	return c
}

// SyscallExit implements kernel.Stracer.SyscallExit.
func (tr *Tracer) SyscallExit(context any, t *kernel.Task, sysno, rval uintptr, err error) {
	c, ok := context.(*syscallContext)
	if !ok || c == nil {
		return
	}
	post(t, c, rval)
	elapsed := time.Since(c.start)
	args := strings.Join(c.output, ", ")
	var ret string
	switch {
	case err != nil:
		ret = fmt.Sprintf("? (%v)", err)
	case c.info.noReturn:
		ret = "?"
	default:
		ret = fmt.Sprintf("%d", int32(rval))
	}
	tr.emit(t, "exit", fmt.Sprintf("X %s(%s) = %s (%v)", c.info.name, args, ret, elapsed), map[string]any{
		"name":    c.info.name,
		"args":    args,
		"rval":    ret,
		"elapsed": elapsed.String(),
	})
}

func (tr *Tracer) emit(t *kernel.Task, phase, line string, fields map[string]any) {
	if tr.sinks&SinkTypeLog != 0 {
		l := tr.logger
		if l == nil {
			l = t
		}
		l.Infof("%s", line)
	}
	if tr.sinks&SinkTypeEvent != 0 {
		fields["tid"] = int64(t.ThreadID())
		fields["task"] = t.Name()
		fields["phase"] = phase
		eventchannel.EmitEvent("Strace", fields)
	}
}

// pre formats the arguments before the call runs.
func pre(t *kernel.Task, info SyscallInfo, args arch.SyscallArguments) []string {
	output := make([]string, 0, len(info.format))
	for i, f := range info.format {
		a := args[i]
		switch f {
		case Int:
			output = append(output, fmt.Sprintf("%d", a.Int()))
		case FD:
			output = append(output, fd(a.Int()))
		case Path, CmdLine:
			output = append(output, path(t, a.Pointer()))
		case WriteBuffer:
			output = append(output, dump(t, a.Pointer(), uint64(args[i+1].Uint())))
		case Size:
			output = append(output, fmt.Sprintf("%d", a.Uint()))
		default:
			output = append(output, a.Pointer().String())
		}
	}
	return output
}

// post updates the arguments that are only meaningful after the call.
func post(t *kernel.Task, c *syscallContext, rval uintptr) {
	for i, f := range c.info.format {
		if f != ReadBuffer {
			continue
		}
		if n := int32(rval); n > 0 {
			c.output[i] = dump(t, c.args[i].Pointer(), uint64(n))
		}
	}
}

func fd(v int32) string {
	switch v {
	case 0:
		return "0 (stdin)"
	case 1:
		return "1 (stdout)"
	default:
		return fmt.Sprintf("%d", v)
	}
}

func path(t *kernel.Task, addr hostarch.Addr) string {
	s, err := usermem.CopyInString(t.Memory(), addr)
	if err != nil {
		return fmt.Sprintf("%s (error decoding path: %v)", addr, err)
	}
	return fmt.Sprintf("%s %q", addr, s)
}

func dump(t *kernel.Task, addr hostarch.Addr, size uint64) string {
	orig := size
	if size > uint64(LogMaximumSize) {
		size = uint64(LogMaximumSize)
	}
	b := make([]byte, size)
	if err := usermem.CopyInBytes(t.Memory(), addr, b); err != nil {
		return fmt.Sprintf("%s (error decoding string: %v)", addr, err)
	}
	var dot string
	if orig > size {
		dot = "..."
	}
	return fmt.Sprintf("%s %q%s", addr, b, dot)
}
