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

// Package syscalls is the interface from the application to the kernel.
// Traditionally, syscalls is the interface that is used by applications to
// request services from the kernel of an operating system. The tables in
// the subpackages map call numbers to the implementations here and describe
// the layout of each call's arguments on the user stack.
//
// Note that the stubs in this package may merely provide the interface, not
// the actual implementation. It just makes writing syscall tables
// straightforward.
package syscalls

import (
	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
)

// Supported returns a table entry for a call implemented by fn, whose
// arguments are described by args.
func Supported(name string, fn kernel.SyscallFn, args ...arch.ArgKind) kernel.Syscall {
	return kernel.Syscall{
		Name: name,
		Fn:   fn,
		Args: args,
	}
}

// UnimplementedEvent emits an UnimplementedSyscall event via the event
// channel.
func UnimplementedEvent(t *kernel.Task, sysno uintptr) {
	eventchannel.EmitEvent("UnimplementedSyscall", map[string]any{
		"pid":   int64(t.ThreadID()),
		"name":  t.Name(),
		"sysno": int64(sysno),
	})
}
