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
	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/metric"
)

// Reasons a process is terminated by the kernel.
const (
	reasonBadPointer     = "bad_pointer"
	reasonUnknownSyscall = "unknown_syscall"
	reasonBadVector      = "bad_vector"
	reasonHalted         = "halted"
	reasonFault          = "fault"
)

var (
	syscallCounter = metric.MustCreateNewUint64Metric("/syscalls/count",
		"Number of system calls dispatched, by name.",
		metric.NewField("name", pintos.SyscallNames()))

	badPointerKills = metric.MustCreateNewUint64Metric("/syscalls/bad_pointer_kills",
		"Number of processes terminated for passing an invalid user pointer.")

	unknownSyscalls = metric.MustCreateNewUint64Metric("/syscalls/unknown",
		"Number of calls to undefined system call numbers.")

	fsLockAcquisitions = metric.MustCreateNewUint64Metric("/fs/lock_acquisitions",
		"Number of times the file system lock was acquired.")

	forcedExits = metric.MustCreateNewUint64Metric("/kernel/forced_exits",
		"Number of processes terminated by the kernel, by reason.",
		metric.NewField("reason", []string{reasonBadPointer, reasonUnknownSyscall, reasonBadVector, reasonHalted, reasonFault}))

	countedSyscalls = func() map[string]bool {
		m := make(map[string]bool)
		for _, n := range pintos.SyscallNames() {
			m[n] = true
		}
		return m
	}()
)

// countSyscall increments the per-call counter for name.
func countSyscall(name string) {
	if countedSyscalls[name] {
		syscallCounter.Increment(name)
	}
}

// SyscallCount returns how many times the named system call has been
// dispatched by any kernel in this process.
func SyscallCount(name string) uint64 {
	if !countedSyscalls[name] {
		return 0
	}
	return syscallCounter.Value(name)
}

// BadPointerKills returns the number of processes killed for bad pointers.
func BadPointerKills() uint64 {
	return badPointerKills.Value()
}

// FSLockAcquisitions returns the number of FS lock acquisitions.
func FSLockAcquisitions() uint64 {
	return fsLockAcquisitions.Value()
}
