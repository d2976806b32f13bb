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

// Package pintos contains the constants and types of the user/kernel ABI:
// the trap vector, system call numbers, reserved descriptors and the memory
// split between user and kernel space.
package pintos

import "fmt"

// SyscallVector is the software interrupt vector used by user programs to
// enter the kernel.
const SyscallVector = 0x30

// PhysBase is the first kernel virtual address. Every address at or above it
// belongs to the kernel.
const PhysBase = 0xc0000000

// Reserved file descriptors.
const (
	// STDIN_FILENO is the keyboard. It may only be read.
	STDIN_FILENO = 0

	// STDOUT_FILENO is the console. It may only be written.
	STDOUT_FILENO = 1

	// FirstFileFD is the first descriptor handed out by open.
	FirstFileFD = 2
)

// ConsoleChunk is the largest buffer passed to the console in one call.
// Larger writes are split so that output from different processes
// interleaves at no finer than this granularity.
const ConsoleChunk = 200

// ExitFailure is the status recorded for a process the kernel terminates,
// e.g. after a bad memory access or an unknown system call.
const ExitFailure = -1

// WordSize is the size of a user stack slot in bytes.
const WordSize = 4

// Sysno is a system call number.
type Sysno uint32

// System call numbers, from lib/syscall-nr.h.
const (
	SYS_HALT Sysno = iota
	SYS_EXIT
	SYS_EXEC
	SYS_WAIT
	SYS_CREATE
	SYS_REMOVE
	SYS_OPEN
	SYS_FILESIZE
	SYS_READ
	SYS_WRITE
	SYS_SEEK
	SYS_TELL
	SYS_CLOSE

	// NumSyscalls is the number of defined system calls.
	NumSyscalls
)

var sysnoNames = [NumSyscalls]string{
	SYS_HALT:     "halt",
	SYS_EXIT:     "exit",
	SYS_EXEC:     "exec",
	SYS_WAIT:     "wait",
	SYS_CREATE:   "create",
	SYS_REMOVE:   "remove",
	SYS_OPEN:     "open",
	SYS_FILESIZE: "filesize",
	SYS_READ:     "read",
	SYS_WRITE:    "write",
	SYS_SEEK:     "seek",
	SYS_TELL:     "tell",
	SYS_CLOSE:    "close",
}

// String implements fmt.Stringer.String.
func (s Sysno) String() string {
	if s < NumSyscalls {
		return sysnoNames[s]
	}
	return fmt.Sprintf("sys_%d", uint32(s))
}

// SysnoByName returns the number of the system call with the given name.
func SysnoByName(name string) (Sysno, bool) {
	for i, n := range sysnoNames {
		if n == name {
			return Sysno(i), true
		}
	}
	return 0, false
}

// SyscallNames returns the names of all system calls in call number order.
func SyscallNames() []string {
	return append([]string(nil), sysnoNames[:]...)
}
