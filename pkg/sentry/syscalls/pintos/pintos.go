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

// Package pintos provides the system call table and handlers of the Pintos
// user/kernel ABI.
package pintos

import (
	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/sentry/syscalls"
)

// Argument kinds, abbreviated for the table below.
const (
	ptr = arch.ArgPointer
	i32 = arch.ArgInt
	u32 = arch.ArgUint
)

// Table is the Pintos system call table, numbered as in lib/syscall-nr.h.
var Table = &kernel.SyscallTable{
	Name: "pintos",
	Table: map[uintptr]kernel.Syscall{
		uintptr(pintos.SYS_HALT):     syscalls.Supported("halt", Halt),
		uintptr(pintos.SYS_EXIT):     syscalls.Supported("exit", Exit, i32),
		uintptr(pintos.SYS_EXEC):     syscalls.Supported("exec", Exec, ptr),
		uintptr(pintos.SYS_WAIT):     syscalls.Supported("wait", Wait, i32),
		uintptr(pintos.SYS_CREATE):   syscalls.Supported("create", Create, ptr, u32),
		uintptr(pintos.SYS_REMOVE):   syscalls.Supported("remove", Remove, ptr),
		uintptr(pintos.SYS_OPEN):     syscalls.Supported("open", Open, ptr),
		uintptr(pintos.SYS_FILESIZE): syscalls.Supported("filesize", Filesize, i32),
		uintptr(pintos.SYS_READ):     syscalls.Supported("read", Read, i32, ptr, u32),
		uintptr(pintos.SYS_WRITE):    syscalls.Supported("write", Write, i32, ptr, u32),
		uintptr(pintos.SYS_SEEK):     syscalls.Supported("seek", Seek, i32, u32),
		uintptr(pintos.SYS_TELL):     syscalls.Supported("tell", Tell, i32),
		uintptr(pintos.SYS_CLOSE):    syscalls.Supported("close", Close, i32),
	},
	Missing: func(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
		syscalls.UnimplementedEvent(t, sysno)
		return 0, kernerr.ENOSYS
	},
}

func init() {
	kernel.RegisterSyscallTable(Table)
}

// Init installs the system call gate on k: vector 0x30, reachable from user
// mode, with interrupts on so that calls may block.
func Init(k *kernel.Kernel) {
	k.RegisterInterrupt(pintos.SyscallVector, kernel.UserDPL, kernel.IntrOn, syscallHandler, "syscall")
}

func syscallHandler(t *kernel.Task, f *arch.TrapFrame) {
	t.Syscall(f)
}

// retInt encodes a signed result for eax.
func retInt(v int32) uintptr {
	return uintptr(uint32(v))
}

// retBool encodes a boolean result for eax.
func retBool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

// failed is the -1 returned by calls that report failure in band.
var failed = retInt(-1)
