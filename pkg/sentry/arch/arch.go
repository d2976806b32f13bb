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

// Package arch describes the register state of a user program at a system
// call trap, and how system call arguments are laid out.
package arch

import (
	"fmt"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/hostarch"
)

// TrapFrame is the part of the interrupted user context that the system
// call boundary reads and writes.
type TrapFrame struct {
	// Esp is the user stack pointer at the time of the trap. The call
	// number is the word at Esp; argument i is the word at Esp+4*i.
	Esp hostarch.Addr

	// Eax receives the return value.
	Eax uint32
}

// SetReturn stores a return value in the frame.
func (f *TrapFrame) SetReturn(v uintptr) {
	f.Eax = uint32(v)
}

// Return returns the value stored by SetReturn.
func (f *TrapFrame) Return() uintptr {
	return uintptr(f.Eax)
}

// ArgAddr returns the address of stack word i, where word 0 is the call
// number. ok is false if the address computation wraps.
func (f *TrapFrame) ArgAddr(i int) (hostarch.Addr, bool) {
	return f.Esp.AddLength(uint64(i) * pintos.WordSize)
}

// String implements fmt.Stringer.String.
func (f *TrapFrame) String() string {
	return fmt.Sprintf("esp=%v eax=%#x", f.Esp, f.Eax)
}

// ArgKind describes how an untyped argument word is interpreted.
type ArgKind int

const (
	// ArgInt is a signed 32-bit integer, such as a status or descriptor.
	ArgInt ArgKind = iota

	// ArgUint is an unsigned 32-bit integer, such as a size or offset.
	ArgUint

	// ArgPointer is a user address. The decoder checks that the address
	// itself is valid; checking what it points to is up to the call.
	ArgPointer
)

// String implements fmt.Stringer.String.
func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "int"
	case ArgUint:
		return "unsigned"
	case ArgPointer:
		return "pointer"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// MaxSyscallArgs is the largest number of arguments any call takes.
const MaxSyscallArgs = 3

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the C type name and
// they convert to the closest Go type available.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [MaxSyscallArgs]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Format renders the argument according to kind.
func (a SyscallArgument) Format(kind ArgKind) string {
	switch kind {
	case ArgInt:
		return fmt.Sprintf("%d", a.Int())
	case ArgUint:
		return fmt.Sprintf("%d", a.Uint())
	default:
		return a.Pointer().String()
	}
}
