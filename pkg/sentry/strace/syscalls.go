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

package strace

import (
	"fmt"

	"sysgate.dev/sysgate/pkg/abi/pintos"
)

// FormatSpecifier values describe how an individual syscall argument should be
// formatted.
type FormatSpecifier int

// Valid FormatSpecifiers.
//
// Unless otherwise specified, values are formatted before syscall execution
// and not updated after syscall execution (the same value is output).
const (
	// Int is a signed decimal number.
	Int FormatSpecifier = iota

	// Hex is just a hexadecimal number.
	Hex

	// FD is a file descriptor.
	FD

	// Path is a pointer to a NUL-terminated file name.
	Path

	// CmdLine is a pointer to a NUL-terminated command line.
	CmdLine

	// ReadBuffer is a buffer for a read-style call. The syscall return
	// value is used for the length.
	//
	// Formatted after syscall execution.
	ReadBuffer

	// WriteBuffer is a buffer for a write-style call. The following arg is
	// used for the length.
	//
	// Contents omitted after syscall execution.
	WriteBuffer

	// Size is an unsigned byte count or offset.
	Size
)

// defaultFormat is the syscall argument format to use if the actual format is
// not known.
var defaultFormat = []FormatSpecifier{Hex, Hex, Hex}

// SyscallInfo captures the name and printing format of a syscall.
type SyscallInfo struct {
	// name is the name of the syscall.
	name string

	// format contains the format specifiers for each argument.
	format []FormatSpecifier

	// noReturn is set for calls that never return to the caller.
	noReturn bool
}

// makeSyscallInfo returns a SyscallInfo for a syscall.
func makeSyscallInfo(name string, f ...FormatSpecifier) SyscallInfo {
	return SyscallInfo{name: name, format: f}
}

// Name returns the syscall name.
func (s SyscallInfo) Name() string {
	return s.name
}

// SyscallMap maps syscalls into names and printing formats.
type SyscallMap map[uintptr]SyscallInfo

// Pintos is the SyscallMap for the Pintos system call interface.
var Pintos = SyscallMap{
	uintptr(pintos.SYS_HALT):     {name: "halt", noReturn: true},
	uintptr(pintos.SYS_EXIT):     {name: "exit", format: []FormatSpecifier{Int}, noReturn: true},
	uintptr(pintos.SYS_EXEC):     makeSyscallInfo("exec", CmdLine),
	uintptr(pintos.SYS_WAIT):     makeSyscallInfo("wait", Int),
	uintptr(pintos.SYS_CREATE):   makeSyscallInfo("create", Path, Size),
	uintptr(pintos.SYS_REMOVE):   makeSyscallInfo("remove", Path),
	uintptr(pintos.SYS_OPEN):     makeSyscallInfo("open", Path),
	uintptr(pintos.SYS_FILESIZE): makeSyscallInfo("filesize", FD),
	uintptr(pintos.SYS_READ):     makeSyscallInfo("read", FD, ReadBuffer, Size),
	uintptr(pintos.SYS_WRITE):    makeSyscallInfo("write", FD, WriteBuffer, Size),
	uintptr(pintos.SYS_SEEK):     makeSyscallInfo("seek", FD, Size),
	uintptr(pintos.SYS_TELL):     makeSyscallInfo("tell", FD),
	uintptr(pintos.SYS_CLOSE):    makeSyscallInfo("close", FD),
}

// Info returns the SyscallInfo for sysno. Unknown numbers get a generic
// entry that prints every argument in hex.
func (s SyscallMap) Info(sysno uintptr) SyscallInfo {
	if info, ok := s[sysno]; ok {
		return info
	}
	return SyscallInfo{name: fmt.Sprintf("sys_%d", sysno), format: defaultFormat}
}

// ConvertToSysno converts a syscall name to its number.
func (s SyscallMap) ConvertToSysno(name string) (uintptr, error) {
	for no, info := range s {
		if info.name == name {
			return no, nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found", name)
}
