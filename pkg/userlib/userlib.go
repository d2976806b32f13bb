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

// Package userlib is the user side of the system call ABI: a process view
// of the machine and typed stubs that lay out each call on the user stack
// and trap into the kernel, as a C library would.
package userlib

import (
	"fmt"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/usermem"
)

// frameReserve is the space left below the entry stack pointer before
// system call frames are built, standing in for main's locals.
const frameReserve = 64

// Proc is a running user program's handle on its machine.
type Proc struct {
	uc kernel.UserContext

	// sp is where system call frames are pushed.
	sp hostarch.Addr

	// brk is the next free byte of the data segment.
	brk hostarch.Addr
}

// New returns a Proc for the program running in uc.
func New(uc kernel.UserContext) *Proc {
	return &Proc{
		uc:  uc,
		sp:  uc.StackPointer() - frameReserve,
		brk: uc.DataSegment().Start,
	}
}

// Context returns the underlying user context.
func (p *Proc) Context() kernel.UserContext {
	return p.uc
}

// Args returns argv as laid out on the stack at entry.
func (p *Proc) Args() []string {
	mem := p.uc.Memory()
	sp := p.uc.StackPointer()
	argc := p.MustLoadWord(sp + 4)
	argv := hostarch.Addr(p.MustLoadWord(sp + 8))
	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		s, err := usermem.CopyInString(mem, hostarch.Addr(p.MustLoadWord(argv+hostarch.Addr(4*i))))
		if err != nil {
			panic(fmt.Sprintf("argv[%d]: %v", i, err))
		}
		args = append(args, s)
	}
	return args
}

// Alloc reserves n bytes of the data segment, word aligned, and returns
// their address. It panics when the segment is full, as a program would
// crash when out of memory.
func (p *Proc) Alloc(n int) hostarch.Addr {
	addr := p.brk
	end, ok := addr.AddLength(uint64(n))
	if !ok || end > p.uc.DataSegment().End {
		panic(fmt.Sprintf("out of data memory allocating %d bytes", n))
	}
	p.brk = (end + pintos.WordSize - 1) &^ (pintos.WordSize - 1)
	return addr
}

// Reset frees everything allocated with Alloc.
func (p *Proc) Reset() {
	p.brk = p.uc.DataSegment().Start
}

// Bytes copies b into fresh data memory and returns its address.
func (p *Proc) Bytes(b []byte) hostarch.Addr {
	addr := p.Alloc(len(b))
	p.MustStore(addr, b)
	return addr
}

// CString copies s and a terminating NUL into fresh data memory and returns
// its address.
func (p *Proc) CString(s string) hostarch.Addr {
	return p.Bytes(append([]byte(s), 0))
}

// MustStore writes b at addr, panicking on a fault.
func (p *Proc) MustStore(addr hostarch.Addr, b []byte) {
	if _, err := p.uc.Memory().CopyOut(addr, b); err != nil {
		panic(fmt.Sprintf("store to %v: %v", addr, err))
	}
}

// MustLoad reads n bytes at addr, panicking on a fault.
func (p *Proc) MustLoad(addr hostarch.Addr, n int) []byte {
	b := make([]byte, n)
	if _, err := p.uc.Memory().CopyIn(addr, b); err != nil {
		panic(fmt.Sprintf("load from %v: %v", addr, err))
	}
	return b
}

// MustLoadWord reads the word at addr, panicking on a fault.
func (p *Proc) MustLoadWord(addr hostarch.Addr) uint32 {
	return usermem.ByteOrder.Uint32(p.MustLoad(addr, 4))
}

// Raw pushes words as a system call frame, the first word at the new stack
// pointer, traps, and returns eax. The words need not form a valid call.
func (p *Proc) Raw(words ...uint32) uint32 {
	esp := p.sp - hostarch.Addr(len(words)*pintos.WordSize)
	b := make([]byte, len(words)*pintos.WordSize)
	for i, w := range words {
		usermem.ByteOrder.PutUint32(b[i*pintos.WordSize:], w)
	}
	p.MustStore(esp, b)
	return p.TrapAt(esp)
}

// TrapAt raises the system call vector with esp set to the given address,
// which need not be valid.
func (p *Proc) TrapAt(esp hostarch.Addr) uint32 {
	f := &arch.TrapFrame{Esp: esp}
	p.uc.Trap(pintos.SyscallVector, f)
	return f.Eax
}

// Syscall makes system call no with the given arguments.
func (p *Proc) Syscall(no pintos.Sysno, args ...uint32) uint32 {
	return p.Raw(append([]uint32{uint32(no)}, args...)...)
}

// Halt powers off the machine. It does not return.
func (p *Proc) Halt() {
	p.Syscall(pintos.SYS_HALT)
	panic("halt returned")
}

// Exit terminates the process with status. It does not return.
func (p *Proc) Exit(status int32) {
	p.Syscall(pintos.SYS_EXIT, uint32(status))
	panic("exit returned")
}

// Exec starts cmdline and returns its process ID, or -1.
func (p *Proc) Exec(cmdline string) int32 {
	return int32(p.Syscall(pintos.SYS_EXEC, uint32(p.CString(cmdline))))
}

// Wait waits for child pid and returns its exit status.
func (p *Proc) Wait(pid int32) int32 {
	return int32(p.Syscall(pintos.SYS_WAIT, uint32(pid)))
}

// Create creates a file of the given size.
func (p *Proc) Create(name string, size uint32) bool {
	return p.Syscall(pintos.SYS_CREATE, uint32(p.CString(name)), size) != 0
}

// Remove deletes a file.
func (p *Proc) Remove(name string) bool {
	return p.Syscall(pintos.SYS_REMOVE, uint32(p.CString(name))) != 0
}

// Open opens a file and returns its descriptor, or -1.
func (p *Proc) Open(name string) int32 {
	return int32(p.Syscall(pintos.SYS_OPEN, uint32(p.CString(name))))
}

// Filesize returns the size of the file open as fd.
func (p *Proc) Filesize(fd int32) int32 {
	return int32(p.Syscall(pintos.SYS_FILESIZE, uint32(fd)))
}

// Read reads up to n bytes from fd into buf.
func (p *Proc) Read(fd int32, buf hostarch.Addr, n uint32) int32 {
	return int32(p.Syscall(pintos.SYS_READ, uint32(fd), uint32(buf), n))
}

// Write writes n bytes at buf to fd.
func (p *Proc) Write(fd int32, buf hostarch.Addr, n uint32) int32 {
	return int32(p.Syscall(pintos.SYS_WRITE, uint32(fd), uint32(buf), n))
}

// Seek sets the position of fd.
func (p *Proc) Seek(fd int32, pos uint32) {
	p.Syscall(pintos.SYS_SEEK, uint32(fd), pos)
}

// Tell returns the position of fd.
func (p *Proc) Tell(fd int32) uint32 {
	return p.Syscall(pintos.SYS_TELL, uint32(fd))
}

// Close closes fd.
func (p *Proc) Close(fd int32) {
	p.Syscall(pintos.SYS_CLOSE, uint32(fd))
}

// WriteString writes s to fd from fresh data memory.
func (p *Proc) WriteString(fd int32, s string) int32 {
	return p.Write(fd, p.Bytes([]byte(s)), uint32(len(s)))
}

// ReadBytes reads up to n bytes from fd and returns what was read, or nil
// if the read failed.
func (p *Proc) ReadBytes(fd int32, n uint32) []byte {
	buf := p.Alloc(int(n))
	got := p.Read(fd, buf, n)
	if got < 0 {
		return nil
	}
	return p.MustLoad(buf, int(got))
}

// Printf formats to the console.
func (p *Proc) Printf(format string, v ...any) {
	p.WriteString(pintos.STDOUT_FILENO, fmt.Sprintf(format, v...))
}

// Main adapts a function taking a Proc to a kernel.Entry.
func Main(fn func(p *Proc) int32) kernel.Entry {
	return func(uc kernel.UserContext) int32 {
		return fn(New(uc))
	}
}
