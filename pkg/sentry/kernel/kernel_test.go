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
	"bytes"
	"testing"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Vectors and call numbers used by the test kernel.
const (
	testVector = 0x30

	testExit   = 1
	testAdd    = 2
	testPeek   = 3
	testFail   = 4
	testNoRet  = 5
	testWait   = 6
	testUnused = 99
)

func testSyscallTable() *SyscallTable {
	s := &SyscallTable{
		Name: "kernel-test",
		Table: map[uintptr]Syscall{
			testExit: {
				Name: "exit",
				Args: []arch.ArgKind{arch.ArgInt},
				Fn: func(t *Task, _ uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					t.PrepareExit(args[0].Int())
					return 0, CtrlDoExit, nil
				},
			},
			testAdd: {
				Name: "add",
				Args: []arch.ArgKind{arch.ArgInt, arch.ArgInt},
				Fn: func(t *Task, _ uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return uintptr(args[0].Int() + args[1].Int()), nil, nil
				},
			},
			testPeek: {
				Name: "peek",
				Args: []arch.ArgKind{arch.ArgPointer},
				Fn: func(t *Task, _ uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					v, err := usermem.CopyInUint32(t.Memory(), args[0].Pointer())
					return uintptr(v), nil, err
				},
			},
			testFail: {
				Name: "fail",
				Fn: func(*Task, uintptr, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return 0, nil, kernerr.EIO
				},
			},
			testNoRet: {
				Name: "noret",
				Fn: func(*Task, uintptr, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return 1234, CtrlNoReturnValue, nil
				},
			},
			testWait: {
				Name: "wait",
				Args: []arch.ArgKind{arch.ArgInt},
				Fn: func(t *Task, _ uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return uintptr(t.Wait(ThreadID(args[0].Int()))), nil, nil
				},
			},
		},
	}
	s.Init()
	return s
}

type testKernel struct {
	*Kernel
	fs      *memfs.FileSystem
	console *bytes.Buffer
}

// newTestKernel boots a kernel whose file system holds an executable for
// every program in progs.
func newTestKernel(t *testing.T, progs Programs) *testKernel {
	t.Helper()
	tk := &testKernel{
		Kernel:  new(Kernel),
		fs:      memfs.New(),
		console: new(bytes.Buffer),
	}
	for name := range progs {
		if !tk.fs.AddFile(name, []byte("\x7fELF"+name)) {
			t.Fatalf("AddFile(%q) failed", name)
		}
	}
	if err := tk.Init(InitKernelArgs{
		FileSystem:   tk.fs,
		Console:      ttydev.NewConsole(tk.console),
		Loader:       progs,
		SyscallTable: testSyscallTable(),
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	tk.RegisterInterrupt(testVector, UserDPL, IntrOn, func(t *Task, f *arch.TrapFrame) {
		t.Syscall(f)
	}, "syscall")
	t.Cleanup(func() {
		tk.PowerOff()
		tk.WaitExited()
	})
	return tk
}

// run executes cmdline as a child of the kernel task and returns its exit
// status.
func (tk *testKernel) run(t *testing.T, cmdline string) int32 {
	t.Helper()
	pid, err := tk.Execute(nil, cmdline)
	if err != nil {
		t.Fatalf("Execute(%q) failed: %v", cmdline, err)
	}
	return tk.Wait(nil, pid)
}

// call pushes words below the initial stack pointer and traps through vec.
// It returns eax.
func call(uc UserContext, vec uint8, words ...uint32) uint32 {
	sp := uc.StackPointer() - hostarch.Addr(len(words)*4)
	for i, w := range words {
		if err := usermem.CopyOutUint32(uc.Memory(), sp+hostarch.Addr(i*4), w); err != nil {
			panic(err)
		}
	}
	f := &arch.TrapFrame{Esp: sp}
	uc.Trap(vec, f)
	return f.Eax
}

// trapAt traps through the syscall vector with esp set to sp.
func trapAt(uc UserContext, sp hostarch.Addr) uint32 {
	f := &arch.TrapFrame{Esp: sp}
	uc.Trap(testVector, f)
	return f.Eax
}
