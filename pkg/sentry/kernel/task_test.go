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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/usermem"
)

func TestExitStatus(t *testing.T) {
	tk := newTestKernel(t, Programs{
		"exiter": func(uc UserContext) int32 {
			call(uc, testVector, testExit, 7)
			panic("returned from exit")
		},
		"returner": func(uc UserContext) int32 {
			return 3
		},
	})
	if got := tk.run(t, "exiter"); got != 7 {
		t.Errorf("exiter status = %d, want 7", got)
	}
	if got := tk.run(t, "returner"); got != 3 {
		t.Errorf("returner status = %d, want 3", got)
	}
	if diff := cmp.Diff("exiter: exit(7)\nreturner: exit(3)\n", tk.console.String()); diff != "" {
		t.Errorf("console mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitOnce(t *testing.T) {
	tk := newTestKernel(t, Programs{
		"child": func(uc UserContext) int32 { return 5 },
	})
	pid, err := tk.Execute(nil, "child 5")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := tk.Wait(nil, pid); got != 5 {
		t.Errorf("first Wait = %d, want 5", got)
	}
	if got := tk.Wait(nil, pid); got != -1 {
		t.Errorf("second Wait = %d, want -1", got)
	}
	if got := tk.Wait(nil, pid+100); got != -1 {
		t.Errorf("Wait on a stranger = %d, want -1", got)
	}
}

func TestChildRegisteredBeforeStart(t *testing.T) {
	release := make(chan struct{})
	tk := newTestKernel(t, Programs{
		"blocker": func(uc UserContext) int32 {
			<-release
			return 0
		},
	})
	pid, err := tk.Execute(nil, "blocker")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if tk.Root().Child(pid) == nil {
		t.Errorf("pid %d is not a child of its parent right after Execute", pid)
	}
	if tk.TaskWithID(pid) == nil {
		t.Errorf("pid %d is not live", pid)
	}
	close(release)
	tk.Wait(nil, pid)
	if tk.Root().Child(pid) != nil {
		t.Errorf("pid %d still a child after Wait", pid)
	}
}

func TestLoadFailure(t *testing.T) {
	tk := newTestKernel(t, Programs{
		"good": func(uc UserContext) int32 { return 0 },
	})
	tk.fs.AddFile("noprog", []byte("junk"))
	for _, cmd := range []string{"missing", "noprog arg"} {
		pid, err := tk.Execute(nil, cmd)
		if err != nil {
			t.Fatalf("Execute(%q) failed: %v", cmd, err)
		}
		child := tk.TaskWithID(pid)
		if child != nil && child.WaitLoaded() {
			t.Errorf("%q loaded", cmd)
		}
		if got := tk.Wait(nil, pid); got != -1 {
			t.Errorf("%q status = %d, want -1", cmd, got)
		}
	}
	if _, err := tk.Execute(nil, "   "); !errors.Is(err, kernerr.ENOENT) {
		t.Errorf("Execute of an empty command = %v, want ENOENT", err)
	}
}

func TestProgramsLoader(t *testing.T) {
	p := Programs{"a": func(UserContext) int32 { return 0 }}
	if _, err := p.Load("b", nil); !errors.Is(err, kernerr.ENOEXEC) {
		t.Errorf("Load(b) = %v, want ENOEXEC", err)
	}
	chain := ChainLoader{p, LoaderFunc(func(name string, image []byte) (Entry, error) {
		if string(image) != "script" {
			return nil, kernerr.ENOEXEC
		}
		return func(UserContext) int32 { return 9 }, nil
	})}
	if e, err := chain.Load("a", nil); err != nil || e == nil {
		t.Errorf("chain.Load(a) = %v, %v", e, err)
	}
	e, err := chain.Load("c", []byte("script"))
	if err != nil {
		t.Fatalf("chain.Load(c) failed: %v", err)
	}
	if got := e(nil); got != 9 {
		t.Errorf("chained entry returned %d, want 9", got)
	}
	if _, err := chain.Load("d", nil); !errors.Is(err, kernerr.ENOEXEC) {
		t.Errorf("chain.Load(d) = %v, want ENOEXEC", err)
	}
}

func TestArgumentLayout(t *testing.T) {
	type layout struct {
		RetAddr uint32
		Argv    []string
		Aligned bool
		Null    uint32
	}
	got := make(chan layout, 1)
	tk := newTestKernel(t, Programs{
		"args": func(uc UserContext) int32 {
			mem := uc.Memory()
			sp := uc.StackPointer()
			var l layout
			l.RetAddr, _ = usermem.CopyInUint32(mem, sp)
			argc, _ := usermem.CopyInUint32(mem, sp+4)
			argv, _ := usermem.CopyInUint32(mem, sp+8)
			l.Aligned = sp%4 == 0 && argv%4 == 0
			for i := uint32(0); i < argc; i++ {
				p, _ := usermem.CopyInUint32(mem, hostarch.Addr(argv+4*i))
				s, err := usermem.CopyInString(mem, hostarch.Addr(p))
				if err != nil {
					return -1
				}
				l.Argv = append(l.Argv, s)
			}
			l.Null, _ = usermem.CopyInUint32(mem, hostarch.Addr(argv+4*argc))
			got <- l
			return 0
		},
	})
	if status := tk.run(t, "args  one two\tthree "); status != 0 {
		t.Fatalf("status = %d", status)
	}
	want := layout{Argv: []string{"args", "one", "two", "three"}, Aligned: true}
	if diff := cmp.Diff(want, <-got); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestArgumentsTooLong(t *testing.T) {
	tk := newTestKernel(t, Programs{
		"p": func(UserContext) int32 { return 0 },
	})
	long := make([]byte, maxArgBytes)
	for i := range long {
		long[i] = 'x'
	}
	if got := tk.run(t, "p "+string(long)); got != -1 {
		t.Errorf("status = %d, want -1", got)
	}
}

func TestExecutableDenyWrite(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})
	tk := newTestKernel(t, Programs{
		"prog": func(UserContext) int32 {
			close(running)
			<-release
			return 0
		},
	})
	pid, err := tk.Execute(nil, "prog")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	<-running

	root := tk.Root()
	write := func() int {
		root.LockFS()
		defer root.UnlockFS()
		f := tk.FileSystem().Open("prog")
		defer f.Close()
		return f.Write([]byte("x"))
	}
	if n := write(); n != 0 {
		t.Errorf("write to a running executable = %d, want 0", n)
	}
	close(release)
	tk.Wait(nil, pid)
	if n := write(); n != 1 {
		t.Errorf("write after exit = %d, want 1", n)
	}
	if got := tk.fs.OpenCount("prog"); got != 0 {
		t.Errorf("OpenCount(prog) = %d, want 0", got)
	}
}

func TestFilesClosedOnExit(t *testing.T) {
	open := func(uc UserContext, n int) {
		task := uc.(*Task)
		task.LockFS()
		defer task.UnlockFS()
		for i := 0; i < n; i++ {
			if _, err := task.FDTable().NewFD(task.FileSystem().Open("data")); err != nil {
				panic(err)
			}
		}
	}
	tk := newTestKernel(t, Programs{
		"returns": func(uc UserContext) int32 {
			open(uc, 3)
			return 0
		},
		"exits": func(uc UserContext) int32 {
			open(uc, 2)
			call(uc, testVector, testExit, 1)
			return 0
		},
		"faults": func(uc UserContext) int32 {
			open(uc, 2)
			panic("segmentation fault")
		},
	})
	tk.fs.AddFile("data", []byte("contents"))
	for _, tc := range []struct {
		name   string
		status int32
	}{
		{"returns", 0},
		{"exits", 1},
		{"faults", -1},
	} {
		if got := tk.run(t, tc.name); got != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, got, tc.status)
		}
		if got := tk.fs.OpenCount("data"); got != 0 {
			t.Errorf("%s: OpenCount(data) = %d after exit, want 0", tc.name, got)
		}
	}
	if tk.FSLock.Held() {
		t.Errorf("file system lock held after all tasks exited")
	}
	if n := len(tk.Tasks()); n != 0 {
		t.Errorf("%d tasks live after exit", n)
	}
}

func TestTaskLimit(t *testing.T) {
	release := make(chan struct{})
	tk := &testKernel{Kernel: new(Kernel), fs: memfs.New()}
	tk.fs.AddFile("p", nil)
	if err := tk.Init(InitKernelArgs{
		FileSystem: tk.fs,
		Loader: Programs{"p": func(UserContext) int32 {
			<-release
			return 0
		}},
		SyscallTable: testSyscallTable(),
		MaxTasks:     1,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	pid, err := tk.Execute(nil, "p")
	if err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	if _, err := tk.Execute(nil, "p"); !errors.Is(err, kernerr.EAGAIN) {
		t.Errorf("second Execute = %v, want EAGAIN", err)
	}
	close(release)
	tk.Wait(nil, pid)
	if _, err := tk.Execute(nil, "p"); err != nil {
		t.Errorf("Execute after exit failed: %v", err)
	}
	tk.WaitExited()
}

func TestPowerOff(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})
	reached := false
	tk := newTestKernel(t, Programs{
		"p": func(uc UserContext) int32 {
			close(running)
			<-release
			call(uc, testVector, testAdd, 1, 2)
			reached = true
			return 0
		},
	})
	pid, err := tk.Execute(nil, "p")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	<-running
	tk.PowerOff()
	tk.PowerOff()
	tk.WaitHalted()
	close(release)
	if got := tk.Wait(nil, pid); got != pintos.ExitFailure {
		t.Errorf("status = %d, want -1", got)
	}
	if reached {
		t.Errorf("task returned from a trap after power off")
	}
	if got := tk.console.String(); got != "" {
		t.Errorf("console = %q, want no exit line while halting", got)
	}
	if _, err := tk.Execute(nil, "p"); !errors.Is(err, kernerr.ESRCH) {
		t.Errorf("Execute after PowerOff = %v, want ESRCH", err)
	}
}

func TestChildOfTask(t *testing.T) {
	tk := newTestKernel(t, Programs{
		"parent": func(uc UserContext) int32 {
			task := uc.(*Task)
			pid, err := task.Kernel().Execute(task, "kid")
			if err != nil {
				return -2
			}
			if task.Kernel().Root().Child(pid) != nil {
				return -3
			}
			return int32(call(uc, testVector, testWait, uint32(pid)))
		},
		"kid": func(uc UserContext) int32 { return 42 },
	})
	if got := tk.run(t, "parent"); got != 42 {
		t.Errorf("status = %d, want 42", got)
	}
}

func TestBootID(t *testing.T) {
	tk := newTestKernel(t, nil)
	if tk.BootID() == uuid.Nil {
		t.Errorf("kernel booted without a boot ID")
	}

	want := uuid.New()
	k := new(Kernel)
	if err := k.Init(InitKernelArgs{
		FileSystem:   memfs.New(),
		Loader:       Programs{},
		SyscallTable: testSyscallTable(),
		BootID:       want,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer k.PowerOff()
	if got := k.BootID(); got != want {
		t.Errorf("BootID() = %v, want %v", got, want)
	}
}
