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

package pintos

import (
	"bytes"
	"testing"

	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/userlib"
)

// machine is a booted kernel with the Pintos system call gate.
type machine struct {
	k        *kernel.Kernel
	fs       *memfs.FileSystem
	out      *bytes.Buffer
	console  *ttydev.Console
	keyboard *ttydev.Keyboard
	progs    kernel.Programs
}

// newMachine boots a kernel running the given programs. Every program gets
// an executable file of its own name.
func newMachine(t *testing.T, progs map[string]func(p *userlib.Proc) int32) *machine {
	t.Helper()
	m := &machine{
		k:        new(kernel.Kernel),
		fs:       memfs.New(),
		out:      new(bytes.Buffer),
		keyboard: ttydev.NewKeyboard(),
		progs:    make(kernel.Programs),
	}
	m.console = ttydev.NewConsole(m.out)
	for name, fn := range progs {
		m.add(t, name, fn)
	}
	if err := m.k.Init(kernel.InitKernelArgs{
		FileSystem:   m.fs,
		Console:      m.console,
		Keyboard:     m.keyboard,
		Loader:       m.progs,
		SyscallTable: Table,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Init(m.k)
	t.Cleanup(func() {
		m.k.PowerOff()
		m.k.WaitExited()
	})
	return m
}

// add installs a program. It must not race with a running exec.
func (m *machine) add(t *testing.T, name string, fn func(p *userlib.Proc) int32) {
	t.Helper()
	if !m.fs.AddFile(name, []byte(name)) {
		t.Fatalf("AddFile(%q) failed", name)
	}
	m.progs[name] = userlib.Main(fn)
}

// run executes cmdline from the kernel task and returns its exit status.
func (m *machine) run(t *testing.T, cmdline string) int32 {
	t.Helper()
	pid, err := m.k.Execute(nil, cmdline)
	if err != nil {
		t.Fatalf("Execute(%q) failed: %v", cmdline, err)
	}
	return m.k.Wait(nil, pid)
}

// output returns everything written to the console so far. Only call it
// when no task is running.
func (m *machine) output() string {
	return m.out.String()
}

// unreachable marks code after a call that must not return.
func unreachable(p *userlib.Proc) int32 {
	p.Printf("unreachable\n")
	return 100
}
