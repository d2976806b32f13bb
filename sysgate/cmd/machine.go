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

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs/memfs"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/sentry/strace"
	"sysgate.dev/sysgate/pkg/sentry/syscalls/pintos"
	"sysgate.dev/sysgate/pkg/userlib"
	"sysgate.dev/sysgate/sysgate/config"
)

// Machine is a booted kernel together with its devices.
type Machine struct {
	Kernel   *kernel.Kernel
	FS       *memfs.FileSystem
	Console  *ttydev.Console
	Keyboard *ttydev.Keyboard

	traced bool
}

// MachineArgs holds the arguments to NewMachine.
type MachineArgs struct {
	// Conf is the sysgate configuration.
	Conf *config.Config

	// Console receives console output.
	Console io.Writer

	// Scripts are installed as executables named after each script.
	Scripts []*userlib.Script

	// Files are installed as data files, by name.
	Files map[string][]byte

	// BootID is passed to the kernel. If zero, the kernel picks one.
	BootID uuid.UUID
}

// NewMachine populates a file system and boots a kernel on it.
func NewMachine(args MachineArgs) (*Machine, error) {
	m := &Machine{
		FS:       memfs.New(),
		Console:  ttydev.NewConsole(args.Console),
		Keyboard: ttydev.NewKeyboard(),
		Kernel:   new(kernel.Kernel),
	}
	for name, data := range args.Files {
		if !m.FS.AddFile(name, data) {
			return nil, fmt.Errorf("invalid file name %q", name)
		}
	}
	for _, s := range args.Scripts {
		image, err := s.Marshal()
		if err != nil {
			return nil, fmt.Errorf("encoding program %q: %w", s.Name, err)
		}
		if !m.FS.AddFile(s.Name, image) {
			return nil, fmt.Errorf("invalid program name %q", s.Name)
		}
	}

	conf := args.Conf
	if err := m.Kernel.Init(kernel.InitKernelArgs{
		FileSystem:   m.FS,
		Console:      m.Console,
		Keyboard:     m.Keyboard,
		Loader:       &userlib.ScriptLoader{},
		SyscallTable: pintos.Table,
		MaxTasks:     conf.MaxTasks,
		DataPages:    conf.DataPages,
		BootID:       args.BootID,
	}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	pintos.Init(m.Kernel)

	if conf.Strace {
		strace.LogMaximumSize = conf.StraceLogSize
		sinks := strace.SinkTypeLog
		if conf.StraceEvent {
			sinks = strace.SinkTypeEvent
		}
		if _, err := strace.Install(pintos.Table, strace.Options{
			Syscalls: conf.StraceSyscallList(),
			Sinks:    sinks,
		}); err != nil {
			m.Shutdown()
			return nil, fmt.Errorf("enabling strace: %w", err)
		}
		m.traced = true
	}
	return m, nil
}

// RunAll executes each command line as a process of its own and waits for
// all of them. It returns their exit statuses in order.
//
// If a command fails to start or ctx is cancelled, the machine is powered
// off, which terminates the remaining processes.
func (m *Machine) RunAll(ctx context.Context, cmdlines []string) ([]int32, error) {
	statuses := make([]int32, len(cmdlines))
	var g errgroup.Group
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.Kernel.PowerOff()
		case <-done:
		case <-m.Kernel.HaltedChan():
		}
	}()

	for i, cmdline := range cmdlines {
		i, cmdline := i, cmdline
		g.Go(func() error {
			pid, err := m.Kernel.Execute(nil, cmdline)
			if err != nil {
				m.Kernel.PowerOff()
				return fmt.Errorf("executing %q: %w", cmdline, err)
			}
			statuses[i] = m.Kernel.Wait(nil, pid)
			log.Infof("Process %d %q exited with status %d", pid, cmdline, statuses[i])
			return nil
		})
	}
	return statuses, g.Wait()
}

// Shutdown powers the machine off and waits for every process to finish.
func (m *Machine) Shutdown() {
	m.Kernel.PowerOff()
	m.Kernel.WaitExited()
	if m.traced {
		strace.Uninstall(pintos.Table)
		m.traced = false
	}
}
