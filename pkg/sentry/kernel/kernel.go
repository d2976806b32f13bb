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

// Package kernel provides an emulation of the process side of a small
// teaching kernel: tasks with their own address spaces and descriptor
// tables, the interrupt descriptor table through which user code traps into
// the kernel, and the table-driven system call dispatcher.
//
// Lock order:
//
//	Kernel.mu
//	  Task.childrenMu
//
//	FSLock is a leaf and is never held while blocking.
package kernel

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/devices/ttydev"
	"sysgate.dev/sysgate/pkg/sentry/fs"
	"sysgate.dev/sysgate/pkg/sync"
)

// Kernel represents an emulated kernel. It must be initialized by calling
// Init.
type Kernel struct {
	// The following fields are immutable after Init.
	rawFS     fs.FileSystem
	fs        *checkedFileSystem
	console   *ttydev.Console
	keyboard  *ttydev.Keyboard
	loader    Loader
	syscalls  *SyscallTable
	maxTasks  int
	dataPages int
	bootID    uuid.UUID

	// root is the kernel's own task. It parents processes started with a
	// nil parent and is never scheduled.
	root *Task

	// FSLock serializes all file system access.
	FSLock FSLock

	idt interruptTable

	mu sync.Mutex

	// tasks holds live tasks by thread ID.
	//
	// +checklocks:mu
	tasks map[ThreadID]*Task

	// +checklocks:mu
	nextTID ThreadID

	// taskWG tracks running task goroutines.
	taskWG sync.WaitGroup

	halting  atomic.Bool
	haltOnce sync.Once
	halted   sync.OneShot
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// FileSystem is the root file system. Required.
	FileSystem fs.FileSystem

	// Console receives process output. If nil, output is discarded.
	Console *ttydev.Console

	// Keyboard supplies process input. If nil, the keyboard is closed and
	// reads return zero bytes.
	Keyboard *ttydev.Keyboard

	// Loader turns executables into programs. Required.
	Loader Loader

	// SyscallTable is the system call table. Required.
	SyscallTable *SyscallTable

	// MaxTasks is the maximum number of live tasks. Zero means
	// TasksLimit.
	MaxTasks int

	// DataPages is the size of each process's data segment. Zero means
	// DefaultDataPages.
	DataPages int

	// BootID identifies this boot in logs and events. If zero, a random
	// one is generated.
	BootID uuid.UUID
}

// Init initializes the Kernel with no tasks.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.FileSystem == nil {
		return fmt.Errorf("FileSystem is nil")
	}
	if args.Loader == nil {
		return fmt.Errorf("Loader is nil")
	}
	if args.SyscallTable == nil {
		return fmt.Errorf("SyscallTable is nil")
	}
	k.rawFS = args.FileSystem
	k.fs = &checkedFileSystem{fs: args.FileSystem, lock: &k.FSLock}
	k.console = args.Console
	if k.console == nil {
		k.console = ttydev.NewConsole(io.Discard)
	}
	k.keyboard = args.Keyboard
	if k.keyboard == nil {
		k.keyboard = ttydev.NewKeyboard()
		k.keyboard.Close()
	}
	k.loader = args.Loader
	k.syscalls = args.SyscallTable
	k.maxTasks = args.MaxTasks
	if k.maxTasks <= 0 {
		k.maxTasks = TasksLimit
	}
	k.dataPages = args.DataPages
	if k.dataPages <= 0 {
		k.dataPages = DefaultDataPages
	}
	k.bootID = args.BootID
	if k.bootID == uuid.Nil {
		k.bootID = uuid.New()
	}
	k.tasks = make(map[ThreadID]*Task)
	k.nextTID = InitTID
	k.root = &Task{
		k:        k,
		tid:      KernelTID,
		name:     "kernel",
		children: make(map[ThreadID]*Task),
	}
	log.Infof("Booting kernel %s with syscall table %q", k.bootID, k.syscalls.Name)
	return nil
}

// FileSystem returns the kernel's file system. Every method of the returned
// FileSystem, and of the files it opens, panics unless k.FSLock is held.
func (k *Kernel) FileSystem() fs.FileSystem {
	return k.fs
}

// Console returns the console device.
func (k *Kernel) Console() *ttydev.Console {
	return k.console
}

// Keyboard returns the keyboard device.
func (k *Kernel) Keyboard() *ttydev.Keyboard {
	return k.keyboard
}

// SyscallTable returns the kernel's system call table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// BootID returns the identifier of this boot.
func (k *Kernel) BootID() uuid.UUID {
	return k.bootID
}

// Root returns the kernel task, the parent of processes started without one.
func (k *Kernel) Root() *Task {
	return k.root
}

// TaskWithID returns the live task with the given ID, or nil.
func (k *Kernel) TaskWithID(tid ThreadID) *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[tid]
}

// Tasks returns the live tasks, ordered by thread ID.
func (k *Kernel) Tasks() []*Task {
	k.mu.Lock()
	ts := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		ts = append(ts, t)
	}
	k.mu.Unlock()
	sort.Slice(ts, func(i, j int) bool { return ts[i].tid < ts[j].tid })
	return ts
}

// PowerOff stops the kernel. Running tasks are terminated the next time
// they trap, and no new task may start. It is safe to call more than once.
func (k *Kernel) PowerOff() {
	k.haltOnce.Do(func() {
		k.halting.Store(true)
		log.Infof("Powering off kernel %s", k.bootID)
		eventchannel.EmitEvent("Halt", map[string]any{"boot": k.bootID.String()})
		k.keyboard.Close()
		k.halted.Signal()
	})
}

// Halted returns true once PowerOff has been called.
func (k *Kernel) Halted() bool {
	return k.halting.Load()
}

// WaitHalted blocks until PowerOff is called.
func (k *Kernel) WaitHalted() {
	k.halted.Wait()
}

// HaltedChan returns a channel closed by PowerOff.
func (k *Kernel) HaltedChan() <-chan struct{} {
	return k.halted.Done()
}

// WaitExited blocks until every task goroutine has finished.
func (k *Kernel) WaitExited() {
	k.taskWG.Wait()
}

// Wait waits for child pid of parent to exit and returns its exit status.
// It returns -1 if pid is not a child of parent or has already been
// waited for.
func (k *Kernel) Wait(parent *Task, pid ThreadID) int32 {
	if parent == nil {
		parent = k.root
	}
	return parent.Wait(pid)
}
