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
	"fmt"

	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/fs"
	"sysgate.dev/sysgate/pkg/sentry/mm"
	"sysgate.dev/sysgate/pkg/sync"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Task represents a user process. Each task runs on its own goroutine, the
// "task goroutine", which is the only goroutine allowed to trap on its
// behalf or to touch its descriptor table.
type Task struct {
	k *Kernel

	// tid is the process ID. Immutable.
	tid ThreadID

	// name is the program name, the first word of the command line.
	// Immutable.
	name string

	// argv is the full command line split on whitespace. Immutable.
	argv []string

	// mm is the address space. Immutable.
	mm *mm.MemoryManager

	// fdTable holds files opened by the task. It is only used by the task
	// goroutine.
	fdTable *FDTable

	// executable is the task's program file, held open with writes denied
	// while the task runs. It is set during load and closed at exit. Only
	// used by the task goroutine.
	executable fs.File

	// entry is the loaded program. Set during load.
	entry Entry

	// initialSP is the stack pointer at program entry. Set during load.
	initialSP hostarch.Addr

	// dataSeg is the data segment. Set during load.
	dataSeg hostarch.AddrRange

	childrenMu sync.Mutex

	// children are the task's children that have not been waited for.
	//
	// +checklocks:childrenMu
	children map[ThreadID]*Task

	// loaded is signaled once the load attempt finishes. loadOK is written
	// before the signal and read after it.
	loaded sync.OneShot
	loadOK bool

	// exitStatus is written by the task goroutine before exited is
	// signaled, and read by waiters after.
	exitStatus   int32
	exitStatusOK bool
	exited       sync.OneShot

	// exitRequested is set by a system call that ends the process. Only
	// used by the task goroutine.
	exitRequested bool

	// logPrefix is prepended to every log line about this task.
	logPrefix string
}

// ThreadID returns the task's process ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns the task's program name.
func (t *Task) Name() string {
	return t.name
}

// Args returns the task's command line words.
func (t *Task) Args() []string {
	return append([]string(nil), t.argv...)
}

// Kernel returns the kernel the task runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// MemoryManager returns the task's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns the task's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// FileSystem returns the kernel file system. The FS lock must be held
// around every use.
func (t *Task) FileSystem() fs.FileSystem {
	return t.k.fs
}

// LockFS acquires the kernel's file system lock for t.
func (t *Task) LockFS() {
	t.k.FSLock.Lock(t)
}

// UnlockFS releases the kernel's file system lock.
func (t *Task) UnlockFS() {
	t.k.FSLock.Unlock(t)
}

// Child returns the child of t with the given ID that has not yet been
// waited for, or nil.
func (t *Task) Child(tid ThreadID) *Task {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	return t.children[tid]
}

// WaitLoaded blocks until t has finished loading its program, and returns
// true if the load succeeded.
func (t *Task) WaitLoaded() bool {
	t.loaded.Wait()
	return t.loadOK
}

// ExitStatus returns the exit status of t. It blocks until t exits.
func (t *Task) ExitStatus() int32 {
	t.exited.Wait()
	return t.exitStatus
}

// Exited returns a channel closed when t has exited.
func (t *Task) Exited() <-chan struct{} {
	return t.exited.Done()
}

// Memory implements UserContext.Memory.
func (t *Task) Memory() usermem.IO {
	return t.mm
}

// StackPointer implements UserContext.StackPointer.
func (t *Task) StackPointer() hostarch.Addr {
	return t.initialSP
}

// DataSegment implements UserContext.DataSegment.
func (t *Task) DataSegment() hostarch.AddrRange {
	return t.dataSeg
}

var _ UserContext = (*Task)(nil)

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	if t == nil {
		return "<nil task>"
	}
	return fmt.Sprintf("task %d (%s)", t.tid, t.name)
}

// Debugf logs at debug level with the task's prefix.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Log().DebugfAtDepth(1, t.logPrefix+format, v...)
	}
}

// Infof logs at info level with the task's prefix.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.Log().InfofAtDepth(1, t.logPrefix+format, v...)
	}
}

// Warningf logs at warning level with the task's prefix.
func (t *Task) Warningf(format string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.Log().WarningfAtDepth(1, t.logPrefix+format, v...)
	}
}

// IsLogging returns true if the given level is being logged.
func (t *Task) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}
