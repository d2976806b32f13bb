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
	"runtime"
	"runtime/debug"
	"time"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/eventchannel"
	"sysgate.dev/sysgate/pkg/log"
)

// forcedExitLog rate-limits warnings about processes the kernel kills, since
// a misbehaving program can be started in a loop.
var forcedExitLog = log.BasicRateLimitedLogger(100 * time.Millisecond)

// run is the body of the task goroutine.
func (t *Task) run() {
	defer t.k.taskWG.Done()
	defer t.finish()

	if err := t.load(); err != nil {
		t.Infof("Load failed: %v", err)
		t.loaded.Signal()
		return
	}
	t.loadOK = true
	t.loaded.Signal()
	t.Debugf("Entering user program %v", t.argv)

	status := t.entry(t)
	t.setExitStatus(status)
}

// setExitStatus records status if no status has been recorded yet. It must
// be called from the task goroutine.
func (t *Task) setExitStatus(status int32) {
	if t.exitStatusOK {
		return
	}
	t.exitStatus = status
	t.exitStatusOK = true
}

// PrepareExit records the exit status and arranges for the task to exit when
// it leaves the kernel. The first recorded status wins. It must be called
// from the task goroutine.
func (t *Task) PrepareExit(status int32) {
	t.setExitStatus(status)
	t.exitRequested = true
}

// Exit terminates the task with the given status. It must be called from
// the task goroutine and does not return.
func (t *Task) Exit(status int32) {
	t.PrepareExit(status)
	runtime.Goexit()
}

// forceExit arranges for the task to be terminated with status -1 when it
// leaves the kernel.
func (t *Task) forceExit(reason, msg string) {
	forcedExitLog.Warningf("%sTerminating: %s", t.logPrefix, msg)
	forcedExits.Increment(reason)
	eventchannel.EmitEvent("ForcedExit", map[string]any{
		"pid":    int64(t.tid),
		"name":   t.name,
		"reason": reason,
		"detail": msg,
		"boot":   t.k.bootID.String(),
	})
	t.PrepareExit(pintos.ExitFailure)
}

// finish tears the task down. It runs on the task goroutine however the task
// ends: by returning from its entry point, by exiting in a system call, or
// by panicking.
func (t *Task) finish() {
	if r := recover(); r != nil {
		t.Warningf("Program faulted: %v\n%s", r, debug.Stack())
		forcedExits.Increment(reasonFault)
		t.setExitStatus(pintos.ExitFailure)
	}
	// A failed load has already signaled; a fault during load has not.
	t.loaded.Signal()
	t.setExitStatus(pintos.ExitFailure)

	if !t.k.Halted() {
		t.k.console.PutBuf([]byte(fmt.Sprintf("%s: exit(%d)\n", t.name, t.exitStatus)))
	}

	if t.k.FSLock.HeldBy(t) {
		t.Warningf("Exiting with the file system lock held")
		t.UnlockFS()
	}
	files := t.fdTable.RemoveAll()
	if len(files) > 0 || t.executable != nil {
		t.LockFS()
		for _, f := range files {
			f.Close()
		}
		if t.executable != nil {
			t.executable.Close()
			t.executable = nil
		}
		t.UnlockFS()
	}
	t.mm.Release()

	t.k.mu.Lock()
	delete(t.k.tasks, t.tid)
	t.k.mu.Unlock()

	t.Debugf("Exited with status %d, closed %d files", t.exitStatus, len(files))
	t.exited.Signal()
}

// Wait blocks until child pid exits, reaps it, and returns its exit status.
// It returns -1 if pid is not a child of t or has already been reaped.
func (t *Task) Wait(pid ThreadID) int32 {
	child := t.takeChild(pid)
	if child == nil {
		return pintos.ExitFailure
	}
	child.exited.Wait()
	return child.exitStatus
}

// takeChild removes and returns child pid, or returns nil if it is not a
// child of t.
func (t *Task) takeChild(pid ThreadID) *Task {
	t.childrenMu.Lock()
	defer t.childrenMu.Unlock()
	child, ok := t.children[pid]
	if !ok {
		return nil
	}
	delete(t.children, pid)
	return child
}
