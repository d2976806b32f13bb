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
	"strings"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/cleanup"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/sentry/mm"
)

// Execute starts a new process running cmdline as a child of parent, and
// returns its ID. A nil parent means the kernel task.
//
// The child is registered with its parent before its goroutine starts, so
// the returned ID is always a child of parent until it is waited for. Load
// happens on the child goroutine; callers that need the outcome use
// Task.WaitLoaded. A child whose load fails exits with status -1 and stays
// waitable.
func (k *Kernel) Execute(parent *Task, cmdline string) (ThreadID, error) {
	if parent == nil {
		parent = k.root
	}
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return 0, fmt.Errorf("%w: empty command line", kernerr.ENOENT)
	}
	if k.Halted() {
		return 0, fmt.Errorf("%w: kernel is powering off", kernerr.ESRCH)
	}

	t := &Task{
		k:          k,
		name:       argv[0],
		argv:       argv,
		mm:         mm.NewMemoryManager(),
		fdTable:    NewFDTable(),
		children:   make(map[ThreadID]*Task),
		exitStatus: pintos.ExitFailure,
	}

	k.mu.Lock()
	if len(k.tasks) >= k.maxTasks {
		k.mu.Unlock()
		return 0, fmt.Errorf("%w: task limit %d reached", kernerr.EAGAIN, k.maxTasks)
	}
	t.tid = k.nextTID
	k.nextTID++
	k.tasks[t.tid] = t
	k.mu.Unlock()
	t.logPrefix = fmt.Sprintf("[%5d:%s] ", t.tid, t.name)

	cu := cleanup.Make(func() {
		k.mu.Lock()
		delete(k.tasks, t.tid)
		k.mu.Unlock()
	})
	defer cu.Clean()

	parent.childrenMu.Lock()
	parent.children[t.tid] = t
	parent.childrenMu.Unlock()
	cu.Add(func() {
		parent.childrenMu.Lock()
		delete(parent.children, t.tid)
		parent.childrenMu.Unlock()
	})

	if k.Halted() {
		return 0, fmt.Errorf("%w: kernel is powering off", kernerr.ESRCH)
	}

	k.taskWG.Add(1)
	cu.Release()
	go t.run() // S/R-SAFE: task goroutine.
	t.Debugf("Started by %v: %q", parent, cmdline)
	return t.tid, nil
}
