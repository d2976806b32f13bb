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
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Halt implements halt: it powers the machine off.
func Halt(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.Infof("Halt requested")
	t.Kernel().PowerOff()
	return 0, kernel.CtrlDoExit, nil
}

// Exit implements exit(status).
func Exit(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	t.PrepareExit(args[0].Int())
	return 0, kernel.CtrlDoExit, nil
}

// Exec implements exec(cmd_line). It returns the new process ID once the
// child has loaded, or -1 if it could not be started or loaded.
func Exec(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	cmdline, err := usermem.CopyInString(t.Memory(), args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	pid, err := t.Kernel().Execute(t, cmdline)
	if err != nil {
		t.Debugf("exec(%q): %v", cmdline, err)
		return failed, nil, nil
	}
	child := t.Child(pid)
	if child == nil {
		return failed, nil, nil
	}
	if !child.WaitLoaded() {
		return failed, nil, nil
	}
	return retInt(int32(pid)), nil, nil
}

// Wait implements wait(pid).
func Wait(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return retInt(t.Wait(kernel.ThreadID(args[0].Int()))), nil, nil
}
