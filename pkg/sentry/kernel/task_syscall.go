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
	"fmt"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/log"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Syscall handles a system call trap: it decodes the call number and
// arguments from the user stack in f, runs the call, and stores the result
// in f. Any invalid user pointer terminates the task.
//
// Syscall must be called from the task goroutine, normally by the handler
// registered for the system call vector.
func (t *Task) Syscall(f *arch.TrapFrame) {
	sysno, err := usermem.CopyInUint32(t.mm, f.Esp)
	if err != nil {
		t.badPointer(fmt.Sprintf("system call number at %v", f.Esp))
		return
	}
	s := t.k.syscalls
	sc := s.Lookup(uintptr(sysno))
	if sc == nil {
		t.unknownSyscall(uintptr(sysno), f)
		return
	}

	args, err := t.decodeArgs(sc, f)
	if err != nil {
		t.badPointer(fmt.Sprintf("%s: %v", sc.Name, err))
		return
	}
	t.doSyscall(sc, uintptr(sysno), args, f)
}

// decodeArgs reads the arguments of sc from the stack words above f.Esp.
// Every word is checked before it is read, and pointer arguments must be
// valid addresses.
func (t *Task) decodeArgs(sc *Syscall, f *arch.TrapFrame) (arch.SyscallArguments, error) {
	var args arch.SyscallArguments
	for i, kind := range sc.Args {
		addr, ok := f.ArgAddr(i + 1)
		if !ok {
			return args, fmt.Errorf("argument %d: stack address wraps: %w", i, kernerr.EFAULT)
		}
		v, err := usermem.CopyInUint32(t.mm, addr)
		if err != nil {
			return args, fmt.Errorf("argument %d at %v: %w", i, addr, err)
		}
		if kind == arch.ArgPointer {
			if err := usermem.CheckAddr(t.mm, hostarch.Addr(v)); err != nil {
				return args, fmt.Errorf("argument %d is pointer %#x: %w", i, v, err)
			}
		}
		args[i].Value = uintptr(v)
	}
	return args, nil
}

// doSyscall runs sc and applies its outcome to f.
func (t *Task) doSyscall(sc *Syscall, sysno uintptr, args arch.SyscallArguments, f *arch.TrapFrame) {
	rval, ctrl, err := t.executeSyscall(sc, sysno, args)
	switch {
	case errors.Is(err, kernerr.EFAULT):
		t.badPointer(fmt.Sprintf("%s: %v", sc.Name, err))
	case err != nil:
		t.forceExit(reasonFault, fmt.Sprintf("%s failed: %v", sc.Name, err))
	case ctrl != nil && ctrl.exit:
		t.exitRequested = true
	case ctrl != nil && ctrl.ignoreReturn:
	default:
		f.SetReturn(rval)
	}
}

// executeSyscall calls sc with tracing and accounting.
func (t *Task) executeSyscall(sc *Syscall, sysno uintptr, args arch.SyscallArguments) (rval uintptr, ctrl *SyscallControl, err error) {
	countSyscall(sc.Name)
	st := t.k.syscalls.Stracer()
	var trace any
	if st != nil {
		trace = st.SyscallEnter(t, sysno, args)
	}
	if t.IsLogging(log.Debug) {
		t.Debugf("%s(%s)", sc.Name, formatArgs(sc, args))
	}

	rval, ctrl, err = sc.Fn(t, sysno, args)

	if st != nil {
		st.SyscallExit(trace, t, sysno, rval, err)
	}
	return rval, ctrl, err
}

// badPointer terminates the task for passing an invalid user address.
func (t *Task) badPointer(what string) {
	badPointerKills.Increment()
	t.forceExit(reasonBadPointer, "bad user pointer: "+what)
}

// unknownSyscall handles a call number with no entry in the table. The
// table's Missing function decides the outcome; an error terminates the
// task.
func (t *Task) unknownSyscall(sysno uintptr, f *arch.TrapFrame) {
	unknownSyscalls.Increment()
	rval, err := t.k.syscalls.Missing(t, sysno, arch.SyscallArguments{})
	if err != nil {
		t.forceExit(reasonUnknownSyscall, fmt.Sprintf("unknown system call %d: %v", sysno, err))
		return
	}
	f.SetReturn(rval)
}

// formatArgs renders args according to the argument kinds of sc.
func formatArgs(sc *Syscall, args arch.SyscallArguments) string {
	s := ""
	for i, kind := range sc.Args {
		if i > 0 {
			s += ", "
		}
		s += args[i].Format(kind)
	}
	return s
}
