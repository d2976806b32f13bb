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

// Create implements create(file, initial_size).
func Create(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	name, err := usermem.CopyInString(t.Memory(), args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}
	size := args[1].Uint()

	t.LockFS()
	defer t.UnlockFS()
	return retBool(t.FileSystem().Create(name, size)), nil, nil
}

// Remove implements remove(file). Processes that have the file open keep
// using it.
func Remove(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	name, err := usermem.CopyInString(t.Memory(), args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}

	t.LockFS()
	defer t.UnlockFS()
	return retBool(t.FileSystem().Remove(name)), nil, nil
}

// Open implements open(file).
func Open(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	name, err := usermem.CopyInString(t.Memory(), args[0].Pointer())
	if err != nil {
		return 0, nil, err
	}

	t.LockFS()
	defer t.UnlockFS()
	f := t.FileSystem().Open(name)
	if f == nil {
		return failed, nil, nil
	}
	fd, err := t.FDTable().NewFD(f)
	if err != nil {
		t.Warningf("open(%q): %v", name, err)
		f.Close()
		return failed, nil, nil
	}
	return retInt(fd), nil, nil
}

// Filesize implements filesize(fd). It returns 0 if fd is not open.
func Filesize(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.FDTable().Get(args[0].Int())
	if f == nil {
		return 0, nil, nil
	}

	t.LockFS()
	defer t.UnlockFS()
	return retInt(f.Length()), nil, nil
}

// Seek implements seek(fd, position). It does nothing if fd is not open.
func Seek(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.FDTable().Get(args[0].Int())
	if f == nil {
		return 0, kernel.CtrlNoReturnValue, nil
	}

	t.LockFS()
	defer t.UnlockFS()
	f.Seek(args[1].Uint())
	return 0, kernel.CtrlNoReturnValue, nil
}

// Tell implements tell(fd). It returns 0 if fd is not open.
func Tell(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.FDTable().Get(args[0].Int())
	if f == nil {
		return 0, nil, nil
	}

	t.LockFS()
	defer t.UnlockFS()
	return uintptr(f.Tell()), nil, nil
}

// Close implements close(fd). Closing a descriptor that is not open does
// nothing.
func Close(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	f := t.FDTable().Remove(args[0].Int())
	if f == nil {
		return 0, kernel.CtrlNoReturnValue, nil
	}

	t.LockFS()
	defer t.UnlockFS()
	f.Close()
	return 0, kernel.CtrlNoReturnValue, nil
}
