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
	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sentry/kernel"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Read implements read(fd, buffer, size).
//
// Reading the keyboard takes exactly size keystrokes and never holds the
// file system lock. Reading the console, or a descriptor that is not open,
// returns -1.
func Read(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Uint()

	if err := usermem.CheckRange(t.Memory(), addr, uint64(size)); err != nil {
		return 0, nil, err
	}

	switch fd {
	case pintos.STDIN_FILENO:
		buf := make([]byte, size)
		kbd := t.Kernel().Keyboard()
		for i := range buf {
			buf[i] = kbd.Getc()
		}
		if err := usermem.CopyOutBytes(t.Memory(), addr, buf); err != nil {
			return 0, nil, err
		}
		return uintptr(size), nil, nil
	case pintos.STDOUT_FILENO:
		return failed, nil, nil
	}

	f := t.FDTable().Get(fd)
	if f == nil {
		return failed, nil, nil
	}
	buf := make([]byte, size)
	n := func() int {
		t.LockFS()
		defer t.UnlockFS()
		return f.Read(buf)
	}()
	if err := usermem.CopyOutBytes(t.Memory(), addr, buf[:n]); err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}
