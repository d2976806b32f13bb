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

// Write implements write(fd, buffer, size).
//
// Console output is passed to the device in pieces of at most ConsoleChunk
// bytes, so that output from different processes interleaves only at
// chunk boundaries. Writing the keyboard returns -1; writing a descriptor
// that is not open returns 0.
func Write(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Uint()

	if err := usermem.CheckRange(t.Memory(), addr, uint64(size)); err != nil {
		return 0, nil, err
	}

	switch fd {
	case pintos.STDOUT_FILENO:
		buf := make([]byte, size)
		if err := usermem.CopyInBytes(t.Memory(), addr, buf); err != nil {
			return 0, nil, err
		}
		writeConsole(t, buf)
		return uintptr(size), nil, nil
	case pintos.STDIN_FILENO:
		return failed, nil, nil
	}

	f := t.FDTable().Get(fd)
	if f == nil {
		return 0, nil, nil
	}
	buf := make([]byte, size)
	if err := usermem.CopyInBytes(t.Memory(), addr, buf); err != nil {
		return 0, nil, err
	}

	t.LockFS()
	defer t.UnlockFS()
	return uintptr(f.Write(buf)), nil, nil
}

// writeConsole sends buf to the console in chunks.
func writeConsole(t *kernel.Task, buf []byte) {
	console := t.Kernel().Console()
	for len(buf) > 0 {
		n := len(buf)
		if n > pintos.ConsoleChunk {
			n = pintos.ConsoleChunk
		}
		console.PutBuf(buf[:n])
		buf = buf[n:]
	}
}
