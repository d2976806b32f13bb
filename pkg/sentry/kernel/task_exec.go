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

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/usermem"
)

// stackSize is the size of the user stack in bytes.
const stackSize = StackPages * hostarch.PageSize

// maxArgBytes bounds the space taken by the initial argument block, leaving
// the rest of the stack to the program.
const maxArgBytes = stackSize / 2

// load prepares t to run its program: it opens the executable, maps the
// stack and data segment, and pushes the command line onto the stack.
func (t *Task) load() error {
	image, err := t.openExecutable()
	if err != nil {
		return err
	}
	entry, err := t.k.loader.Load(t.name, image)
	if err != nil {
		return fmt.Errorf("loading %q: %w", t.name, err)
	}

	stack := hostarch.AddrRange{Start: pintos.PhysBase - stackSize, End: pintos.PhysBase}
	if err := t.mm.Map(stack); err != nil {
		return fmt.Errorf("mapping stack %v: %w", stack, err)
	}
	data, ok := DataBase.ToRange(uint64(t.k.dataPages) * hostarch.PageSize)
	if !ok {
		return fmt.Errorf("%w: data segment of %d pages", kernerr.ENOMEM, t.k.dataPages)
	}
	if err := t.mm.Map(data); err != nil {
		return fmt.Errorf("mapping data segment %v: %w", data, err)
	}
	sp, err := t.pushArgs(stack.End)
	if err != nil {
		return err
	}

	t.entry = entry
	t.initialSP = sp
	t.dataSeg = data
	t.Debugf("Loaded: %v, sp=%v", t.mm, sp)
	return nil
}

// openExecutable opens the program file, denies writes to it for the life
// of t, and returns its contents.
func (t *Task) openExecutable() ([]byte, error) {
	t.LockFS()
	defer t.UnlockFS()
	f := t.k.fs.Open(t.name)
	if f == nil {
		return nil, fmt.Errorf("%w: open %q", kernerr.ENOENT, t.name)
	}
	image := make([]byte, f.Length())
	f.Seek(0)
	if n := f.Read(image); n != len(image) {
		f.Close()
		return nil, fmt.Errorf("%w: short read of %q: %d of %d bytes", kernerr.EIO, t.name, n, len(image))
	}
	f.DenyWrite()
	t.executable = f
	return image, nil
}

// pushArgs lays out argv below top as the C runtime expects it: the strings,
// padding to a word boundary, a null-terminated array of pointers to them,
// argv, argc, and a fake return address. It returns the new stack pointer,
// which points at the return address.
func (t *Task) pushArgs(top hostarch.Addr) (hostarch.Addr, error) {
	size := uint64(0)
	for _, a := range t.argv {
		size += uint64(len(a)) + 1
	}
	size = (size+pintos.WordSize-1)&^(pintos.WordSize-1) + uint64(len(t.argv)+4)*pintos.WordSize
	if size > maxArgBytes {
		return 0, fmt.Errorf("%w: command line needs %d bytes of stack, limit %d", kernerr.ENOMEM, size, maxArgBytes)
	}

	sp := top
	ptrs := make([]uint32, len(t.argv)+1)
	for i := len(t.argv) - 1; i >= 0; i-- {
		b := append([]byte(t.argv[i]), 0)
		sp -= hostarch.Addr(len(b))
		if err := usermem.CopyOutBytes(t.mm, sp, b); err != nil {
			return 0, err
		}
		ptrs[i] = uint32(sp)
	}
	sp &^= pintos.WordSize - 1

	push := func(v uint32) error {
		sp -= pintos.WordSize
		return usermem.CopyOutUint32(t.mm, sp, v)
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		if err := push(ptrs[i]); err != nil {
			return 0, err
		}
	}
	argv := uint32(sp)
	for _, v := range []uint32{argv, uint32(len(t.argv)), 0} {
		if err := push(v); err != nil {
			return 0, err
		}
	}
	return sp, nil
}
