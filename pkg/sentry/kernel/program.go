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

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/usermem"
)

// Memory layout of a process.
const (
	// DataBase is the start of the data segment, where programs keep
	// strings and buffers they pass to the kernel.
	DataBase hostarch.Addr = 0x08048000

	// DefaultDataPages is the default size of the data segment in pages.
	DefaultDataPages = 8

	// StackPages is the size of the stack in pages. Arguments must fit on
	// the stack with room to spare.
	StackPages = 1
)

// UserContext is the machine as seen by a running user program: its own
// address space and the trap instruction. It is implemented by *Task.
type UserContext interface {
	// Memory returns the process's address space.
	Memory() usermem.IO

	// Trap raises interrupt vec with frame f. If the process exits in the
	// kernel, Trap does not return.
	Trap(vec uint8, f *arch.TrapFrame)

	// StackPointer returns esp at program entry. The words above it are a
	// fake return address, argc and argv.
	StackPointer() hostarch.Addr

	// DataSegment returns the writable range reserved for the program's
	// data.
	DataSegment() hostarch.AddrRange
}

// Entry is the main function of a user program. Its return value is the
// process exit status, as if it had called exit.
type Entry func(uc UserContext) int32

// Loader turns the contents of an executable file into a runnable program.
type Loader interface {
	// Load returns the entry point of the program named name whose
	// executable file holds image.
	Load(name string, image []byte) (Entry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(name string, image []byte) (Entry, error)

// Load implements Loader.Load.
func (f LoaderFunc) Load(name string, image []byte) (Entry, error) {
	return f(name, image)
}

// Programs is a Loader for programs written in Go. The executable file
// must exist but its contents are ignored.
type Programs map[string]Entry

// Load implements Loader.Load.
func (p Programs) Load(name string, _ []byte) (Entry, error) {
	e, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: no program %q", kernerr.ENOEXEC, name)
	}
	return e, nil
}

// ChainLoader tries each loader in turn and returns the first success.
type ChainLoader []Loader

// Load implements Loader.Load.
func (c ChainLoader) Load(name string, image []byte) (Entry, error) {
	err := fmt.Errorf("%w: no loader for %q", kernerr.ENOEXEC, name)
	for _, l := range c {
		e, lerr := l.Load(name, image)
		if lerr == nil {
			return e, nil
		}
		err = lerr
	}
	return nil, err
}
