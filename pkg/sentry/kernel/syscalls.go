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
	"sysgate.dev/sysgate/pkg/sentry/arch"
	"sysgate.dev/sysgate/pkg/sync"
)

// SyscallFn is a syscall implementation.
//
// A SyscallFn returns kernerr.EFAULT when a user pointer fails validation;
// the caller is then terminated. Every other outcome, including failures
// user programs can observe, is a return value.
type SyscallFn func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// MissingFn is a syscall to be called when an implementation is missing.
type MissingFn func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// SyscallControl is returned by syscalls to control the behavior of
// Task.doSyscall.
type SyscallControl struct {
	// exit is true if the task must exit instead of returning to user mode.
	exit bool

	// ignoreReturn is true if the return value must not be stored in the
	// trap frame.
	ignoreReturn bool
}

var (
	// CtrlDoExit is returned by the implementations of the exit and halt
	// syscalls.
	CtrlDoExit = &SyscallControl{exit: true}

	// CtrlNoReturnValue is returned by syscalls with no result, which leave
	// eax as it was.
	CtrlNoReturnValue = &SyscallControl{ignoreReturn: true}
)

// Syscall includes the syscall implementation and the layout of its
// arguments on the user stack.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn

	// Args describes each argument word, in order. len(Args) is the
	// syscall's arity.
	Args []arch.ArgKind
}

// Stracer traces syscall execution.
type Stracer interface {
	// SyscallEnter is called on syscall entry, after the arguments have
	// been decoded.
	//
	// The returned private data is passed to SyscallExit.
	SyscallEnter(t *Task, sysno uintptr, args arch.SyscallArguments) any

	// SyscallExit is called on syscall exit.
	SyscallExit(context any, t *Task, sysno, rval uintptr, err error)
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Name identifies the table, e.g. "pintos".
	Name string

	// Table is the collection of functions.
	Table map[uintptr]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup []*Syscall

	// Missing is the function to call when a syscall is not defined.
	Missing MissingFn

	// stracer traces this syscall table, if non-nil.
	stracerMu sync.RWMutex
	stracer   Stracer
}

// allSyscallTables contains all known tables.
var allSyscallTables []*SyscallTable

// SyscallTables returns a read-only slice of registered SyscallTables.
func SyscallTables() []*SyscallTable {
	return allSyscallTables
}

// LookupSyscallTable returns the SyscallCall table with the given name.
func LookupSyscallTable(name string) (*SyscallTable, bool) {
	for _, s := range allSyscallTables {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// RegisterSyscallTable registers the given syscall table for use by tasks.
func RegisterSyscallTable(s *SyscallTable) {
	if _, ok := LookupSyscallTable(s.Name); ok {
		panic(fmt.Sprintf("duplicate SyscallTable registered for %q", s.Name))
	}
	s.Init()
	allSyscallTables = append(allSyscallTables, s)
}

// Init initializes the system call table.
//
// This should normally be called only during registration.
func (s *SyscallTable) Init() {
	if s.Table == nil {
		// Ensure non-nil lookup table.
		s.Table = make(map[uintptr]Syscall)
	}

	max := uintptr(0)
	for num := range s.Table {
		if num > max {
			max = num
		}
	}

	s.lookup = make([]*Syscall, max+1)
	for num, sc := range s.Table {
		if len(sc.Args) > arch.MaxSyscallArgs {
			panic(fmt.Sprintf("syscall %q has %d arguments, max is %d", sc.Name, len(sc.Args), arch.MaxSyscallArgs))
		}
		sc := sc
		s.lookup[num] = &sc
	}

	if s.Missing == nil {
		s.Missing = func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
			return 0, kernerr.ENOSYS
		}
	}
}

// Lookup returns the syscall with the given number, or nil.
func (s *SyscallTable) Lookup(sysno uintptr) *Syscall {
	if sysno < uintptr(len(s.lookup)) {
		return s.lookup[sysno]
	}
	return nil
}

// mapLookup is equivalent to Lookup, except a map is used instead of a
// slice.
func (s *SyscallTable) mapLookup(sysno uintptr) *Syscall {
	if sc, ok := s.Table[sysno]; ok {
		return &sc
	}
	return nil
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc := s.Lookup(sysno); sc != nil {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// LookupNo looks up a syscall number by name.
func (s *SyscallTable) LookupNo(name string) (uintptr, error) {
	for i, sc := range s.Table {
		if sc.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found", name)
}

// SetStracer installs a tracer for every task using this table. A nil
// Stracer disables tracing.
func (s *SyscallTable) SetStracer(st Stracer) {
	s.stracerMu.Lock()
	defer s.stracerMu.Unlock()
	s.stracer = st
}

// Stracer returns the installed tracer, or nil.
func (s *SyscallTable) Stracer() Stracer {
	s.stracerMu.RLock()
	defer s.stracerMu.RUnlock()
	return s.stracer
}
