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
	"bytes"
	"fmt"
	"math"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/sentry/fs"
)

// openFile is an entry in an FDTable: a descriptor and the file it names.
type openFile struct {
	openFileEntry

	fd   int32
	file fs.File
}

// FDTable is the set of files a process has open.
//
// Descriptors are allocated from a counter that starts at FirstFileFD and
// only increases, so a descriptor is never reused within the life of a
// process. Entries are kept in the order they were opened.
//
// An FDTable belongs to one task and is only used from that task's
// goroutine; it has no lock. It never calls into the file system: callers
// close files themselves, under the file system lock.
type FDTable struct {
	// nextFD is the descriptor the next NewFD returns.
	nextFD int32

	files openFileList
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	return &FDTable{nextFD: pintos.FirstFileFD}
}

// NewFD adds file to the table and returns its descriptor. It fails with
// EMFILE once the descriptor space is exhausted.
func (f *FDTable) NewFD(file fs.File) (int32, error) {
	if f.nextFD == math.MaxInt32 {
		return -1, kernerr.EMFILE
	}
	of := &openFile{fd: f.nextFD, file: file}
	f.nextFD++
	f.files.PushBack(of)
	return of.fd, nil
}

func (f *FDTable) lookup(fd int32) *openFile {
	for of := f.files.Front(); of != nil; of = of.Next() {
		if of.fd == fd {
			return of
		}
	}
	return nil
}

// Get returns the file named by fd, or nil if fd is not open.
func (f *FDTable) Get(fd int32) fs.File {
	if of := f.lookup(fd); of != nil {
		return of.file
	}
	return nil
}

// Remove removes fd from the table and returns its file, or nil if fd is
// not open.
func (f *FDTable) Remove(fd int32) fs.File {
	of := f.lookup(fd)
	if of == nil {
		return nil
	}
	f.files.Remove(of)
	return of.file
}

// RemoveAll empties the table and returns its files in the order they were
// opened.
func (f *FDTable) RemoveAll() []fs.File {
	var files []fs.File
	for of := f.files.Front(); of != nil; {
		next := of.Next()
		f.files.Remove(of)
		files = append(files, of.file)
		of = next
	}
	return files
}

// Len returns the number of open files.
func (f *FDTable) Len() int {
	return f.files.Len()
}

// FDs returns the open descriptors in the order they were opened.
func (f *FDTable) FDs() []int32 {
	var fds []int32
	for of := f.files.Front(); of != nil; of = of.Next() {
		fds = append(fds, of.fd)
	}
	return fds
}

// String returns a textual representation of the table.
func (f *FDTable) String() string {
	var buf bytes.Buffer
	buf.WriteString("fds:")
	for of := f.files.Front(); of != nil; of = of.Next() {
		fmt.Fprintf(&buf, " %d", of.fd)
	}
	return buf.String()
}
