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

// Package memfs provides an in-memory, flat FileSystem.
//
// Files are created with an initial size of zero bytes and grow when
// written past their end. Unlinked files stay usable through descriptors
// that were already open.
package memfs

import (
	"github.com/google/btree"

	"sysgate.dev/sysgate/pkg/sentry/fs"
)

const directoryDegree = 16

// maxFileSize bounds file growth so that Length fits its int32 result.
const maxFileSize = 1<<31 - 1

// inode is the data of one file, shared by every open File.
type inode struct {
	name string
	data []byte

	// opens counts Files open on this inode.
	opens int

	// denyWrites counts Files that denied writes.
	denyWrites int

	// linked is false once the file is removed from the directory.
	linked bool
}

func inodeLess(a, b *inode) bool {
	return a.name < b.name
}

// FileSystem implements fs.FileSystem.
type FileSystem struct {
	dir *btree.BTreeG[*inode]
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New returns an empty FileSystem.
func New() *FileSystem {
	return &FileSystem{dir: btree.NewG[*inode](directoryDegree, inodeLess)}
}

func validName(name string) bool {
	return name != "" && len(name) <= fs.NameMax
}

func (mfs *FileSystem) lookup(name string) *inode {
	in, _ := mfs.dir.Get(&inode{name: name})
	return in
}

// Create implements fs.FileSystem.Create.
func (mfs *FileSystem) Create(name string, initialSize uint32) bool {
	if !validName(name) || mfs.lookup(name) != nil {
		return false
	}
	mfs.dir.ReplaceOrInsert(&inode{
		name:   name,
		data:   make([]byte, initialSize),
		linked: true,
	})
	return true
}

// AddFile creates name with the given contents, replacing any existing
// file of that name. It is used to populate a FileSystem before boot.
func (mfs *FileSystem) AddFile(name string, contents []byte) bool {
	if !validName(name) {
		return false
	}
	if old := mfs.lookup(name); old != nil {
		old.linked = false
		mfs.dir.Delete(old)
	}
	mfs.dir.ReplaceOrInsert(&inode{
		name:   name,
		data:   append([]byte(nil), contents...),
		linked: true,
	})
	return true
}

// Remove implements fs.FileSystem.Remove.
func (mfs *FileSystem) Remove(name string) bool {
	in := mfs.lookup(name)
	if in == nil {
		return false
	}
	in.linked = false
	mfs.dir.Delete(in)
	return true
}

// Open implements fs.FileSystem.Open.
func (mfs *FileSystem) Open(name string) fs.File {
	in := mfs.lookup(name)
	if in == nil {
		return nil
	}
	in.opens++
	return &file{inode: in}
}

// Names returns the names of all files in ascending order.
func (mfs *FileSystem) Names() []string {
	var names []string
	mfs.dir.Ascend(func(in *inode) bool {
		names = append(names, in.name)
		return true
	})
	return names
}

// Contents returns a copy of the contents of name.
func (mfs *FileSystem) Contents(name string) ([]byte, bool) {
	in := mfs.lookup(name)
	if in == nil {
		return nil, false
	}
	return append([]byte(nil), in.data...), true
}

// OpenCount returns the number of open Files on name, or -1 if name does
// not exist.
func (mfs *FileSystem) OpenCount(name string) int {
	in := mfs.lookup(name)
	if in == nil {
		return -1
	}
	return in.opens
}

// file implements fs.File.
type file struct {
	inode  *inode
	pos    uint32
	denied bool
	closed bool
}

var _ fs.File = (*file)(nil)

// Length implements fs.File.Length.
func (f *file) Length() int32 {
	return int32(len(f.inode.data))
}

// Read implements fs.File.Read.
func (f *file) Read(dst []byte) int {
	if uint64(f.pos) >= uint64(len(f.inode.data)) {
		return 0
	}
	n := copy(dst, f.inode.data[f.pos:])
	f.pos += uint32(n)
	return n
}

// Write implements fs.File.Write.
func (f *file) Write(src []byte) int {
	if f.inode.denyWrites > 0 || len(src) == 0 {
		return 0
	}
	end := uint64(f.pos) + uint64(len(src))
	if end > maxFileSize {
		end = maxFileSize
	}
	if end > uint64(len(f.inode.data)) {
		grown := make([]byte, end)
		copy(grown, f.inode.data)
		f.inode.data = grown
	}
	if uint64(f.pos) >= end {
		return 0
	}
	n := copy(f.inode.data[f.pos:end], src)
	f.pos += uint32(n)
	return n
}

// Seek implements fs.File.Seek.
func (f *file) Seek(pos uint32) {
	f.pos = pos
}

// Tell implements fs.File.Tell.
func (f *file) Tell() uint32 {
	return f.pos
}

// DenyWrite implements fs.File.DenyWrite.
func (f *file) DenyWrite() {
	if !f.denied {
		f.denied = true
		f.inode.denyWrites++
	}
}

// AllowWrite implements fs.File.AllowWrite.
func (f *file) AllowWrite() {
	if f.denied {
		f.denied = false
		f.inode.denyWrites--
	}
}

// Close implements fs.File.Close.
func (f *file) Close() {
	if f.closed {
		panic("memfs: file closed twice")
	}
	f.AllowWrite()
	f.closed = true
	f.inode.opens--
}
