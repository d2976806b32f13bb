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

// Package fs defines the file system the kernel consumes.
//
// Implementations are not safe for concurrent use. The kernel serializes
// every call with a single file system lock.
package fs

// NameMax is the longest file name a FileSystem accepts.
const NameMax = 14

// FileSystem is a flat namespace of regular files.
type FileSystem interface {
	// Create creates a file named name with initialSize zero bytes. It
	// returns false if the name is invalid or already exists.
	Create(name string, initialSize uint32) bool

	// Remove unlinks name. Files already open remain usable until closed.
	// It returns false if name does not exist.
	Remove(name string) bool

	// Open opens name with its position at 0. It returns nil if name does
	// not exist.
	Open(name string) File
}

// File is an open file. Each File has its own position.
type File interface {
	// Length returns the size of the file in bytes.
	Length() int32

	// Read reads up to len(dst) bytes at the current position and advances
	// it. It returns the number of bytes read, which is short at end of
	// file.
	Read(dst []byte) int

	// Write writes src at the current position and advances it. Writing
	// at or past end of file extends the file, zero-filling any gap. A file
	// with writes denied writes nothing.
	Write(src []byte) int

	// Seek sets the position. Positions past end of file are allowed; the
	// next write extends the file.
	Seek(pos uint32)

	// Tell returns the position.
	Tell() uint32

	// Close releases the file. It also re-allows writes if this File
	// denied them.
	Close()

	// DenyWrite prevents writes to the underlying file through any File
	// until AllowWrite or Close is called on this one.
	DenyWrite()

	// AllowWrite undoes DenyWrite.
	AllowWrite()
}
