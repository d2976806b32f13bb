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
	"sync/atomic"

	"sysgate.dev/sysgate/pkg/sentry/fs"
	"sysgate.dev/sysgate/pkg/sync"
)

// FSLock is the single kernel-wide file system lock. Every call into the
// file system happens while it is held.
//
// Lock ordering: FSLock is a leaf. No other kernel lock is acquired while it
// is held, and it is never held across a blocking wait for user input, a
// child process, or a load signal.
type FSLock struct {
	mu sync.Mutex

	// holder is the task holding mu, or nil.
	holder atomic.Pointer[Task]
}

// Lock acquires the lock on behalf of t. Recursive acquisition panics.
func (l *FSLock) Lock(t *Task) {
	if t == nil {
		panic("FSLock.Lock called without a task")
	}
	if l.holder.Load() == t {
		panic(fmt.Sprintf("task %d acquired the file system lock recursively", t.tid))
	}
	l.mu.Lock()
	l.holder.Store(t)
	fsLockAcquisitions.Increment()
}

// Unlock releases the lock, which t must hold.
func (l *FSLock) Unlock(t *Task) {
	if h := l.holder.Load(); h != t {
		panic(fmt.Sprintf("task %d released the file system lock held by %v", t.tid, h))
	}
	l.holder.Store(nil)
	l.mu.Unlock()
}

// Held returns true if some task holds the lock.
func (l *FSLock) Held() bool {
	return l.holder.Load() != nil
}

// HeldBy returns true if t holds the lock.
func (l *FSLock) HeldBy(t *Task) bool {
	return t != nil && l.holder.Load() == t
}

// AssertHeld panics if the lock is not held.
func (l *FSLock) AssertHeld(op string) {
	if !l.Held() {
		panic(fmt.Sprintf("file system %s called without the file system lock", op))
	}
}

// checkedFileSystem wraps a FileSystem so that every primitive asserts the
// FS lock.
type checkedFileSystem struct {
	fs   fs.FileSystem
	lock *FSLock
}

var _ fs.FileSystem = (*checkedFileSystem)(nil)

// Create implements fs.FileSystem.Create.
func (c *checkedFileSystem) Create(name string, initialSize uint32) bool {
	c.lock.AssertHeld("create")
	return c.fs.Create(name, initialSize)
}

// Remove implements fs.FileSystem.Remove.
func (c *checkedFileSystem) Remove(name string) bool {
	c.lock.AssertHeld("remove")
	return c.fs.Remove(name)
}

// Open implements fs.FileSystem.Open.
func (c *checkedFileSystem) Open(name string) fs.File {
	c.lock.AssertHeld("open")
	f := c.fs.Open(name)
	if f == nil {
		return nil
	}
	return &checkedFile{file: f, lock: c.lock}
}

// checkedFile is the File counterpart of checkedFileSystem.
type checkedFile struct {
	file fs.File
	lock *FSLock
}

var _ fs.File = (*checkedFile)(nil)

// Length implements fs.File.Length.
func (c *checkedFile) Length() int32 {
	c.lock.AssertHeld("length")
	return c.file.Length()
}

// Read implements fs.File.Read.
func (c *checkedFile) Read(dst []byte) int {
	c.lock.AssertHeld("read")
	return c.file.Read(dst)
}

// Write implements fs.File.Write.
func (c *checkedFile) Write(src []byte) int {
	c.lock.AssertHeld("write")
	return c.file.Write(src)
}

// Seek implements fs.File.Seek.
func (c *checkedFile) Seek(pos uint32) {
	c.lock.AssertHeld("seek")
	c.file.Seek(pos)
}

// Tell implements fs.File.Tell.
func (c *checkedFile) Tell() uint32 {
	c.lock.AssertHeld("tell")
	return c.file.Tell()
}

// Close implements fs.File.Close.
func (c *checkedFile) Close() {
	c.lock.AssertHeld("close")
	c.file.Close()
}

// DenyWrite implements fs.File.DenyWrite.
func (c *checkedFile) DenyWrite() {
	c.lock.AssertHeld("deny_write")
	c.file.DenyWrite()
}

// AllowWrite implements fs.File.AllowWrite.
func (c *checkedFile) AllowWrite() {
	c.lock.AssertHeld("allow_write")
	c.file.AllowWrite()
}
