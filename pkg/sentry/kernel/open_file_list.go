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

// ElementMapper provides an identity mapping by default.
//
// This can be replaced to provide a struct that maps elements to linker
// objects, if they are not the same. An ElementMapper is not typically
// required if: Linker is left as is, Element is left as is, or Linker and
// Element are the same type.
type openFileElementMapper struct{}

// linkerFor maps an Element to a Linker.
//
// This default implementation should be inlined.
//
//go:nosplit
func (openFileElementMapper) linkerFor(elem *openFile) *openFile { return elem }

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = e.Next() {
//		// do something with e.
//	}
type openFileList struct {
	head *openFile
	tail *openFile
}

// Reset resets list l to the empty state.
func (l *openFileList) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
//
//go:nosplit
func (l *openFileList) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
//
//go:nosplit
func (l *openFileList) Front() *openFile {
	return l.head
}

// Back returns the last element of list l or nil.
//
//go:nosplit
func (l *openFileList) Back() *openFile {
	return l.tail
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
//
//go:nosplit
func (l *openFileList) Len() (count int) {
	for e := l.Front(); e != nil; e = (openFileElementMapper{}.linkerFor(e)).Next() {
		count++
	}
	return count
}

// PushBack inserts the element e at the back of list l.
//
//go:nosplit
func (l *openFileList) PushBack(e *openFile) {
	linker := openFileElementMapper{}.linkerFor(e)
	linker.SetNext(nil)
	linker.SetPrev(l.tail)
	if l.tail != nil {
		openFileElementMapper{}.linkerFor(l.tail).SetNext(e)
	} else {
		l.head = e
	}

	l.tail = e
}

// Remove removes e from l.
//
//go:nosplit
func (l *openFileList) Remove(e *openFile) {
	linker := openFileElementMapper{}.linkerFor(e)
	prev := linker.Prev()
	next := linker.Next()

	if prev != nil {
		openFileElementMapper{}.linkerFor(prev).SetNext(next)
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		openFileElementMapper{}.linkerFor(next).SetPrev(prev)
	} else if l.tail == e {
		l.tail = prev
	}

	linker.SetNext(nil)
	linker.SetPrev(nil)
}

// Entry is a default implementation of Linker. Users can add anonymous fields
// of this type to their structs to make them automatically implement the
// methods needed by List.
type openFileEntry struct {
	next *openFile
	prev *openFile
}

// Next returns the entry that follows e in the list.
//
//go:nosplit
func (e *openFileEntry) Next() *openFile {
	return e.next
}

// Prev returns the entry that precedes e in the list.
//
//go:nosplit
func (e *openFileEntry) Prev() *openFile {
	return e.prev
}

// SetNext assigns 'entry' as the entry that follows e in the list.
//
//go:nosplit
func (e *openFileEntry) SetNext(elem *openFile) {
	e.next = elem
}

// SetPrev assigns 'entry' as the entry that precedes e in the list.
//
//go:nosplit
func (e *openFileEntry) SetPrev(elem *openFile) {
	e.prev = elem
}
