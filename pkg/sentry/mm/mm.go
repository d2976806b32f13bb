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

// Package mm provides the user address space of a process.
//
// A MemoryManager is a page table: a set of mapped user pages, each backed
// by a page of kernel memory. There is no demand paging; an address is
// either mapped or it is not, and Probe reports which.
package mm

import (
	"fmt"

	"github.com/google/btree"

	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
	"sysgate.dev/sysgate/pkg/sync"
)

// pageTableDegree is the btree degree used for page tables. Processes map
// few pages, so a small node size is fine.
const pageTableDegree = 8

// page is one mapped user page.
type page struct {
	// num is the page number, i.e. addr >> PageShift.
	num uint32

	data [hostarch.PageSize]byte
}

func pageLess(a, b *page) bool {
	return a.num < b.num
}

// MemoryManager implements a process address space.
type MemoryManager struct {
	mu sync.RWMutex

	// pages maps page numbers to backing pages.
	//
	// +checklocks:mu
	pages *btree.BTreeG[*page]

	// released is set by Release. A released MemoryManager has no
	// mappings and refuses new ones.
	//
	// +checklocks:mu
	released bool
}

// NewMemoryManager returns an empty address space.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		pages: btree.NewG[*page](pageTableDegree, pageLess),
	}
}

// Map maps ar, which must be page-aligned and lie entirely in user space,
// with zero-filled pages. Pages in ar that are already mapped keep their
// contents.
func (mm *MemoryManager) Map(ar hostarch.AddrRange) error {
	if !ar.WellFormed() || !ar.IsPageAligned() || ar.Length() == 0 {
		return kernerr.EINVAL
	}
	if (ar.End - 1).IsKernel() {
		return kernerr.EFAULT
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return kernerr.ENOMEM
	}
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		key := &page{num: addr.PageNumber()}
		if !mm.pages.Has(key) {
			mm.pages.ReplaceOrInsert(key)
		}
	}
	return nil
}

// Unmap removes all mappings in ar. ar is rounded outward to page
// boundaries.
func (mm *MemoryManager) Unmap(ar hostarch.AddrRange) {
	if !ar.WellFormed() || ar.Length() == 0 {
		return
	}
	first := ar.Start.PageNumber()
	last := (ar.End - 1).PageNumber()

	mm.mu.Lock()
	defer mm.mu.Unlock()
	var doomed []*page
	mm.pages.AscendRange(&page{num: first}, &page{num: last + 1}, func(p *page) bool {
		doomed = append(doomed, p)
		return true
	})
	for _, p := range doomed {
		mm.pages.Delete(p)
	}
}

// Probe returns true if addr is a mapped user address. It is the analogue
// of a hardware page-table lookup and never faults.
func (mm *MemoryManager) Probe(addr hostarch.Addr) bool {
	if addr.IsKernel() {
		return false
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.pages.Has(&page{num: addr.PageNumber()})
}

// Mappings returns the mapped ranges in ascending order, with adjacent
// pages coalesced.
func (mm *MemoryManager) Mappings() []hostarch.AddrRange {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	var rs []hostarch.AddrRange
	mm.pages.Ascend(func(p *page) bool {
		start := hostarch.Addr(p.num << hostarch.PageShift)
		end := start + hostarch.PageSize
		if n := len(rs); n > 0 && rs[n-1].End == start {
			rs[n-1].End = end
		} else {
			rs = append(rs, hostarch.AddrRange{Start: start, End: end})
		}
		return true
	})
	return rs
}

// MappedBytes returns the number of bytes mapped.
func (mm *MemoryManager) MappedBytes() uint64 {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return uint64(mm.pages.Len()) * hostarch.PageSize
}

// Release frees every page. The MemoryManager may not be mapped again.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pages.Clear(false)
	mm.released = true
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	return fmt.Sprintf("mm{%v}", mm.Mappings())
}
