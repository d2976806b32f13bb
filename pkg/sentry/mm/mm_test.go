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

package mm

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sysgate.dev/sysgate/pkg/abi/pintos"
	"sysgate.dev/sysgate/pkg/errors/kernerr"
	"sysgate.dev/sysgate/pkg/hostarch"
)

const stackTop = hostarch.Addr(pintos.PhysBase)

func testMemoryManager(t *testing.T, rs ...hostarch.AddrRange) *MemoryManager {
	t.Helper()
	mm := NewMemoryManager()
	for _, ar := range rs {
		if err := mm.Map(ar); err != nil {
			t.Fatalf("Map(%v) failed: %v", ar, err)
		}
	}
	t.Cleanup(mm.Release)
	return mm
}

func pages(start hostarch.Addr, n int) hostarch.AddrRange {
	return hostarch.AddrRange{Start: start, End: start + hostarch.Addr(n*hostarch.PageSize)}
}

func TestProbe(t *testing.T) {
	mm := testMemoryManager(t, pages(stackTop-hostarch.PageSize, 1), pages(0x08048000, 2))
	for _, tc := range []struct {
		addr hostarch.Addr
		want bool
	}{
		{0, false},
		{0x08047fff, false},
		{0x08048000, true},
		{0x08049fff, true},
		{0x0804a000, false},
		{stackTop - 1, true},
		{stackTop - hostarch.PageSize, true},
		{stackTop, false},
		{0xffffffff, false},
	} {
		if got := mm.Probe(tc.addr); got != tc.want {
			t.Errorf("Probe(%v) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestMapRejects(t *testing.T) {
	mm := testMemoryManager(t)
	for _, tc := range []struct {
		name string
		ar   hostarch.AddrRange
		want error
	}{
		{"unaligned", hostarch.AddrRange{Start: 1, End: hostarch.PageSize}, kernerr.EINVAL},
		{"empty", hostarch.AddrRange{Start: hostarch.PageSize, End: hostarch.PageSize}, kernerr.EINVAL},
		{"inverted", hostarch.AddrRange{Start: 2 * hostarch.PageSize, End: hostarch.PageSize}, kernerr.EINVAL},
		{"kernel", pages(stackTop, 1), kernerr.EFAULT},
		{"straddle", pages(stackTop-hostarch.PageSize, 2), kernerr.EFAULT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := mm.Map(tc.ar); err != tc.want {
				t.Errorf("Map(%v) = %v, want %v", tc.ar, err, tc.want)
			}
		})
	}
	if got := mm.MappedBytes(); got != 0 {
		t.Errorf("MappedBytes = %d after failed maps, want 0", got)
	}
}

func TestMappingsCoalesce(t *testing.T) {
	mm := testMemoryManager(t, pages(0x1000, 1), pages(0x2000, 2), pages(0x10000, 1))
	want := []hostarch.AddrRange{
		{Start: 0x1000, End: 0x4000},
		{Start: 0x10000, End: 0x11000},
	}
	if diff := cmp.Diff(want, mm.Mappings()); diff != "" {
		t.Errorf("Mappings mismatch (-want +got):\n%s", diff)
	}
	if got, want := mm.MappedBytes(), uint64(4*hostarch.PageSize); got != want {
		t.Errorf("MappedBytes = %d, want %d", got, want)
	}
}

func TestUnmap(t *testing.T) {
	mm := testMemoryManager(t, pages(0x1000, 4))
	mm.Unmap(hostarch.AddrRange{Start: 0x2000, End: 0x2001})
	want := []hostarch.AddrRange{
		{Start: 0x1000, End: 0x2000},
		{Start: 0x3000, End: 0x5000},
	}
	if diff := cmp.Diff(want, mm.Mappings()); diff != "" {
		t.Errorf("Mappings mismatch (-want +got):\n%s", diff)
	}
	if mm.Probe(0x2800) {
		t.Errorf("Probe(0x2800) = true after Unmap")
	}
}

func TestCopyAcrossPages(t *testing.T) {
	mm := testMemoryManager(t, pages(0x1000, 2))
	src := bytes.Repeat([]byte("pintos"), 100)
	addr := hostarch.Addr(0x2000 - 10)
	if n, err := mm.CopyOut(addr, src); n != len(src) || err != nil {
		t.Fatalf("CopyOut = (%d, %v), want (%d, nil)", n, err, len(src))
	}
	dst := make([]byte, len(src))
	if n, err := mm.CopyIn(addr, dst); n != len(dst) || err != nil {
		t.Fatalf("CopyIn = (%d, %v), want (%d, nil)", n, err, len(dst))
	}
	if !bytes.Equal(src, dst) {
		t.Errorf("CopyIn got %q, want %q", dst, src)
	}
}

func TestCopyStopsAtUnmapped(t *testing.T) {
	mm := testMemoryManager(t, pages(0x1000, 1))
	addr := hostarch.Addr(0x2000 - 3)
	n, err := mm.CopyOut(addr, []byte("abcdef"))
	if n != 3 || err != kernerr.EFAULT {
		t.Errorf("CopyOut = (%d, %v), want (3, EFAULT)", n, err)
	}
	dst := make([]byte, 6)
	n, err = mm.CopyIn(addr, dst)
	if n != 3 || err != kernerr.EFAULT {
		t.Errorf("CopyIn = (%d, %v), want (3, EFAULT)", n, err)
	}
	if got, want := string(dst[:n]), "abc"; got != want {
		t.Errorf("CopyIn got %q, want %q", got, want)
	}
}

func TestCopyKernelAddress(t *testing.T) {
	mm := testMemoryManager(t, pages(stackTop-hostarch.PageSize, 1))
	n, err := mm.CopyIn(stackTop-2, make([]byte, 4))
	if n != 2 || err != kernerr.EFAULT {
		t.Errorf("CopyIn across PhysBase = (%d, %v), want (2, EFAULT)", n, err)
	}
}

func TestRelease(t *testing.T) {
	mm := NewMemoryManager()
	if err := mm.Map(pages(0x1000, 1)); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	mm.Release()
	if mm.Probe(0x1000) {
		t.Errorf("Probe after Release = true")
	}
	if err := mm.Map(pages(0x1000, 1)); err != kernerr.ENOMEM {
		t.Errorf("Map after Release = %v, want ENOMEM", err)
	}
}
